// Package app wires storage, session, request pipeline and cart into one
// root object. The UI talks to an *App and subscribes to its Bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/shopsync"
	"github.com/unkn0wn-root/shopsync/cart"
	"github.com/unkn0wn-root/shopsync/client"
	"github.com/unkn0wn-root/shopsync/codec"
	"github.com/unkn0wn-root/shopsync/config"
	"github.com/unkn0wn-root/shopsync/events"
	"github.com/unkn0wn-root/shopsync/genstore"
	asynchook "github.com/unkn0wn-root/shopsync/hooks/async"
	logruslog "github.com/unkn0wn-root/shopsync/log/logrus"
	sloglog "github.com/unkn0wn-root/shopsync/log/slog"
	zaplog "github.com/unkn0wn-root/shopsync/log/zap"
	pr "github.com/unkn0wn-root/shopsync/provider"
	"github.com/unkn0wn-root/shopsync/provider/bigcache"
	"github.com/unkn0wn-root/shopsync/provider/memory"
	"github.com/unkn0wn-root/shopsync/provider/redis"
	"github.com/unkn0wn-root/shopsync/provider/ristretto"
	"github.com/unkn0wn-root/shopsync/provider/sqlite"
	"github.com/unkn0wn-root/shopsync/session"
	"github.com/unkn0wn-root/shopsync/sloghooks"
)

// Store namespaces owned by App.
const (
	PrefsNamespace  = "prefs"
	DeviceNamespace = "device"
)

const deviceIDKey = "id"

// maxCartBytes bounds a decoded guest cart payload.
const maxCartBytes = 1 << 20

type App struct {
	log      shopsync.Logger
	bus      *events.Bus
	sessions *session.Store
	client   *client.Client
	auth     *client.AuthService
	cart     *cart.Reconciler
	prefs    shopsync.Store[*structpb.Struct]
	deviceID string

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// Option adjusts New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     shopsync.Logger
}

// WithHTTPClient sets the transport used by the request pipeline.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger replaces the logger built from cfg.Log.
func WithLogger(l shopsync.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New opens storage and builds every component. On error, whatever was
// already opened is closed again.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.log = o.logger
	if a.log == nil {
		if a.log, err = newLogger(cfg.Log); err != nil {
			return nil, err
		}
		if z, ok := a.log.(zaplog.ZapLogger); ok {
			a.onClose(func(context.Context) error { _ = z.Sync(); return nil })
		}
	}

	hooks := asynchook.New(sloghooks.New(sloglog.New(cfg.Log.Level).L, sloghooks.Options{
		SelfHealEvery:      10,
		ProviderErrorEvery: 10,
	}), 1, 1024)
	a.onClose(func(context.Context) error { hooks.Close(); return nil })

	p, rdb, err := openProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.onClose(p.Close)

	var gens genstore.GenStore = genstore.NewLocal()
	if rdb != nil {
		gens = genstore.NewRedis(rdb, "shopsync", false)
		a.onClose(func(context.Context) error { return rdb.Close() })
	}
	a.onClose(gens.Close)

	a.bus = events.New(a.log)

	sessionKV, err := shopsync.New[session.Session](storeOptions(cfg.Storage, session.Namespace, p, codec.JSON[session.Session]{}, a.log, hooks, true))
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.onClose(sessionKV.Close)

	cartCodec, err := codec.ByName[cart.Cart](cfg.Storage.Codec)
	if err != nil {
		return nil, err
	}
	cartKV, err := shopsync.New[cart.Cart](storeOptions(cfg.Storage, cart.Namespace, p,
		codec.LimitCodec[cart.Cart]{Inner: cartCodec, MaxDecode: maxCartBytes}, a.log, hooks, cfg.Storage.Encrypt))
	if err != nil {
		return nil, fmt.Errorf("cart store: %w", err)
	}
	a.onClose(cartKV.Close)

	prefsCodec := codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })
	if a.prefs, err = shopsync.New[*structpb.Struct](storeOptions(cfg.Storage, PrefsNamespace, p, prefsCodec, a.log, hooks, cfg.Storage.Encrypt)); err != nil {
		return nil, fmt.Errorf("prefs store: %w", err)
	}
	a.onClose(a.prefs.Close)

	deviceKV, err := shopsync.New[string](storeOptions(cfg.Storage, DeviceNamespace, p, codec.String{}, a.log, hooks, false))
	if err != nil {
		return nil, fmt.Errorf("device store: %w", err)
	}
	a.onClose(deviceKV.Close)
	if a.deviceID, err = loadDeviceID(ctx, deviceKV); err != nil {
		return nil, err
	}

	if a.sessions, err = session.New(session.Options{KV: sessionKV, Gens: gens, Bus: a.bus, Logger: a.log}); err != nil {
		return nil, err
	}

	a.client, err = client.New(client.Config{
		BaseURL:     cfg.BaseURL,
		HTTPClient:  o.httpClient,
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		UserAgent:   cfg.UserAgent,
		DeviceID:    a.deviceID,
		RefreshPath: cfg.RefreshPath,
		Sessions:    a.sessions,
		Logger:      a.log,
	})
	if err != nil {
		return nil, err
	}
	a.auth = client.NewAuthService(a.client, a.sessions)

	local, err := cart.NewStore(cartKV, a.log)
	if err != nil {
		return nil, err
	}
	a.cart, err = cart.NewReconciler(cart.Options{
		Local:  local,
		Remote: cart.NewService(a.client),
		Auth:   a.sessions,
		Bus:    a.bus,
		Logger: a.log,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { a.cart.Close(); return nil })

	a.log.Info("shopsync ready", shopsync.Fields{
		"storage": cfg.Storage.Backend, "codec": cfg.Storage.Codec, "base_url": cfg.BaseURL,
	})
	return a, nil
}

func (a *App) onClose(fn func(context.Context) error) { a.closers = append(a.closers, fn) }

func (a *App) Logger() shopsync.Logger                       { return a.log }
func (a *App) Bus() *events.Bus                              { return a.bus }
func (a *App) Sessions() *session.Store                      { return a.sessions }
func (a *App) Client() *client.Client                        { return a.client }
func (a *App) Auth() *client.AuthService                     { return a.auth }
func (a *App) Cart() *cart.Reconciler                        { return a.cart }
func (a *App) Preferences() shopsync.Store[*structpb.Struct] { return a.prefs }

// DeviceID identifies this install to the API. It is created on first start
// and persisted.
func (a *App) DeviceID() string { return a.deviceID }

// Login signs in and merges the guest cart. A failed merge does not undo the
// login: the session is returned together with the merge error, the guest
// cart stays active and Cart().ReconcileOnLogin can be retried.
func (a *App) Login(ctx context.Context, email, password string) (session.Session, cart.Cart, error) {
	s, epoch, err := a.auth.Login(ctx, client.Credentials{Email: email, Password: password})
	if err != nil {
		return session.Session{}, a.cart.ActiveCart(ctx), err
	}
	a.log.Debug("logged in; merging guest cart", shopsync.Fields{"epoch": epoch})
	c, err := a.cart.ReconcileOnLogin(ctx)
	return s, c, err
}

// Logout ends the session and returns the cart to local mode, even when the
// server call fails.
func (a *App) Logout(ctx context.Context) error {
	err := a.auth.Logout(ctx)
	a.cart.Reset(ctx)
	return err
}

// Close releases everything New opened. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadDeviceID(ctx context.Context, kv shopsync.Store[string]) (string, error) {
	if id, ok := kv.Get(ctx, deviceIDKey); ok && id != "" {
		return id, nil
	}
	id := uuid.NewString()
	if err := kv.Set(ctx, deviceIDKey, id); err != nil && !errors.Is(err, shopsync.ErrStorageFull) {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

func newLogger(cfg config.Log) (shopsync.Logger, error) {
	switch cfg.Backend {
	case config.LogLogrus:
		return logruslog.New(cfg.Level)
	case config.LogSlog:
		return sloglog.New(cfg.Level), nil
	default:
		return zaplog.New(cfg.Level)
	}
}

// openProvider builds the configured byte store. rdb is non-nil only for the
// redis backend, where it is shared with the epoch counters.
func openProvider(ctx context.Context, s config.Storage) (p pr.Provider, rdb goredis.UniversalClient, err error) {
	switch s.Backend {
	case config.BackendSQLite:
		p, err = sqlite.Open(sqlite.Config{Path: s.SQLitePath, CapacityBytes: s.CapacityBytes})
	case config.BackendRedis:
		rdb = goredis.NewClient(&goredis.Options{Addr: s.RedisAddr, DB: s.RedisDB, Password: s.RedisPassword})
		if err = rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w: %v", s.RedisAddr, pr.ErrUnavailable, err)
		}
		p, err = redis.New(redis.Config{Client: rdb})
	case config.BackendBigcache:
		p, err = bigcache.New(ctx, bigcache.Config{HardMaxCacheSizeMB: int(s.CapacityBytes >> 20)})
	case config.BackendRistretto:
		maxCost := s.CapacityBytes
		if maxCost <= 0 {
			maxCost = 64 << 20
		}
		p, err = ristretto.New(ristretto.Config{MaxCost: maxCost})
	default:
		p = memory.New(memory.Config{CapacityBytes: s.CapacityBytes})
	}
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, nil, fmt.Errorf("open %s storage: %w", s.Backend, err)
	}
	return p, rdb, nil
}

func storeOptions[V any](s config.Storage, ns string, p pr.Provider, c codec.Codec[V], log shopsync.Logger, hooks shopsync.Hooks, encrypt bool) shopsync.Options[V] {
	return shopsync.Options[V]{
		Namespace:     ns,
		Provider:      p,
		Codec:         c,
		Logger:        log,
		Hooks:         hooks,
		SweepInterval: s.SweepInterval,
		Compress:      s.Compress,
		Encrypt:       encrypt,
		DeviceKey:     s.DeviceKey,
	}
}
