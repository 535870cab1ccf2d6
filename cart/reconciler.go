package cart

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/shopsync"
	"github.com/unkn0wn-root/shopsync/events"
	"github.com/unkn0wn-root/shopsync/session"
)

type Mode int

const (
	ModeLocal Mode = iota
	ModeServer
)

func (m Mode) String() string {
	if m == ModeServer {
		return "server"
	}
	return "local"
}

// ChangedEvent is the cart:changed payload.
type ChangedEvent struct {
	Cart Cart
	Mode Mode
}

// Auth reports the login state the reconciler follows.
type Auth interface {
	Authenticated(ctx context.Context) bool
	Epoch(ctx context.Context) uint64
}

type Options struct {
	Local  *Store // required
	Remote Remote // required
	Auth   Auth   // required
	Bus    *events.Bus
	Logger shopsync.Logger
	NewID  func() string // default uuid.NewString
}

// Reconciler owns the active cart. Before login, and until the guest cart has
// been merged for the current login epoch, every mutation acts on the local
// cart. Afterwards the server cart is the only source of truth.
type Reconciler struct {
	local  *Store
	remote Remote
	auth   Auth
	bus    *events.Bus
	log    shopsync.Logger
	newID  func() string

	// opMu serializes mutations and the merge loop.
	opMu     sync.Mutex
	merges   singleflight.Group
	txn      string
	txnEpoch uint64

	// stateMu guards the server-mode state read by ActiveCart and Mode.
	stateMu   sync.RWMutex
	server    *Cart
	mergedFor uint64 // epoch whose merge completed; 0 = none

	unsubscribe func()
}

func NewReconciler(opts Options) (*Reconciler, error) {
	if opts.Local == nil || opts.Remote == nil || opts.Auth == nil {
		return nil, fmt.Errorf("cart: Local, Remote and Auth are required")
	}
	r := &Reconciler{
		local:  opts.Local,
		remote: opts.Remote,
		auth:   opts.Auth,
		bus:    opts.Bus,
		log:    opts.Logger,
		newID:  opts.NewID,
	}
	if r.log == nil {
		r.log = shopsync.NopLogger{}
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.bus != nil {
		r.unsubscribe = r.bus.Subscribe(events.SessionExpired, func(events.Event) {
			r.Reset(context.Background())
		})
	}
	return r, nil
}

// Close detaches the reconciler from the event bus.
func (r *Reconciler) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// Mode reports which cart is active. It never calls the network.
func (r *Reconciler) Mode(ctx context.Context) Mode {
	if _, ok := r.serverEpoch(ctx); ok {
		return ModeServer
	}
	return ModeLocal
}

// ActiveCart returns the server cart in server mode, else the guest cart.
// It never calls the network.
func (r *Reconciler) ActiveCart(ctx context.Context) Cart {
	if _, ok := r.serverEpoch(ctx); ok {
		r.stateMu.RLock()
		defer r.stateMu.RUnlock()
		return r.server.Clone()
	}
	return r.local.Load(ctx)
}

// LocalCart returns the guest cart regardless of mode.
func (r *Reconciler) LocalCart(ctx context.Context) Cart { return r.local.Load(ctx) }

func (r *Reconciler) Add(ctx context.Context, p Product, qty int, variant string) (Cart, error) {
	if qty <= 0 {
		return r.ActiveCart(ctx), ErrInvalidQuantity
	}
	if p.ID == "" {
		return r.ActiveCart(ctx), ErrInvalidProduct
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if epoch, ok := r.serverEpoch(ctx); ok {
		c, err := r.remote.AddItem(ctx, AddItem{ProductID: p.ID, Variant: variant, Quantity: qty}, "")
		return r.applyServer(ctx, epoch, c, err)
	}
	c := r.local.Load(ctx)
	c.add(p, qty, variant, r.newID)
	return r.saveLocal(ctx, c), nil
}

// UpdateQuantity sets an item's quantity; qty <= 0 removes the item.
func (r *Reconciler) UpdateQuantity(ctx context.Context, itemID string, qty int) (Cart, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if epoch, ok := r.serverEpoch(ctx); ok {
		if !r.serverHas(itemID) {
			return r.ActiveCart(ctx), ErrItemNotFound
		}
		var c Cart
		var err error
		if qty <= 0 {
			c, err = r.remote.RemoveItem(ctx, itemID)
		} else {
			c, err = r.remote.UpdateItem(ctx, itemID, qty)
		}
		return r.applyServer(ctx, epoch, c, err)
	}
	c := r.local.Load(ctx)
	i := c.Find(itemID)
	if i < 0 {
		return c, ErrItemNotFound
	}
	if qty <= 0 {
		c.remove(i)
	} else {
		c.Items[i].Quantity = qty
		c.Recalculate()
	}
	return r.saveLocal(ctx, c), nil
}

func (r *Reconciler) Remove(ctx context.Context, itemID string) (Cart, error) {
	return r.UpdateQuantity(ctx, itemID, 0)
}

func (r *Reconciler) Clear(ctx context.Context) (Cart, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if epoch, ok := r.serverEpoch(ctx); ok {
		c, err := r.remote.Clear(ctx)
		return r.applyServer(ctx, epoch, c, err)
	}
	if err := r.local.Reset(ctx); err != nil {
		r.log.Warn("guest cart reset failed", shopsync.Fields{"err": err})
	}
	c := Cart{}
	r.publish(c, ModeLocal)
	return c, nil
}

// Refresh re-fetches the server cart in server mode. In local mode it
// returns the guest cart without network calls.
func (r *Reconciler) Refresh(ctx context.Context) (Cart, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	epoch, ok := r.serverEpoch(ctx)
	if !ok {
		return r.local.Load(ctx), nil
	}
	c, err := r.remote.Get(ctx)
	return r.applyServer(ctx, epoch, c, err)
}

// Reset drops the server cart and returns to local mode. It runs on
// session:expired and on logout.
func (r *Reconciler) Reset(ctx context.Context) {
	r.stateMu.Lock()
	wasServer := r.server != nil
	r.server = nil
	r.mergedFor = 0
	r.stateMu.Unlock()
	if wasServer {
		r.publish(r.local.Load(ctx), ModeLocal)
	}
}

// ReconcileOnLogin merges the guest cart into the server cart once per login
// epoch. Concurrent calls share one run. On failure the guest cart stays
// active and a later call resumes the merge.
func (r *Reconciler) ReconcileOnLogin(ctx context.Context) (Cart, error) {
	if !r.auth.Authenticated(ctx) {
		return r.ActiveCart(ctx), ErrNotAuthenticated
	}
	epoch := r.auth.Epoch(ctx)
	v, err, _ := r.merges.Do(strconv.FormatUint(epoch, 10), func() (any, error) {
		return r.reconcile(ctx, epoch)
	})
	c := v.(Cart)
	return c.Clone(), err
}

func (r *Reconciler) reconcile(ctx context.Context, epoch uint64) (Cart, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if _, ok := r.serverEpoch(ctx); ok {
		return r.ActiveCart(ctx), nil
	}
	if r.txnEpoch != epoch {
		r.txn, r.txnEpoch = r.newID(), epoch
	}

	server, err := r.remote.Get(ctx)
	if err != nil {
		return r.local.Load(ctx), fmt.Errorf("cart: fetch server cart: %w", err)
	}

	local := r.local.Load(ctx)
	merged := 0
	for i := range local.Items {
		it := &local.Items[i]
		delta := it.Quantity - it.MergedQty
		if delta <= 0 {
			merged++
			continue
		}
		if r.auth.Epoch(ctx) != epoch {
			return local, ErrLoginChanged
		}
		key := r.txn + ":" + it.ID
		if it.MergedQty > 0 {
			// quantity grew after a partial merge; the new remainder is a new add
			key += ":" + strconv.Itoa(it.MergedQty)
		}
		c, err := r.remote.AddItem(ctx, AddItem{ProductID: it.ProductID, Variant: it.Variant, Quantity: delta}, key)
		if err != nil {
			r.log.Warn("cart merge stopped", shopsync.Fields{
				"product_id": it.ProductID, "merged": merged, "err": err,
			})
			return local, &PartialFailureError{Merged: merged, Remaining: len(local.Items) - merged, Item: *it, Err: err}
		}
		server = c
		it.MergedQty = it.Quantity
		merged++
		if err := r.local.Save(ctx, local); err != nil {
			r.log.Warn("merge marker not persisted", shopsync.Fields{"product_id": it.ProductID, "err": err})
		}
	}

	if err := r.local.Reset(ctx); err != nil {
		r.log.Warn("guest cart not cleared after merge", shopsync.Fields{"err": err})
	}
	if fresh, err := r.remote.Get(ctx); err != nil {
		r.log.Warn("re-fetch after merge failed; using last reply", shopsync.Fields{"err": err})
	} else {
		server = fresh
	}

	r.stateMu.Lock()
	if r.auth.Epoch(ctx) != epoch {
		r.stateMu.Unlock()
		return r.local.Load(ctx), ErrLoginChanged
	}
	r.server = &server
	r.mergedFor = epoch
	r.txn = ""
	r.stateMu.Unlock()

	r.log.Info("guest cart merged", shopsync.Fields{"items": merged, "epoch": epoch})
	r.publish(server, ModeServer)
	return server.Clone(), nil
}

// serverEpoch reports whether server mode is active and for which epoch.
func (r *Reconciler) serverEpoch(ctx context.Context) (uint64, bool) {
	if !r.auth.Authenticated(ctx) {
		return 0, false
	}
	epoch := r.auth.Epoch(ctx)
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return epoch, r.server != nil && r.mergedFor != 0 && r.mergedFor == epoch
}

func (r *Reconciler) serverHas(itemID string) bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.server != nil && r.server.Find(itemID) >= 0
}

// applyServer installs a server reply unless the login changed since the
// request was sent.
func (r *Reconciler) applyServer(ctx context.Context, epoch uint64, c Cart, err error) (Cart, error) {
	if err != nil {
		return r.ActiveCart(ctx), err
	}
	r.stateMu.Lock()
	if r.auth.Epoch(ctx) != epoch || r.mergedFor != epoch {
		r.stateMu.Unlock()
		r.log.Debug("discarding cart reply from a previous login", shopsync.Fields{"epoch": epoch})
		return r.ActiveCart(ctx), ErrLoginChanged
	}
	r.server = &c
	r.stateMu.Unlock()
	r.publish(c, ModeServer)
	return c.Clone(), nil
}

func (r *Reconciler) saveLocal(ctx context.Context, c Cart) Cart {
	_ = r.local.Save(ctx, c) // logged by Store; the cart is kept in memory
	r.publish(c, ModeLocal)
	return c
}

func (r *Reconciler) publish(c Cart, m Mode) {
	if r.bus != nil {
		r.bus.Publish(events.CartChanged, ChangedEvent{Cart: c.Clone(), Mode: m})
	}
}

var _ Auth = (*session.Store)(nil)
