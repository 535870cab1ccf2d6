// Package client is the request pipeline to the shop API: bearer auth,
// per-attempt timeouts, linear-backoff retries of transient failures and a
// single shared token refresh when concurrent calls hit 401.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/shopsync"
	"github.com/unkn0wn-root/shopsync/session"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultRefreshPath = "/auth/refresh"
	maxBodyBytes       = 4 << 20
)

// Sessions is the session state the pipeline reads and updates.
type Sessions interface {
	Current(ctx context.Context) (session.Session, bool)
	Replace(ctx context.Context, s session.Session) error
	Clear(ctx context.Context, reason string) error
}

// Executor runs a Request. *Client implements it.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

type Config struct {
	BaseURL     string // required, e.g. "https://shop.example.com/api"
	HTTPClient  *http.Client
	Timeout     time.Duration // per attempt; 0 => 30s
	MaxAttempts int           // 0 => 3
	BaseDelay   time.Duration // retry n waits BaseDelay*n; 0 => 500ms
	UserAgent   string
	DeviceID    string // sent as X-Device-ID when set
	RefreshPath string // "" => "/auth/refresh"
	Sessions    Sessions
	Logger      shopsync.Logger
}

type Client struct {
	base        string
	http        *http.Client
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	userAgent   string
	deviceID    string
	refreshPath string
	sessions    Sessions
	log         shopsync.Logger

	refreshes singleflight.Group
	// refreshCalls counts refresh requests sent; read by tests and metrics.
	refreshCalls atomic.Int64
}

var _ Executor = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: BaseURL is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("client: Sessions is required")
	}
	c := &Client{
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		http:        cfg.HTTPClient,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		userAgent:   cfg.UserAgent,
		deviceID:    cfg.DeviceID,
		refreshPath: cfg.RefreshPath,
		sessions:    cfg.Sessions,
		log:         cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.userAgent == "" {
		c.userAgent = "shopsync/1"
	}
	if c.refreshPath == "" {
		c.refreshPath = defaultRefreshPath
	}
	if c.log == nil {
		c.log = shopsync.NopLogger{}
	}
	return c, nil
}

// RefreshCalls reports how many refresh requests this client has sent.
func (c *Client) RefreshCalls() int64 { return c.refreshCalls.Load() }

// Execute sends req, retrying transient failures and refreshing the session
// once on 401.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	req.Method = strings.ToUpper(req.Method)
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	path, err := expandPath(req.Path, req.PathParams)
	if err != nil {
		return nil, &ValidationError{HTTPError: &HTTPError{Method: req.Method, Path: req.Path, Message: err.Error()}}
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, &ValidationError{HTTPError: &HTTPError{Method: req.Method, Path: path, Message: "encode body: " + err.Error()}}
	}
	call := &call{req: req, path: path, body: body, requestID: newRequestID()}

	var token string
	if !req.NoAuth {
		token = c.token(ctx)
	}
	resp, err := c.send(ctx, call, token)

	var unauth *unauthorized
	if !errors.As(err, &unauth) {
		return resp, err
	}
	if req.NoAuth {
		return nil, &AuthError{Status: unauth.http.Status, Message: unauth.http.Message, Cause: unauth.http}
	}

	fresh, err := c.refreshAfter(ctx, token)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(ctx, call, fresh)
	if errors.As(err, &unauth) {
		// no second refresh for the same call
		return nil, &AuthError{Status: unauth.http.Status, Message: unauth.http.Message, Cause: unauth.http}
	}
	return resp, err
}

type call struct {
	req       Request
	path      string
	body      []byte
	requestID string
}

// linearBackOff waits base*n before retry n.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// send runs the attempt loop for one token.
func (c *Client) send(ctx context.Context, cl *call, token string) (*Response, error) {
	tries := 1
	if cl.req.retryable() {
		tries = c.maxAttempts
	}
	attempts := 0
	op := func() (*Response, error) {
		attempts++
		resp, err := c.attempt(ctx, cl, token)
		if err == nil {
			return resp, nil
		}
		var tr *transient
		if errors.As(err, &tr) && ctx.Err() == nil {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("transient failure, retrying", shopsync.Fields{
			"method": cl.req.Method, "path": cl.path, "request_id": cl.requestID,
			"attempt": attempts, "wait": wait.String(), "err": err,
		})
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&linearBackOff{base: c.baseDelay}),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0), // bounded by MaxTries and ctx only
		backoff.WithNotify(notify),
	)
	if err == nil {
		return resp, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	var tr *transient
	transientErr := errors.As(err, &tr)
	if ctxErr := ctx.Err(); ctxErr != nil && (transientErr || errors.Is(err, ctxErr)) {
		return nil, &NetworkError{Method: cl.req.Method, Path: cl.path, Attempts: attempts, Err: ctxErr}
	}
	if transientErr {
		return nil, &NetworkError{Method: cl.req.Method, Path: cl.path, Attempts: attempts, Err: tr.err}
	}
	return nil, err
}

// attempt is one HTTP exchange under its own timeout.
func (c *Client) attempt(ctx context.Context, cl *call, token string) (*Response, error) {
	timeout := cl.req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.base + cl.path
	if len(cl.req.Query) > 0 {
		u += "?" + cl.req.Query.Encode()
	}
	var rd io.Reader
	if cl.body != nil {
		rd = bytes.NewReader(cl.body)
	}
	hreq, err := http.NewRequestWithContext(actx, cl.req.Method, u, rd)
	if err != nil {
		return nil, &ValidationError{HTTPError: &HTTPError{Method: cl.req.Method, Path: cl.path, Message: err.Error()}}
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("User-Agent", c.userAgent)
	hreq.Header.Set("X-Request-ID", cl.requestID)
	if c.deviceID != "" {
		hreq.Header.Set("X-Device-ID", c.deviceID)
	}
	if cl.body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range cl.req.Headers {
		hreq.Header.Del(k)
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	start := time.Now()
	hresp, err := c.http.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// connection failures and the per-attempt timeout
		return nil, &transient{err: err}
	}
	defer hresp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transient{err: fmt.Errorf("read body: %w", err)}
	}

	resp := normalize(hresp.StatusCode, hresp.Header, raw)
	resp.RequestID = cl.requestID
	c.log.Debug("api call", shopsync.Fields{
		"method": cl.req.Method, "path": cl.path, "status": resp.Status,
		"request_id": cl.requestID, "took": time.Since(start).String(),
	})
	if hresp.StatusCode >= 200 && hresp.StatusCode < 300 {
		return resp, nil
	}

	herr := &HTTPError{
		Method:    cl.req.Method,
		Path:      cl.path,
		RequestID: cl.requestID,
		Status:    resp.Status,
		Message:   resp.Message,
		Data:      resp.Data,
		Errors:    resp.Errors,
	}
	switch s := hresp.StatusCode; {
	case s == http.StatusUnauthorized:
		return nil, &unauthorized{http: herr}
	case s == http.StatusInternalServerError, s == http.StatusBadGateway,
		s == http.StatusServiceUnavailable, s == http.StatusGatewayTimeout:
		return nil, &transient{err: herr}
	case s >= 400 && s < 500:
		return nil, &ValidationError{HTTPError: herr}
	default:
		return nil, herr
	}
}

func newRequestID() string { return uuid.NewString() }

func (c *Client) token(ctx context.Context) string {
	s, ok := c.sessions.Current(ctx)
	if !ok {
		return ""
	}
	return s.Token
}
