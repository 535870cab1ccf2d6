package shopsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	c "github.com/unkn0wn-root/shopsync/codec"
	"github.com/unkn0wn-root/shopsync/internal/wire"
	pr "github.com/unkn0wn-root/shopsync/provider"
	"github.com/unkn0wn-root/shopsync/provider/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recHooks struct {
	mu       sync.Mutex
	heals    map[string]string
	rejected []string
	errs     []string
	swept    int
}

func newRecHooks() *recHooks { return &recHooks{heals: map[string]string{}} }

func (h *recHooks) SelfHeal(k, reason string) {
	h.mu.Lock()
	h.heals[k] = reason
	h.mu.Unlock()
}
func (h *recHooks) ProviderSetRejected(k string) {
	h.mu.Lock()
	h.rejected = append(h.rejected, k)
	h.mu.Unlock()
}
func (h *recHooks) ProviderError(op, k string, _ error) {
	h.mu.Lock()
	h.errs = append(h.errs, op+":"+k)
	h.mu.Unlock()
}
func (h *recHooks) Swept(_ string, n int) {
	h.mu.Lock()
	h.swept += n
	h.mu.Unlock()
}

func (h *recHooks) reason(k string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heals[k]
}

type product struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Price int64             `json:"price"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

func newTestStore[V any](t *testing.T, ns string, p pr.Provider, codec c.Codec[V], optsOpt func(*Options[V])) Store[V] {
	t.Helper()
	opts := Options[V]{
		Namespace:     ns,
		Provider:      p,
		Codec:         codec,
		SweepInterval: -1,
		DeviceKey:     "test-device",
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	s, err := New[V](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func mustImpl[V any](t *testing.T, s Store[V]) *store[V] {
	t.Helper()
	impl, ok := s.(*store[V])
	if !ok {
		t.Fatalf("unexpected concrete type for Store")
	}
	return impl
}

func TestNewValidatesOptions(t *testing.T) {
	p := memory.New(memory.Config{})
	if _, err := New[string](Options[string]{Namespace: "x", Codec: c.String{}}); err == nil {
		t.Fatalf("expected error without provider")
	}
	if _, err := New[string](Options[string]{Namespace: "x", Provider: p}); err == nil {
		t.Fatalf("expected error without codec")
	}
	if _, err := New[string](Options[string]{Provider: p, Codec: c.String{}}); err == nil {
		t.Fatalf("expected error without namespace")
	}
}

// TestRoundTripAllOptionSets: a value reads back right after Set and again
// after the mirror is dropped (read-through from the persisted form only).
func TestRoundTripAllOptionSets(t *testing.T) {
	ctx := context.Background()
	values := []string{
		"",
		"plain",
		"ünïcødé ✓ 日本語",
		strings.Repeat("a", 2000),
		`{"items":[],"total":0}`,
	}
	optionSets := map[string][]SetOption{
		"none":       nil,
		"compress":   {WithCompression(true)},
		"encrypt":    {WithEncryption(true)},
		"both":       {WithCompression(true), WithEncryption(true)},
		"ttl":        {WithTTL(time.Hour)},
		"everything": {WithTTL(time.Minute), WithCompression(true), WithEncryption(true)},
	}
	for name, opts := range optionSets {
		t.Run(name, func(t *testing.T) {
			s := newTestStore[string](t, "rt", memory.New(memory.Config{}), c.String{}, nil)
			for i, v := range values {
				key := string(rune('a' + i))
				if err := s.Set(ctx, key, v, opts...); err != nil {
					t.Fatalf("Set: %v", err)
				}
				if got := s.GetOr(ctx, key, "default"); got != v {
					t.Fatalf("mirror read: got %q want %q", got, v)
				}
				s.Forget(key)
				if got := s.GetOr(ctx, key, "default"); got != v {
					t.Fatalf("read-through: got %q want %q", got, v)
				}
			}
		})
	}
}

func TestStructRoundTripWithCodecs(t *testing.T) {
	ctx := context.Background()
	want := product{ID: "p1", Name: "Mug", Price: 1250, Attrs: map[string]string{"color": "red"}}
	codecs := map[string]c.Codec[product]{
		"json":    c.JSON[product]{},
		"cbor":    c.MustCBOR[product](true),
		"msgpack": c.Msgpack[product]{},
	}
	for name, codec := range codecs {
		s := newTestStore(t, "product", memory.New(memory.Config{}), codec, func(o *Options[product]) {
			o.Encrypt = true
			o.Compress = true
		})
		if err := s.Set(ctx, "p1", want); err != nil {
			t.Fatalf("%s Set: %v", name, err)
		}
		s.Forget("p1")
		got, ok := s.Get(ctx, "p1")
		if !ok || got.ID != want.ID || got.Price != want.Price || got.Attrs["color"] != "red" {
			t.Fatalf("%s Get = %+v, %v", name, got, ok)
		}
	}
}

func TestSetOverwritesMirrorImmediately(t *testing.T) {
	ctx := context.Background()
	s := newTestStore[string](t, "ns", memory.New(memory.Config{}), c.String{}, nil)
	for _, v := range []string{"one", "two", "three"} {
		if err := s.Set(ctx, "k", v); err != nil {
			t.Fatal(err)
		}
		if got, _ := s.Get(ctx, "k"); got != v {
			t.Fatalf("Get after Set = %q want %q", got, v)
		}
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	mp := memory.New(memory.Config{Now: clk.Now})
	hooks := newRecHooks()
	s := newTestStore[string](t, "ttl", mp, c.String{}, func(o *Options[string]) {
		o.Now = clk.Now
		o.Hooks = hooks
	})

	if err := s.Set(ctx, "short", "v", WithTTL(10*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "forever", "v"); err != nil {
		t.Fatal(err)
	}

	clk.Advance(9 * time.Second)
	if !s.Has(ctx, "short") {
		t.Fatalf("entry expired early")
	}

	clk.Advance(time.Second) // now == createdAt + ttl
	if got := s.GetOr(ctx, "short", "default"); got != "default" {
		t.Fatalf("expired entry served: %q", got)
	}
	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "forever" {
		t.Fatalf("Keys after expiry = %v", keys)
	}
}

func TestExpiredEnvelopeIsEvictedEvenIfProviderKeepsIt(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	mp := memory.New(memory.Config{}) // provider TTL uses the real clock, so it never expires here
	hooks := newRecHooks()
	s := newTestStore[string](t, "ttl", mp, c.String{}, func(o *Options[string]) {
		o.Now = clk.Now
		o.Hooks = hooks
	})
	impl := mustImpl(t, s)

	if err := s.Set(ctx, "k", "v", WithTTL(time.Minute)); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	s.Forget("k")
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatalf("expired envelope served")
	}
	if _, ok, _ := mp.Get(ctx, impl.storageKey("k")); ok {
		t.Fatalf("expired envelope was not deleted")
	}
	if r := hooks.reason(impl.storageKey("k")); r != "expired" {
		t.Fatalf("self-heal reason = %q", r)
	}
}

// TestSelfHealOnCorrupt ensures foreign bytes are deleted and missed.
func TestSelfHealOnCorrupt(t *testing.T) {
	ctx := context.Background()
	mp := memory.New(memory.Config{})
	hooks := newRecHooks()
	s := newTestStore(t, "product", mp, c.JSON[product]{}, func(o *Options[product]) { o.Hooks = hooks })
	impl := mustImpl(t, s)

	k := impl.storageKey("bad")
	if ok, err := mp.Set(ctx, k, []byte("not-wire-format"), 1, 0); err != nil || !ok {
		t.Fatalf("inject corrupt: ok=%v err=%v", ok, err)
	}
	if got := s.GetOr(ctx, "bad", product{ID: "default"}); got.ID != "default" {
		t.Fatalf("corrupt entry served: %+v", got)
	}
	if _, ok, _ := mp.Get(ctx, k); ok {
		t.Fatalf("corrupt entry was not deleted by self-heal")
	}
	if hooks.reason(k) != "corrupt" {
		t.Fatalf("reason = %q", hooks.reason(k))
	}

	// valid envelope around a payload the codec cannot decode
	raw := wire.Encode(wire.Entry{Payload: []byte("{not json"), CreatedAt: time.Now()})
	_, _ = mp.Set(ctx, k, raw, 1, 0)
	if _, ok := s.Get(ctx, "bad"); ok {
		t.Fatalf("undecodable value served")
	}
	if hooks.reason(k) != "value_decode" {
		t.Fatalf("reason = %q", hooks.reason(k))
	}

	// compressed flag over bytes that are not valid run-length data
	raw = wire.Encode(wire.Entry{Payload: []byte{0x7f}, CreatedAt: time.Now(), Compressed: true})
	_, _ = mp.Set(ctx, k, raw, 1, 0)
	if _, ok := s.Get(ctx, "bad"); ok {
		t.Fatalf("undecompressable value served")
	}
	if hooks.reason(k) != "decompress" {
		t.Fatalf("reason = %q", hooks.reason(k))
	}
}

func TestOtherDeviceKeyIsTreatedAsCorrupt(t *testing.T) {
	ctx := context.Background()
	mp := memory.New(memory.Config{})
	hooks := newRecHooks()
	a := newTestStore[string](t, "session", mp, c.String{}, func(o *Options[string]) {
		o.Encrypt = true
		o.DeviceKey = "device-a"
	})
	b := newTestStore[string](t, "session", mp, c.String{}, func(o *Options[string]) {
		o.DeviceKey = "device-b"
		o.Hooks = hooks
	})

	if err := a.Set(ctx, "current", "token"); err != nil {
		t.Fatal(err)
	}
	if got := b.GetOr(ctx, "current", "none"); got != "none" {
		t.Fatalf("value sealed under another key was served: %q", got)
	}
	if hooks.reason("session:current") != "deobfuscate" {
		t.Fatalf("reason = %q", hooks.reason("session:current"))
	}
}

func TestEncryptionHidesPlaintext(t *testing.T) {
	ctx := context.Background()
	mp := memory.New(memory.Config{})
	s := newTestStore[string](t, "session", mp, c.String{}, func(o *Options[string]) { o.Encrypt = true })
	if err := s.Set(ctx, "current", "secret-token-value"); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := mp.Get(ctx, "session:current")
	if strings.Contains(string(raw), "secret-token-value") {
		t.Fatalf("plaintext visible in provider bytes")
	}
	e, err := wire.Decode(raw)
	if err != nil || !e.Encrypted {
		t.Fatalf("envelope flags: %+v %v", e, err)
	}
}

func TestCompressionOnlyWhenItShrinks(t *testing.T) {
	ctx := context.Background()
	mp := memory.New(memory.Config{})
	s := newTestStore[string](t, "c", mp, c.String{}, func(o *Options[string]) { o.Compress = true })

	_ = s.Set(ctx, "runs", strings.Repeat("x", 400))
	_ = s.Set(ctx, "short", "abc")

	raw, _, _ := mp.Get(ctx, "c:runs")
	if e, _ := wire.Decode(raw); !e.Compressed || len(e.Payload) >= 400 {
		t.Fatalf("repetitive payload not compressed: compressed=%v len=%d", e.Compressed, len(e.Payload))
	}
	raw, _, _ = mp.Get(ctx, "c:short")
	if e, _ := wire.Decode(raw); e.Compressed {
		t.Fatalf("incompressible payload flagged compressed")
	}
}

func TestStorageFullDegrades(t *testing.T) {
	ctx := context.Background()
	mp := memory.New(memory.Config{CapacityBytes: 64})
	hooks := newRecHooks()
	s := newTestStore[string](t, "full", mp, c.String{}, func(o *Options[string]) { o.Hooks = hooks })

	if err := s.Set(ctx, "small", "ok"); err != nil {
		t.Fatalf("small Set: %v", err)
	}
	err := s.Set(ctx, "big", strings.Repeat("z", 500))
	if !errors.Is(err, ErrStorageFull) {
		t.Fatalf("expected ErrStorageFull, got %v", err)
	}
	var we *WriteError
	if !errors.As(err, &we) || we.Key != "big" || we.Op != "set" {
		t.Fatalf("expected *WriteError for big, got %#v", err)
	}
	if got := s.GetOr(ctx, "big", "default"); got != "default" {
		t.Fatalf("rejected value served: %q", got)
	}
	if got := s.GetOr(ctx, "small", "default"); got != "ok" {
		t.Fatalf("existing value lost: %q", got)
	}
	if len(hooks.rejected) != 1 {
		t.Fatalf("rejected hook calls = %v", hooks.rejected)
	}
}

// failing provider simulates storage being unavailable.
type failingProvider struct{ err error }

func (p failingProvider) Get(context.Context, string) ([]byte, bool, error) { return nil, false, p.err }
func (p failingProvider) Set(context.Context, string, []byte, int64, time.Duration) (bool, error) {
	return false, p.err
}
func (p failingProvider) Del(context.Context, string) error { return p.err }
func (p failingProvider) Close(context.Context) error { return nil }
func (p failingProvider) Keys(context.Context, string) ([]string, error) { return nil, p.err }

func TestProviderUnavailableNeverPanics(t *testing.T) {
	ctx := context.Background()
	hooks := newRecHooks()
	s := newTestStore[string](t, "down", failingProvider{err: pr.ErrUnavailable}, c.String{}, func(o *Options[string]) {
		o.Hooks = hooks
	})

	if err := s.Set(ctx, "k", "v"); !errors.Is(err, pr.ErrUnavailable) {
		t.Fatalf("Set error = %v", err)
	}
	if got := s.GetOr(ctx, "k", "default"); got != "default" {
		t.Fatalf("GetOr = %q", got)
	}
	if s.Has(ctx, "k") {
		t.Fatalf("Has reported true on unavailable storage")
	}
	if err := s.Remove(ctx, "k"); err == nil {
		t.Fatalf("Remove should report provider failure")
	}
	if _, err := s.Sweep(ctx); err == nil {
		t.Fatalf("Sweep should report listing failure")
	}
	if len(hooks.errs) == 0 {
		t.Fatalf("provider errors not reported to hooks")
	}
}

func TestSweepEvictsExpiredAndCorrupt(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	mp := memory.New(memory.Config{})
	hooks := newRecHooks()
	s := newTestStore[string](t, "sw", mp, c.String{}, func(o *Options[string]) {
		o.Now = clk.Now
		o.Hooks = hooks
	})

	_ = s.Set(ctx, "a", "1", WithTTL(time.Second))
	_ = s.Set(ctx, "b", "2", WithTTL(time.Hour))
	_ = s.Set(ctx, "c", "3")
	_, _ = mp.Set(ctx, "sw:junk", []byte("garbage"), 0, 0)
	_, _ = mp.Set(ctx, "other:x", []byte("garbage"), 0, 0) // other namespace is untouched

	clk.Advance(2 * time.Second)
	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("Sweep evicted %d, want 2", n)
	}
	if hooks.swept != 2 {
		t.Fatalf("Swept hook total = %d", hooks.swept)
	}
	if _, ok, _ := mp.Get(ctx, "other:x"); !ok {
		t.Fatalf("sweep touched another namespace")
	}
	keys, _ := s.Keys(ctx)
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Fatalf("Keys after sweep = %v", keys)
	}
}

// noScan hides the memory provider's Scanner.
type noScan struct{ pr.Provider }

func TestSweepWithoutScannerUsesWrittenKeys(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s := newTestStore[string](t, "ns", noScan{memory.New(memory.Config{})}, c.String{}, func(o *Options[string]) {
		o.Now = clk.Now
	})

	_ = s.Set(ctx, "old", "1", WithTTL(time.Second))
	_ = s.Set(ctx, "new", "2")
	clk.Advance(time.Second)

	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	keys, _ := s.Keys(ctx)
	if len(keys) != 1 || keys[0] != "new" {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestClearRemovesOnlyNamespace(t *testing.T) {
	ctx := context.Background()
	mp := memory.New(memory.Config{})
	cartStore := newTestStore[string](t, "cart", mp, c.String{}, nil)
	sessStore := newTestStore[string](t, "session", mp, c.String{}, nil)

	_ = cartStore.Set(ctx, "local", "items")
	_ = cartStore.Set(ctx, "meta", "m")
	_ = sessStore.Set(ctx, "current", "tok")

	n, err := cartStore.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	if cartStore.Has(ctx, "local") {
		t.Fatalf("mirror still serves cleared key")
	}
	if !sessStore.Has(ctx, "current") {
		t.Fatalf("Clear leaked into another namespace")
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore[string](t, "ns", memory.New(memory.Config{}), c.String{}, nil)
	_ = s.Set(ctx, "k", "v")
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if s.Has(ctx, "k") {
		t.Fatalf("removed key still present")
	}
	if err := s.Remove(ctx, "missing"); err != nil {
		t.Fatalf("removing a missing key must succeed: %v", err)
	}
}

func TestDisabledStoreIsNoop(t *testing.T) {
	ctx := context.Background()
	mp := memory.New(memory.Config{})
	s := newTestStore[string](t, "off", mp, c.String{}, func(o *Options[string]) { o.Disabled = true })
	if s.Enabled() {
		t.Fatalf("Enabled() = true")
	}
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if s.Has(ctx, "k") {
		t.Fatalf("disabled store served a value")
	}
	if mp.Size() != 0 {
		t.Fatalf("disabled store wrote to provider")
	}
}

func TestConcurrentSetGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore[string](t, "conc", memory.New(memory.Config{}), c.String{}, func(o *Options[string]) {
		o.Compress = true
		o.Encrypt = true
	})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := string(rune('a' + w))
			for i := 0; i < 100; i++ {
				v := strings.Repeat(key, i+1)
				if err := s.Set(ctx, key, v); err != nil {
					t.Errorf("Set: %v", err)
					return
				}
				if got, _ := s.Get(ctx, key); got != v {
					t.Errorf("Get after Set = %q want %q", got, v)
					return
				}
				if i%10 == 0 {
					s.Forget(key)
					_, _ = s.Sweep(ctx)
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestCloseRunsFinalSweep(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	mp := memory.New(memory.Config{})
	s, err := New[string](Options[string]{
		Namespace: "ns", Provider: mp, Codec: c.String{}, Now: clk.Now, DeviceKey: "d",
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Set(ctx, "k", "v", WithTTL(time.Second))
	clk.Advance(time.Second)
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := mp.Get(ctx, "ns:k"); ok {
		t.Fatalf("Close did not sweep expired entry")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestClearErrorUnwrap(t *testing.T) {
	e1, e2 := errors.New("a"), errors.New("b")
	err := &ClearError{Namespace: "cart", Keys: []string{"cart:x", "cart:y"}, Errs: []error{e1, e2}}
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("ClearError must unwrap to each cause")
	}
	if !strings.Contains(err.Error(), "2 deletes failed") {
		t.Fatalf("Error() = %q", err.Error())
	}
}
