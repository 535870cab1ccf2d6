package memory

import (
	"context"
	"testing"
	"time"
)

func TestCapacityRejectsWrites(t *testing.T) {
	ctx := context.Background()
	p := New(Config{CapacityBytes: 10})

	if ok, err := p.Set(ctx, "a", []byte("1234"), 0, 0); err != nil || !ok {
		t.Fatalf("first Set: ok=%v err=%v", ok, err)
	}
	if ok, _ := p.Set(ctx, "b", []byte("123456"), 0, 0); ok {
		t.Fatalf("write beyond capacity accepted")
	}
	// overwriting the same key only counts the delta
	if ok, _ := p.Set(ctx, "a", []byte("12345678"), 0, 0); !ok {
		t.Fatalf("overwrite within capacity rejected")
	}
	if p.Size() != 9 {
		t.Fatalf("Size = %d, want 9", p.Size())
	}
	_ = p.Del(ctx, "a")
	if p.Size() != 0 {
		t.Fatalf("Size after Del = %d", p.Size())
	}
}

func TestTTLAndKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	p := New(Config{Now: func() time.Time { return now }})

	_, _ = p.Set(ctx, "ns:a", []byte("x"), 0, time.Second)
	_, _ = p.Set(ctx, "ns:b", []byte("y"), 0, 0)
	_, _ = p.Set(ctx, "other:c", []byte("z"), 0, 0)

	keys, _ := p.Keys(ctx, "ns:")
	if len(keys) != 2 || keys[0] != "ns:a" || keys[1] != "ns:b" {
		t.Fatalf("Keys = %v", keys)
	}

	now = now.Add(time.Second)
	if _, ok, _ := p.Get(ctx, "ns:a"); ok {
		t.Fatalf("expired key returned")
	}
	keys, _ = p.Keys(ctx, "ns:")
	if len(keys) != 1 || keys[0] != "ns:b" {
		t.Fatalf("Keys after expiry = %v", keys)
	}
}

func TestGetReturnsStoredBytes(t *testing.T) {
	ctx := context.Background()
	p := New(Config{})
	in := []byte("value")
	_, _ = p.Set(ctx, "k", in, 0, 0)
	in[0] = 'X' // caller mutation must not leak into the store
	got, ok, _ := p.Get(ctx, "k")
	if !ok || string(got) != "value" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}
