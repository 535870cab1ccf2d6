package events

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/shopsync"
)

type panicLog struct {
	shopsync.NopLogger
	mu     sync.Mutex
	errors []shopsync.Fields
}

func (l *panicLog) Error(_ string, f shopsync.Fields) {
	l.mu.Lock()
	l.errors = append(l.errors, f)
	l.mu.Unlock()
}

func TestPublishReachesSubscribersInOrder(t *testing.T) {
	b := New(nil)
	var got []string
	b.Subscribe(CartChanged, func(e Event) { got = append(got, "a:"+e.Payload.(string)) })
	b.Subscribe(CartChanged, func(e Event) { got = append(got, "b:"+e.Payload.(string)) })
	b.Subscribe(SessionStarted, func(Event) { got = append(got, "wrong topic") })

	b.Publish(CartChanged, "x")
	if len(got) != 2 || got[0] != "a:x" || got[1] != "b:x" {
		t.Fatalf("delivery = %v", got)
	}
}

func TestPanickingSubscriberDoesNotBreakOthers(t *testing.T) {
	log := &panicLog{}
	b := New(log)
	reached := false
	b.Subscribe(SessionExpired, func(Event) { panic("ui handler bug") })
	b.Subscribe(SessionExpired, func(Event) { reached = true })

	b.Publish(SessionExpired, nil)
	if !reached {
		t.Fatalf("second subscriber not called after first panicked")
	}
	if len(log.errors) != 1 || log.errors[0]["panic"] != "ui handler bug" {
		t.Fatalf("panic not logged: %v", log.errors)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	n := 0
	unsub := b.Subscribe(CartChanged, func(Event) { n++ })
	b.Publish(CartChanged, nil)
	unsub()
	unsub() // idempotent
	b.Publish(CartChanged, nil)
	if n != 1 {
		t.Fatalf("handler called %d times", n)
	}
}

func TestOnFiltersByPayloadType(t *testing.T) {
	type reason struct{ Why string }
	b := New(nil)
	var got []string
	On(b, SessionExpired, func(r reason) { got = append(got, r.Why) })

	b.Publish(SessionExpired, reason{Why: "refresh_failed"})
	b.Publish(SessionExpired, "not a reason")
	if len(got) != 1 || got[0] != "refresh_failed" {
		t.Fatalf("typed delivery = %v", got)
	}
}

func TestChannelDropsWhenFullAndCloses(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Channel(CartChanged, 1)
	b.Publish(CartChanged, 1)
	b.Publish(CartChanged, 2) // dropped

	if e := <-ch; e.Payload != 1 {
		t.Fatalf("first event payload = %v", e.Payload)
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed after cancel")
	}
	b.Publish(CartChanged, 3) // no panic on closed channel
	cancel()
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe(CartChanged, func(Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			defer unsub()
		}()
		go func() {
			defer wg.Done()
			b.Publish(CartChanged, nil)
		}()
	}
	wg.Wait()
	_ = count
}
