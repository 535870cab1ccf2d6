// Package events is a small typed publish/subscribe bus for state changes the
// UI layer reacts to. Delivery is best-effort: a subscriber that panics is
// logged and skipped, and the remaining subscribers still run.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/shopsync"
)

type Topic string

const (
	SessionStarted Topic = "session:started"
	SessionExpired Topic = "session:expired"
	CartChanged    Topic = "cart:changed"
)

type Event struct {
	Topic   Topic
	Payload any
	At      time.Time
}

type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus fans events out to subscribers. The zero value is not usable; use New.
type Bus struct {
	log shopsync.Logger
	now func() time.Time

	mu     sync.RWMutex
	subs   map[Topic][]subscription
	nextID uint64
}

func New(log shopsync.Logger) *Bus {
	if log == nil {
		log = shopsync.NopLogger{}
	}
	return &Bus{log: log, now: time.Now, subs: make(map[Topic][]subscription)}
}

// Subscribe registers fn for t and returns a function that removes it.
// Handlers run on the publisher's goroutine, in subscription order.
func (b *Bus) Subscribe(t Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, id) })
	}
}

// On subscribes a handler that receives only payloads of type T.
func On[T any](b *Bus, t Topic, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(t, func(e Event) {
		if p, ok := e.Payload.(T); ok {
			fn(p)
		}
	})
}

// Channel delivers t onto a buffered channel. When the channel is full the
// event is dropped for this subscriber. cancel unsubscribes and closes it.
func (b *Bus) Channel(t Topic, buf int) (events <-chan Event, cancel func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	var mu sync.Mutex
	closed := false
	unsub := b.Subscribe(t, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.log.Debug("event dropped, subscriber channel full", shopsync.Fields{"topic": string(t)})
		}
	})
	return ch, func() {
		unsub()
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
}

// Publish delivers payload to every current subscriber of t.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[t]...)
	b.mu.RUnlock()

	e := Event{Topic: t, Payload: payload, At: b.now()}
	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked", shopsync.Fields{
				"topic": string(e.Topic),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	s.fn(e)
}

func (b *Bus) remove(t Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[t]) == 0 {
		delete(b.subs, t)
	}
}
