package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventConnectRetry   EventType = "pool.connect_retry"
	EventConnectFailed  EventType = "pool.connect_failed"
	EventPoolExhausted  EventType = "pool.exhausted"
	EventPoolReset      EventType = "pool.reset"
	EventConnDropped    EventType = "conn.dropped"
	EventTeardownError  EventType = "conn.teardown_error"
	EventStorageEvicted EventType = "client.storage_evicted"
	EventStorageCreated EventType = "client.storage_created"
)

// Event is a diagnostic notification. Errors that cleanup paths swallow are
// reported here instead of being ignored.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Err       error
	Metadata  map[string]string
}

// New creates an event with a fresh ID and timestamp
func New(t EventType, msg string, err error, metadata map[string]string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		Message:   msg,
		Err:       err,
		Metadata:  metadata,
	}
}

// Handler receives events synchronously. It must not block.
type Handler func(*Event)

// Emit calls h if it is set
func (h Handler) Emit(t EventType, msg string, err error, metadata map[string]string) {
	if h == nil {
		return
	}
	h(New(t, msg, err, metadata))
}

// subscriptionBuffer is the channel capacity of every Subscription
const subscriptionBuffer = 64

// Subscription receives published events on C
type Subscription struct {
	C <-chan *Event

	ch      chan *Event
	types   map[EventType]bool
	dropped atomic.Uint64
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Dropped counts events lost because C was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Broker fans events out to subscriptions. Publish never blocks.
type Broker struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

func NewBroker() *Broker {
	return &Broker{}
}

// Subscribe returns a subscription to the given event types, or to every
// type when none are given. After Close the subscription is already closed.
func (b *Broker) Subscribe(types ...EventType) *Subscription {
	ch := make(chan *Event, subscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe closes sub. Unknown or already removed subscriptions are ignored.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

// Publish delivers e to every interested subscription. It is an events.Handler.
func (b *Broker) Publish(e *Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close closes every subscription. Later Publish calls are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	b.closed = true
}

// Len returns the number of open subscriptions
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
