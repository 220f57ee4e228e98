package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	assert.Equal(t, 1, b.Len())

	b.Publish(New(EventPoolReset, "pid changed", nil, map[string]string{"pool": "tracker"}))

	select {
	case e := <-sub.C:
		assert.Equal(t, EventPoolReset, e.Type)
		assert.Equal(t, "tracker", e.Metadata["pool"])
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	default:
		t.Fatal("event was not delivered on the publishing goroutine")
	}
}

func TestBrokerFiltersByType(t *testing.T) {
	b := NewBroker()
	drops := b.Subscribe(EventConnDropped)
	all := b.Subscribe()

	b.Publish(&Event{Type: EventPoolExhausted})
	b.Publish(&Event{Type: EventConnDropped})

	require.Len(t, drops.C, 1)
	assert.Equal(t, EventConnDropped, (<-drops.C).Type)
	assert.Len(t, all.C, 2)
}

func TestBrokerCountsDropped(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	for i := 0; i < subscriptionBuffer+10; i++ {
		b.Publish(&Event{Type: EventConnDropped})
	}

	assert.Len(t, sub.C, subscriptionBuffer)
	assert.Equal(t, uint64(10), sub.Dropped())
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	keep := b.Subscribe()
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())

	b.Unsubscribe(sub)
	b.Publish(&Event{Type: EventPoolReset})
	assert.Len(t, keep.C, 1)
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe(EventPoolReset)

	b.Close()

	_, ok := <-sub1.C
	assert.False(t, ok)
	_, ok = <-sub2.C
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok)

	b.Publish(&Event{Type: EventPoolReset})
	assert.Zero(t, b.Len())
}

func TestHandlerEmit(t *testing.T) {
	var got []*Event
	h := Handler(func(e *Event) { got = append(got, e) })

	cause := errors.New("use of closed network connection")
	h.Emit(EventTeardownError, "close failed", cause, nil)

	require.Len(t, got, 1)
	assert.Equal(t, EventTeardownError, got[0].Type)
	assert.ErrorIs(t, got[0].Err, cause)

	var nilHandler Handler
	nilHandler.Emit(EventTeardownError, "ignored", nil, nil)
}
