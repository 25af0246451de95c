package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventWorkClaimed, Message: "w1 claimed"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventWorkClaimed, ev.Type)
			assert.False(t, ev.Timestamp.IsZero(), "timestamp is stamped on publish")
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockBroker(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe() // never read: its buffer fills and overflow drops
	fast := b.Subscribe()

	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventAgentCrashed, Message: "crash"})
		}
	}()

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 100 {
		select {
		case <-fast:
			received++
		case <-timeout:
			t.Fatalf("fast subscriber starved after %d events", received)
		}
	}
	require.GreaterOrEqual(t, received, 100)
	_ = slow
}
