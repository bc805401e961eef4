package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(Event{Kind: KindJobCompleted, Payload: "job-1"})

	select {
	case ev := <-sub.C:
		assert.Equal(t, KindJobCompleted, ev.Kind)
		assert.Equal(t, "job-1", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	b := New()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(Event{Kind: KindPeerConnected})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, KindPeerConnected, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	// Flood past the subscriber buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuf*2; i++ {
			b.Publish(Event{Kind: KindEntryIndexed, Payload: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestBus_UnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	sub.Unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after Unsubscribe")

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: KindJobFailed})
}

func TestBus_UnsubscribeTwiceIsNoOp(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	sub.Unsubscribe()
	assert.NotPanics(t, func() { sub.Unsubscribe() })
}
