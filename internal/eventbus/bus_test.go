package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBus(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(Event{Name: "stock.changed", Data: "sku-1"})

	select {
	case evt := <-sub1.C():
		assert.Equal(t, "stock.changed", evt.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sub1")
	}
	select {
	case evt := <-sub2.C():
		assert.Equal(t, "stock.changed", evt.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sub2")
	}
}

func TestBus_SlowConsumerDropsOldestEvent(t *testing.T) {
	b := NewBus(1)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(Event{Name: "first"})
	b.Publish(Event{Name: "second"}) // buffer full; drops "first", pushes "second", then tries the nudge

	evt := <-sub.C()
	assert.Equal(t, "second", evt.Name)
}

func TestBus_CloseUnregistersSubscribers(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe()
	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
}

func TestSubscription_CloseRemovesFromBus(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe()
	sub.Close()

	require.Len(t, b.subs, 0)
}
