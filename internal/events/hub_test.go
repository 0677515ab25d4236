package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10, EventBlock)

	hub.Publish(Event{
		Type:   EventBlock,
		Source: "test",
		Data:   DecisionData{Src: "203.0.113.5", Reason: "blocklist"},
	})

	select {
	case e := <-ch:
		assert.Equal(t, EventBlock, e.Type)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
		data, ok := e.Data.(DecisionData)
		require.True(t, ok)
		assert.Equal(t, "blocklist", data.Reason)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_TypeFiltering(t *testing.T) {
	hub := NewHub()
	blocks := hub.Subscribe(10, EventBlock)
	all := hub.Subscribe(10)

	hub.Publish(Event{Type: EventAllow})
	hub.Publish(Event{Type: EventBlock})
	hub.Publish(Event{Type: EventBlocklistAdded})

	assert.Len(t, blocks, 1)
	assert.Len(t, all, 3)
}

func TestHub_NonBlockingDrop(t *testing.T) {
	hub := NewHub()
	drops := 0
	hub.OnDrop = func() { drops++ }
	ch := hub.Subscribe(1, EventAllow)

	hub.Publish(Event{Type: EventAllow})
	hub.Publish(Event{Type: EventAllow})
	hub.Publish(Event{Type: EventAllow})

	published, dropped := hub.Stats()
	assert.Equal(t, uint64(3), published)
	assert.Equal(t, uint64(2), dropped)
	assert.Equal(t, 2, drops)
	assert.Len(t, ch, 1)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10, EventBlock, EventAllow)
	require.True(t, hub.HasSubscribers(EventBlock))

	hub.Unsubscribe(ch)
	assert.False(t, hub.HasSubscribers(EventBlock))
	assert.False(t, hub.HasSubscribers(EventAllow))

	hub.Publish(Event{Type: EventBlock})
	assert.Len(t, ch, 0)
}

func TestHub_NilSafe(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Publish(Event{Type: EventBlock}) })
	assert.False(t, hub.HasSubscribers(EventBlock))
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(Event{Type: EventLog})
			}
		}()
	}
	wg.Wait()

	published, _ := hub.Stats()
	assert.Equal(t, uint64(500), published)
	assert.Len(t, ch, 500)
}
