package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastToAll(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(4)
	b := h.Subscribe(4)

	h.Broadcast(1)
	h.Broadcast(2)

	for _, sub := range []*Subscription[int]{a, b} {
		assert.Equal(t, 1, <-sub.C())
		assert.Equal(t, 2, <-sub.C())
	}
	assert.Equal(t, 2, h.Len())
}

func TestHub_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub[string]()
	slow := h.Subscribe(1)
	fast := h.Subscribe(3)

	h.Broadcast("a")
	h.Broadcast("b")
	h.Broadcast("c")

	assert.Equal(t, uint64(2), h.Dropped())
	assert.Equal(t, "a", <-slow.C())
	assert.Len(t, fast.C(), 3)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(1)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	h.Broadcast(1)

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Zero(t, h.Len())
}

func TestHub_Close(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(1)
	b := h.Subscribe(1)

	h.Close()
	h.Unsubscribe(a)

	for _, sub := range []*Subscription[int]{a, b} {
		_, open := <-sub.C()
		assert.False(t, open)
	}
	assert.Zero(t, h.Len())
}

func TestHub_ConcurrentBroadcastAndUnsubscribe(t *testing.T) {
	h := NewHub[int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := h.Subscribe(8)
			for j := 0; j < 50; j++ {
				h.Broadcast(j)
			}
			h.Unsubscribe(sub)
		}()
	}
	wg.Wait()

	require.Zero(t, h.Len())
}
