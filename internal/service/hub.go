package service

import (
	"sync"

	"github.com/timmy/lookbook/internal/graph"
)

// Hub fans graph events out to the subscribers of each workspace. Delivery is
// best effort: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan graph.Event
	next   int
	buffer int
}

// NewHub creates a Hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[int]chan graph.Event),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events for workspaceID and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(workspaceID string) (<-chan graph.Event, func()) {
	ch := make(chan graph.Event, h.buffer)

	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[workspaceID] == nil {
		h.subs[workspaceID] = make(map[int]chan graph.Event)
	}
	h.subs[workspaceID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[workspaceID], id)
			if len(h.subs[workspaceID]) == 0 {
				delete(h.subs, workspaceID)
			}
			close(ch)
		})
	}
}

// Publish delivers evt to the subscribers of its workspace without blocking.
// It returns the number of subscribers that received it.
func (h *Hub) Publish(evt graph.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, ch := range h.subs[evt.WorkspaceID] {
		select {
		case ch <- evt:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of workspaceID.
func (h *Hub) Subscribers(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[workspaceID])
}
