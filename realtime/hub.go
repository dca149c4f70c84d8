package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"flinkly/core"
)

// Hub is a simple pub/sub for broadcasting events to channels. Each
// subscriber may restrict the event types it receives.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

type subscriber struct {
	ch    chan core.Event
	types map[core.EventType]struct{}
}

func (s subscriber) wants(t core.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a buffered channel. With no types every event is
// delivered.
func (h *Hub) Subscribe(buffer int, types ...core.EventType) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	sub := subscriber{ch: make(chan core.Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	h.subs[id] = sub
	return id, sub.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Broadcast is an event bus handler. Contact data is removed before the
// event leaves the process; slow subscribers lose events.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	ev = Public(ev)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events not delivered to a full subscriber buffer.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Public returns a copy of ev without the email address.
func Public(ev core.Event) core.Event {
	if _, ok := ev.Metadata["email"]; !ok {
		return ev
	}
	md := make(map[string]any, len(ev.Metadata))
	for k, v := range ev.Metadata {
		if k != "email" {
			md[k] = v
		}
	}
	ev.Metadata = md
	return ev
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
