// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package events

import (
	"log/slog"
	"slices"
	"sync"
)

// DefaultBuffer is the channel capacity of each subscription.
const DefaultBuffer = 64

type subscription struct {
	ch    chan Event
	types []Type
}

// Hub distributes events to subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *slog.Logger
	closed bool
}

// NewHub creates a hub. A nil logger uses slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given.
func (h *Hub) Subscribe(types ...Type) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, DefaultBuffer)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, &subscription{ch: ch, types: types})
	return ch
}

// Unsubscribe removes and closes a channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subs {
		if sub.ch == ch {
			h.subs = slices.Delete(h.subs, i, i+1)
			close(ch)
			return
		}
	}
}

// Publish sends an event to every matching subscriber without blocking.
// Subscribers with a full buffer miss the event.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if len(sub.types) > 0 && !slices.Contains(sub.types, event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("event dropped: subscriber buffer full",
				"event_id", event.ID.String(),
				"event_type", event.Type,
				"plugin", event.Plugin)
		}
	}
}

// Close closes every subscription. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
	h.closed = true
}
