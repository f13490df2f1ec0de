package telemetry

import (
	"context"
	"sync"
)

// Hub fans readings out to subscribers. A slow subscriber only ever sees
// the latest reading; older undelivered ones are dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[Facility]map[chan Reading]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Facility]map[chan Reading]struct{})}
}

// Subscribe registers a subscriber for f. When initial is non-nil it is
// delivered first.
func (h *Hub) Subscribe(ctx context.Context, f Facility, initial *Reading) <-chan Reading {
	ch := make(chan Reading, 1)
	if initial != nil {
		ch <- *initial
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	if h.subs[f] == nil {
		h.subs[f] = make(map[chan Reading]struct{})
	}
	h.subs[f][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[f][ch]; ok {
			delete(h.subs[f], ch)
			close(ch)
		}
	}()

	return ch
}

func (h *Hub) Publish(f Facility, r Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[f] {
		select {
		case ch <- r:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- r
		}
	}
}

// Subscribers reports how many subscribers f currently has.
func (h *Hub) Subscribers(f Facility) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[f])
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for f, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, f)
	}
}
