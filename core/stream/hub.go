// Package stream fans merged snapshots out to subscribers with bounded
// buffers. Publishing never blocks: a subscriber that falls behind loses its
// oldest buffered snapshot first, so delivered ticks are strictly increasing
// with gaps but never reordered.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/metrics"
	"github.com/smarttraffic/dualsim/core/model"
)

// DefaultBuffer is the per-subscriber outbox size.
const DefaultBuffer = 16

// Event is one delivery to a subscriber: a snapshot, or a terminal error
// after which the channel closes.
type Event struct {
	Snapshot *model.MergedSnapshot
	Err      error
}

// Subscription is one consumer's view of the hub.
type Subscription struct {
	hub     *Hub
	ch      chan Event
	dropped atomic.Uint64
}

// C returns the delivery channel. It closes after a terminal event or when
// the subscription is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many snapshots this subscriber lost to backpressure.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from its hub. Idempotent and safe against
// concurrent publishes.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Hub distributes snapshots and terminal events.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	log    logger.Logger
	rec    metrics.DropRecorder
}

// NewHub creates a hub with the given per-subscriber buffer. Zero or
// negative buffers fall back to DefaultBuffer.
func NewHub(buffer int, log logger.Logger, rec metrics.DropRecorder) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
		rec:    rec,
	}
}

// Subscribe registers a new consumer. On a closed hub the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	if h.closed {
		close(s.ch)
	} else {
		h.subs[s] = struct{}{}
		h.gauge()
	}
	h.mu.Unlock()
	return s
}

// Unsubscribe detaches a consumer and closes its channel. Safe to call more
// than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
		h.gauge()
	}
	h.mu.Unlock()
}

// Subscribers returns the current consumer count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers a snapshot to every subscriber without blocking. Full
// outboxes lose their oldest entry.
func (h *Hub) Publish(m model.MergedSnapshot) {
	ev := Event{Snapshot: &m}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		h.offer(s, ev)
	}
}

// PublishErr delivers a terminal event to every subscriber, evicting
// buffered snapshots if needed so it is never lost, then closes all
// subscriptions. The hub itself stays usable for the next run.
func (h *Hub) PublishErr(err error) {
	ev := Event{Err: err}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		for {
			select {
			case s.ch <- ev:
			default:
				h.evict(s)
				continue
			}
			break
		}
		delete(h.subs, s)
		close(s.ch)
	}
	h.gauge()
}

// Close shuts the hub down for good.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
	h.mu.Unlock()
}

// offer sends without blocking, evicting the oldest buffered event when the
// outbox is full. Called with the hub lock held, so the retry after an
// eviction always finds room.
func (h *Hub) offer(s *Subscription, ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	h.evict(s)
	select {
	case s.ch <- ev:
	default:
	}
}

func (h *Hub) evict(s *Subscription) {
	select {
	case <-s.ch:
		s.dropped.Add(1)
		if err := h.rec.RecordStreamDrops(1); err != nil {
			h.log.Warnf("stream drop metrics error: %v", err)
		}
	default:
	}
}

// gauge reports the subscriber count when the recorder supports it. Called
// with the hub lock held.
func (h *Hub) gauge() {
	sr, ok := h.rec.(metrics.SubscriberRecorder)
	if !ok {
		return
	}
	if err := sr.RecordSubscribers(len(h.subs)); err != nil {
		h.log.Warnf("subscriber metrics error: %v", err)
	}
}
