// Package broadcast — hub.go
//
// Per-client bounded-queue fan-out for typed governance messages.
//
// Backpressure model, adapted from kernel.Processor's ring-buffer
// dispatch: each subscriber owns a buffered channel of capacity K
// (default 256). Publish enqueues non-blocking — a full queue never
// blocks the single-writer engine. Unlike the teacher's pattern (drop and
// increment a counter), a full queue here additionally drains the
// subscriber and re-enqueues exactly one resync message, since a
// governance client that missed deltas needs a coherent replacement view,
// not just a drop count.
//
// Ordering: for any one subscriber, delivery order matches publish order,
// except that any run of drops is collapsed into a single resync in its
// place. No reordering, no duplicate delivery.
package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// ResyncSnapshotFunc builds the full state snapshot used both for a
// newly subscribed client and for a lagging client's resync message. It
// is supplied by the engine (the only component with a consistent view
// across ledger, members, and proposals) to avoid this package depending
// on those types.
type ResyncSnapshotFunc func() any

// Hub multiplexes published messages to all subscribers. The zero value
// is not usable; call New.
type Hub struct {
	mu          sync.Mutex
	log         *zap.Logger
	queueCap    int
	subscribers map[uint64]chan any
	lagging     map[uint64]bool
	nextID      uint64
	snapshot    ResyncSnapshotFunc

	resyncsTotal func()
	droppedTotal func()
}

// New creates a Hub with the given per-subscriber queue capacity.
// snapshot is called to build both the initial "snapshot" message on
// subscribe and any "resync" message issued to a lagging subscriber.
func New(queueCap int, snapshot ResyncSnapshotFunc, log *zap.Logger) *Hub {
	if queueCap <= 0 {
		queueCap = 256
	}
	return &Hub{
		log:          log,
		queueCap:     queueCap,
		subscribers:  make(map[uint64]chan any),
		lagging:      make(map[uint64]bool),
		snapshot:     snapshot,
		resyncsTotal: func() {},
		droppedTotal: func() {},
	}
}

// OnResync registers a callback invoked every time a subscriber is
// coalesced into a resync, for metrics wiring.
func (h *Hub) OnResync(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resyncsTotal = fn
}

// OnDrop registers a callback invoked every time a subscriber is dropped
// outright (resync enqueue also failed), for metrics wiring.
func (h *Hub) OnDrop(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.droppedTotal = fn
}

// Subscribe allocates a bounded queue for a new client and immediately
// enqueues a full snapshot message. Returns the client id (for later
// Unsubscribe) and the receive end of the queue.
func (h *Hub) Subscribe() (uint64, <-chan any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan any, h.queueCap)
	h.subscribers[id] = ch

	// Snapshot enqueue cannot fail on a fresh, empty channel.
	ch <- h.snapshot()

	h.log.Debug("broadcast subscriber added", zap.Uint64("client_id", id), zap.Int("total_subscribers", len(h.subscribers)))
	return id, ch
}

// Unsubscribe removes a client and closes its channel. Safe to call more
// than once or with an unknown id (no-op).
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	delete(h.lagging, id)
	close(ch)
	h.log.Debug("broadcast subscriber removed", zap.Uint64("client_id", id), zap.Int("total_subscribers", len(h.subscribers)))
}

// Publish enqueues msg to every subscriber, non-blocking. A subscriber
// whose queue is full has it drained and replaced with a single resync
// snapshot, and is marked lagging; if even that enqueue fails (a
// concurrent reader emptied and immediately refilled the queue —
// vanishingly unlikely with this package's single-writer discipline, but
// handled regardless) the subscriber is dropped instead.
//
// A lagging subscriber stays lagging across further publishes: its queue
// already holds a resync that the reader hasn't drained yet, so any
// message published in the meantime is absorbed rather than queued
// behind it — otherwise a fast burst would refill the queue and trigger
// a second overflow, leaving two resyncs where the reader should only
// ever see one. Lagging clears the moment the reader has made room,
// letting normal delivery resume.
func (h *Hub) Publish(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers {
		if h.lagging[id] {
			if len(ch) > 0 {
				// Reader still hasn't consumed the pending resync: absorb
				// this message instead of queuing a second one.
				continue
			}
			delete(h.lagging, id)
		}

		select {
		case ch <- msg:
			continue
		default:
		}

		// Queue full: drain it, then enqueue one coalesced resync.
		h.drainLocked(ch)
		select {
		case ch <- h.snapshot():
			h.lagging[id] = true
			h.resyncsTotal()
			h.log.Warn("subscriber lagging, issued resync", zap.Uint64("client_id", id))
		default:
			h.droppedTotal()
			h.log.Warn("subscriber dropped: resync enqueue also failed", zap.Uint64("client_id", id))
			delete(h.subscribers, id)
			delete(h.lagging, id)
			close(ch)
		}
	}
}

// drainLocked empties ch without blocking. Callers must hold h.mu.
func (h *Hub) drainLocked(ch chan any) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// SubscriberCount returns the current number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
