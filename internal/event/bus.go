package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans events out to subscribers over buffered channels.
//
// Delivery is at-least-once from the producer's point of view: a
// subscriber whose buffer is full drops the event (counted), so slow
// consumers degrade themselves, never the submit path. Consumers that
// must not miss events (the trade journal) size their buffers
// accordingly and deduplicate by (order_id, fill_seq).
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	nextSeq uint64
	dropped atomic.Uint64
	closed  bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a consumer and returns its channel. bufSize bounds
// how far the consumer may lag before events are dropped for it.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish stamps the event with a sequence number and timestamp carrier
// and delivers it to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped for slow subscriber",
				slog.Uint64("seq", ev.GetSeq()),
				slog.Int("type", int(ev.GetType())))
		}
	}
}

// Stamp fills in the sequence and timestamp for a new event base.
// Sequence numbers are process-wide and monotonically increasing.
func (b *Bus) Stamp() BaseEvent {
	return BaseEvent{
		Seq: atomic.AddUint64(&b.nextSeq, 1),
		Ts:  time.Now().UTC(),
	}
}

// Dropped returns the count of events dropped for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
