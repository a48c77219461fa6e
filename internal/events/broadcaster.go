package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Broadcaster is a fan-out hub. Committed events are published once and
// delivered to per-type subscribers and to a unified "all" stream.
// Delivery never blocks the publisher: slow consumers lose events.
type Broadcaster struct {
	log *zap.Logger

	mu     sync.RWMutex
	byType map[string][]chan Event
	all    []chan Event

	dropped atomic.Uint64
}

// NewBroadcaster creates an empty hub. A nil logger disables drop logging.
func NewBroadcaster(log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		log:    log.Named("broadcaster"),
		byType: make(map[string][]chan Event),
	}
}

// Subscribe returns a buffered channel receiving events of the given types.
// With no types it behaves like SubscribeAll.
func (b *Broadcaster) Subscribe(types ...string) <-chan Event {
	if len(types) == 0 {
		return b.SubscribeAll()
	}
	ch := make(chan Event, 256)

	seen := make(map[string]bool, len(types))
	b.mu.Lock()
	for _, t := range types {
		if seen[t] {
			continue
		}
		seen[t] = true
		b.byType[t] = append(b.byType[t], ch)
	}
	b.mu.Unlock()

	return ch
}

// SubscribeAll returns a buffered channel that receives every event.
// Intended for persistence and metrics.
func (b *Broadcaster) SubscribeAll() <-chan Event {
	ch := make(chan Event, 1024)

	b.mu.Lock()
	b.all = append(b.all, ch)
	b.mu.Unlock()

	return ch
}

// Unsubscribe detaches ch from every stream and closes it.
func (b *Broadcaster) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var found chan Event
	for t, subs := range b.byType {
		kept := subs[:0]
		for _, s := range subs {
			if (<-chan Event)(s) == ch {
				found = s
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(b.byType, t)
		} else {
			b.byType[t] = kept
		}
	}
	kept := b.all[:0]
	for _, s := range b.all {
		if (<-chan Event)(s) == ch {
			found = s
			continue
		}
		kept = append(kept, s)
	}
	b.all = kept

	if found != nil {
		close(found)
	}
}

// Publish delivers ev to every matching subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.byType[ev.Type] {
		b.send(ch, ev)
	}
	for _, ch := range b.all {
		b.send(ch, ev)
	}
}

// Dropped returns the number of deliveries skipped because a subscriber was
// full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make(map[chan Event]bool)
	for _, subs := range b.byType {
		for _, ch := range subs {
			if !closed[ch] {
				close(ch)
				closed[ch] = true
			}
		}
	}
	for _, ch := range b.all {
		if !closed[ch] {
			close(ch)
			closed[ch] = true
		}
	}
	b.byType = make(map[string][]chan Event)
	b.all = nil
}

func (b *Broadcaster) send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		b.dropped.Add(1)
		b.log.Warn("dropping event for slow subscriber",
			zap.String("type", ev.Type), zap.Uint64("seq", ev.Seq))
	}
}
