package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types broadcast to live subscribers.
const (
	EventClaimSubmitted = "claim_submitted"
	EventVoteCast       = "vote_cast"
	EventRoundResolved  = "round_resolved"
	EventMarketCreated  = "market_created"
	EventBetPlaced      = "bet_placed"
	EventMarketSettled  = "market_settled"
)

// Event is one message on the bus.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus fans events out to subscribers. A subscriber that falls behind
// loses events rather than blocking publishers.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	buffer int

	dropped atomic.Uint64
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers evt to every subscriber without blocking.
func (b *EventBus) Publish(eventType string, data any) {
	if b == nil {
		return
	}
	evt := Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}
