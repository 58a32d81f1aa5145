// Package bus is the in-process event fanout between the feed pipeline and
// its consumers (websocket pushes, the Redis mirror, periodic summaries).
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Topic names one event stream.
type Topic string

const (
	// TopicQuoteUpdated fires after a canonical quote lands in the book.
	TopicQuoteUpdated Topic = "quote-updated"
	// TopicArbitrageFound fires when the detector emits an opportunity set.
	TopicArbitrageFound Topic = "arbitrage-found"
	// TopicSupervisorExhausted fires when a venue supervisor gives up
	// reconnecting.
	TopicSupervisorExhausted Topic = "supervisor-exhausted"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Event is one published message.
type Event struct {
	Topic   Topic
	At      time.Time
	Payload any
}

// Subscription receives events for its topics until cancelled. A subscriber
// that stops draining loses events rather than stalling publishers.
type Subscription struct {
	topics map[Topic]struct{}
	ch     chan Event
}

// Events returns the delivery channel. It is closed on Cancel and on bus
// shutdown.
func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) wants(t Topic) bool {
	_, ok := s.topics[t]
	return ok
}

// Bus fans events out to subscribers. Delivery per subscriber preserves
// publish order; slow subscribers drop, never block.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Uint64

	// OnDrop, if set, is called once per dropped event (metrics hook).
	OnDrop func(topic Topic)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for the given topics. No topics means all
// topics.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	sub := &Subscription{
		topics: make(map[Topic]struct{}, len(topics)),
		ch:     make(chan Event, DefaultBuffer),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Cancel removes a subscription and closes its channel.
func (b *Bus) Cancel(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers an event to every matching subscriber. A subscriber with
// a full buffer misses the event.
func (b *Bus) Publish(topic Topic, payload any) {
	ev := Event{Topic: topic, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if len(sub.topics) > 0 && !sub.wants(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			if b.OnDrop != nil {
				b.OnDrop(topic)
			}
			log.Warn().Str("topic", string(topic)).Msg("bus: subscriber buffer full, event dropped")
		}
	}
}

// Dropped returns the total number of events lost to full buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}
