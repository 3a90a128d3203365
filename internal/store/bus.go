package store

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Bus is a topic-based fan-out. Delivery is ordered per topic and queues are
// unbounded, so a slow session cannot stall publishers or other sessions.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

func NewBus() *Bus {
	return &Bus{subs: map[string][]*Subscription{}}
}

func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		bus:   b,
		topic: topic,
		ready: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub
}

func (b *Bus) Publish(topic string, msg []byte) {
	b.mu.Lock()
	subs := b.subs[topic]
	b.mu.Unlock()
	for _, sub := range subs {
		sub.push(msg)
	}
}

func (b *Bus) drop(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.subs[sub.topic]
	for i, c := range cur {
		if c == sub {
			b.subs[sub.topic] = append(cur[:i:i], cur[i+1:]...)
			break
		}
	}
}

// Subscription receives every message published to its topic after Subscribe,
// in publish order.
type Subscription struct {
	bus   *Bus
	topic string

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	ready  chan struct{}
}

func (s *Subscription) push(msg []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest undelivered message, blocking until one arrives,
// ctx ends, or the subscription is closed.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.bus.drop(s)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
