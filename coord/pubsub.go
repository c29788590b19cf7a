// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import "sync"

// subscriptionBufferSize is the per-subscriber delivery buffer. Large
// enough to absorb normal bursts (an agent step can emit dozens of
// part updates back to back); a subscriber that falls further behind
// than this is terminated with ErrSlowConsumer rather than allowed to
// stall publishers or silently miss events.
const subscriptionBufferSize = 256

// Subscription is one registration on a broker channel. Messages
// arrive on Events in publish order. When the subscription ends —
// Close was called, the buffer overflowed, or the store closed —
// Events is closed and Err reports why (nil for a plain Close).
type Subscription struct {
	channel string
	events  chan Message
	broker  *broker

	mu     sync.Mutex
	err    error
	closed bool
}

// Events returns the delivery channel. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Message { return s.events }

// Err reports why the subscription ended: ErrSlowConsumer,
// ErrUnavailable, or nil for a caller-initiated Close. Valid once
// Events is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription and closes Events. Idempotent;
// safe to call concurrently with delivery.
func (s *Subscription) Close() {
	s.broker.remove(s, nil)
}

// broker is the in-process pub/sub fan-out shared by both store
// implementations. One mutex guards the registry; sends happen under
// it, which is what makes close-on-overflow safe (no send can race a
// close).
type broker struct {
	mu          sync.Mutex
	closed      bool
	subscribers map[string]map[*Subscription]struct{}
}

func newBroker() *broker {
	return &broker{subscribers: make(map[string]map[*Subscription]struct{})}
}

// subscribe registers a new subscription on channel. Returns
// ErrUnavailable after close.
func (b *broker) subscribe(channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrUnavailable
	}

	subscription := &Subscription{
		channel: channel,
		events:  make(chan Message, subscriptionBufferSize),
		broker:  b,
	}
	set := b.subscribers[channel]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subscribers[channel] = set
	}
	set[subscription] = struct{}{}
	return subscription, nil
}

// publish delivers payload to every subscriber of channel. A
// subscriber whose buffer is full is terminated with ErrSlowConsumer;
// the publisher never blocks.
func (b *broker) publish(channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrUnavailable
	}

	for subscription := range b.subscribers[channel] {
		select {
		case subscription.events <- Message{Channel: channel, Payload: payload}:
		default:
			b.removeLocked(subscription, ErrSlowConsumer)
		}
	}
	return nil
}

// remove unregisters a subscription, recording why, and closes its
// events channel. Idempotent.
func (b *broker) remove(subscription *Subscription, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(subscription, reason)
}

func (b *broker) removeLocked(subscription *Subscription, reason error) {
	subscription.mu.Lock()
	alreadyClosed := subscription.closed
	if !alreadyClosed {
		subscription.closed = true
		subscription.err = reason
	}
	subscription.mu.Unlock()
	if alreadyClosed {
		return
	}

	if set := b.subscribers[subscription.channel]; set != nil {
		delete(set, subscription)
		if len(set) == 0 {
			delete(b.subscribers, subscription.channel)
		}
	}
	close(subscription.events)
}

// close terminates every subscription with ErrUnavailable and rejects
// all further operations.
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, set := range b.subscribers {
		for subscription := range set {
			subscription.mu.Lock()
			if !subscription.closed {
				subscription.closed = true
				subscription.err = ErrUnavailable
				close(subscription.events)
			}
			subscription.mu.Unlock()
		}
	}
	b.subscribers = make(map[string]map[*Subscription]struct{})
}
