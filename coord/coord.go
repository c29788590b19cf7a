// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package coord defines the coordination store the pipeline folds
// session state into: a small key/value surface plus per-channel
// publish/subscribe. The session store writes through this interface
// and the stream gateway subscribes through it; neither ever talks to
// the other directly.
//
// Two implementations ship with the pipeline: [Memory] for tests and
// single-process deployments, and [SQLite] for state that survives
// restarts. Both use the same in-process broker for pub/sub, so
// per-channel ordering is identical across them. The interface is
// deliberately narrow enough that a networked store can slot in later
// without touching the layers above.
package coord

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that do not exist.
var ErrNotFound = errors.New("coord: key not found")

// ErrUnavailable wraps every operation against a closed or broken
// store. Callers fail fast and degrade rather than retrying at this
// layer; reconnecting is the caller's policy.
var ErrUnavailable = errors.New("coord: store unavailable")

// ErrSlowConsumer terminates subscriptions whose delivery buffer
// overflowed. The subscriber must resubscribe and take a fresh
// snapshot; silently dropping intermediate events would desynchronize
// its fold.
var ErrSlowConsumer = errors.New("coord: subscriber too slow, events dropped")

// KeyValue is one key with its stored value.
type KeyValue struct {
	Key   string
	Value []byte
}

// Message is one published payload delivered to a subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// Reader is the read side of the key/value surface.
type Reader interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys with the given prefix in ascending key
	// order, with their values.
	List(ctx context.Context, prefix string) ([]KeyValue, error)
}

// Writer is the write side of the key/value surface.
type Writer interface {
	// Set stores value at key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Publisher publishes payloads to named channels.
type Publisher interface {
	// Publish delivers payload to every current subscriber of
	// channel. Delivery to each subscriber preserves publish order.
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber creates subscriptions to named channels.
type Subscriber interface {
	// Subscribe registers for messages on channel. The context
	// governs only the registration; the subscription itself lives
	// until its Close is called or the store terminates it.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
}

// Store is the full coordination surface. Components should depend on
// the narrowest subset they use (the session store needs
// Reader+Writer+Publisher; the gateway needs Reader+Subscriber).
type Store interface {
	Reader
	Writer
	Publisher
	Subscriber

	// Close releases the store. All subsequent operations return
	// ErrUnavailable and all open subscriptions end with
	// ErrUnavailable.
	Close() error
}
