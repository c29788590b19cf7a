// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process coordination store. It is the default for
// tests and for single-process deployments where the listener and
// gateway share one address space and folded state does not need to
// survive a restart.
//
// Memory is safe for concurrent use. Values are copied on write and
// on read, so callers can never alias the store's internal buffers.
type Memory struct {
	mu     sync.RWMutex
	closed bool
	data   map[string][]byte

	broker *broker
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		data:   make(map[string][]byte),
		broker: newBroker(),
	}
}

// Get returns the value stored at key, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("coord: get %q: %w", key, ErrUnavailable)
	}
	value, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("coord: get %q: %w", key, ErrNotFound)
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, nil
}

// List returns all keys with the given prefix in ascending key order.
func (m *Memory) List(ctx context.Context, prefix string) ([]KeyValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("coord: list %q: %w", prefix, ErrUnavailable)
	}

	var results []KeyValue
	for key, value := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		copied := make([]byte, len(value))
		copy(copied, value)
		results = append(results, KeyValue{Key: key, Value: copied})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

// Set stores value at key, replacing any existing value.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("coord: set %q: %w", key, ErrUnavailable)
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	m.data[key] = copied
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("coord: delete %q: %w", key, ErrUnavailable)
	}
	delete(m.data, key)
	return nil
}

// Publish delivers payload to every current subscriber of channel.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.broker.publish(channel, payload); err != nil {
		return fmt.Errorf("coord: publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe registers for messages on channel.
func (m *Memory) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subscription, err := m.broker.subscribe(channel)
	if err != nil {
		return nil, fmt.Errorf("coord: subscribe %q: %w", channel, err)
	}
	return subscription, nil
}

// Close releases the store. All subsequent operations return
// ErrUnavailable and open subscriptions end with ErrUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.data = nil
	m.mu.Unlock()

	m.broker.close()
	return nil
}
