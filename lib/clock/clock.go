// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the pipeline's reconnect backoff
// and heartbeat logic. Production code injects Real(); tests inject
// Fake() and advance time deterministically, so backoff sequences and
// heartbeat cadence are asserted without wall-clock sleeps.
package clock

import "time"

// Clock is the time surface used by components that wait: the
// listener's reconnect delays, the gateway's heartbeat ticker, and the
// client's retry timer. Any function that would call time.Now,
// time.After, or time.NewTicker takes a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on C every d.
	// Panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. Stop releases it. C has
// capacity 1: if the consumer falls behind, ticks are dropped rather
// than queued, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. No ticks are delivered after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
