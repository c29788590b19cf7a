// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway serves session state to browsers: point-in-time
// snapshots over plain JSON endpoints and live per-session streams
// over SSE.
//
// Each stream handler is an independent task holding one subscription
// to its session's channel on the coordination store. The store is the
// only link between the listener (one producer) and the gateways (many
// consumers); nothing here calls the listener, which is what lets
// stream serving scale out while the listener stays a singleton.
//
// A stream opens with an init frame carrying the full snapshot, then
// forwards events exactly as the store published them. When the store
// is unreachable at connect time the gateway degrades: it serves a
// snapshot fetched directly from the agent, tells the client that live
// updates are unavailable, and closes.
package gateway
