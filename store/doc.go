// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package store folds normalized pipeline events into authoritative
// per-session state on top of the coordination store, and publishes
// each applied event to the session's channel and the global channel.
// It is the only layer that knows the key layout; the listener above
// it speaks events and the gateway below it speaks snapshots and
// subscriptions.
//
// The folded state is a materialized view: for any session, the state
// equals replaying every event for that session in arrival order with
// last-write-wins per entity ID — except tool lifecycle state, which
// merges monotonically (see schema.MergeToolState) so a late or
// duplicated "running" can never resurrect a finished tool call.
//
// The listener is the single writer for session state, which makes
// the read-modify-write of per-message part arrays safe without
// transactions. Read operations (snapshots, listings) are safe from
// any number of concurrent readers.
package store
