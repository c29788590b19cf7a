// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package client consumes one session stream from the gateway and
// maintains a local materialized view of the session.
//
// A Client connects to GET /v1/sessions/{id}/stream, applies the init
// snapshot wholesale, then folds each event into its view using the
// same merge rules the session store applies server-side, so the local
// view and a fresh snapshot never disagree. The view survives
// disconnects: stale-but-valid state stays visible while the client
// reconnects, and the next init replaces it.
//
// Reconnection is automatic with exponential backoff. After five
// consecutive failed connection attempts the client gives up and
// reports StateUnavailable; the UI distinguishes that terminal state
// from transient StateReconnecting and prompts for a manual retry
// instead of spinning forever.
package client
