// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the HTTP client for the upstream agent process
// that actually runs coding sessions.
//
// The agent exposes two surfaces Switchboard consumes: a single
// global SSE feed of raw events (Subscribe), and point-in-time
// snapshot fetches of session info and message lists (FetchSession,
// FetchMessages, FetchSessions) used for idle-time reconciliation and
// for the gateway's degraded mode when the coordination store is
// down.
//
// Errors split into two kinds. *ConnectionError means the agent was
// unreachable or the stream broke; it is transient, and the listener
// is the only component that retries it. *APIError is a definitive
// answer from a reachable agent (a 404 for a deleted session is not a
// reason to reconnect).
package agent
