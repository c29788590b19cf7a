// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package listener runs the single consumer of the upstream agent's
// event feed.
//
// Exactly one listener runs per server process. It holds one
// subscription to the agent's global feed, normalizes each raw event,
// folds it into the session store (which fans it out to gateway
// subscribers), and appends a deduplicated debug log entry. When the
// stream breaks it reconnects with exponential backoff, and after ten
// consecutive failed connection attempts it gives up for good —
// surfaced through Health so load balancers stop routing to a server
// whose pipeline has no producer.
//
// On a session.idle event the listener fetches the authoritative
// session state from the agent and reconciles it into the store. This
// is the pipeline's correction mechanism: any part update lost to a
// dropped connection or a store outage is repaired at the next idle.
package listener
