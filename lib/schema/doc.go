// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the data model shared by every stage of the
// event pipeline: the entities that make up session state (sessions,
// messages, parts, tool state, status, diffs, todos), the normalized
// [Event] union that flows from the listener through the coordination
// store to connected clients, and [Normalize], which converts the
// upstream agent's raw wire events into that union.
//
// The upstream agent emits events as {type, properties} with the
// properties payload left undecoded until the type is known. Normalize
// decodes the closed set of known kinds into typed payloads and
// extracts the owning session ID; unknown kinds pass through opaquely
// (raw payload preserved, no session routing) so that a newer agent
// never breaks an older pipeline.
//
// Entity structs carry `json` tags in the upstream agent's camelCase
// convention. The same tags drive CBOR field naming for values at
// rest (see lib/codec).
package schema
