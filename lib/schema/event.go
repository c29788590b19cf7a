// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "encoding/json"

// EventType classifies normalized pipeline events. The constants below
// form the closed set of kinds the pipeline understands; events with
// any other type string still flow through the pipeline (Raw payload
// preserved) but are never routed to a session.
type EventType string

const (
	// EventTypeSessionCreated announces a new session. Payload:
	// Session.
	EventTypeSessionCreated EventType = "session.created"

	// EventTypeSessionUpdated carries revised session metadata
	// (title, timestamps). Payload: Session.
	EventTypeSessionUpdated EventType = "session.updated"

	// EventTypeSessionDeleted removes a session and all derived
	// state. Payload: Session (at least ID).
	EventTypeSessionDeleted EventType = "session.deleted"

	// EventTypeMessageUpdated creates or updates a message. Payload:
	// Message.
	EventTypeMessageUpdated EventType = "message.updated"

	// EventTypeMessageRemoved deletes a message and its parts.
	// Payload: Remove (MessageID set).
	EventTypeMessageRemoved EventType = "message.removed"

	// EventTypePartUpdated creates or updates one message part.
	// Payload: Part.
	EventTypePartUpdated EventType = "message.part.updated"

	// EventTypePartRemoved deletes one message part. Payload: Remove
	// (MessageID and PartID set).
	EventTypePartRemoved EventType = "message.part.removed"

	// EventTypeSessionStatus changes the session's activity state.
	// Payload: Status.
	EventTypeSessionStatus EventType = "session.status"

	// EventTypeSessionIdle signals the agent finished working. The
	// listener treats this as both a status change to idle and the
	// cue to reconcile against an authoritative snapshot.
	EventTypeSessionIdle EventType = "session.idle"

	// EventTypeSessionError reports a session-level failure. Payload:
	// Error.
	EventTypeSessionError EventType = "session.error"

	// EventTypeSessionDiff replaces the session's changed-file list.
	// Payload: Diff.
	EventTypeSessionDiff EventType = "session.diff"

	// EventTypeSessionCompacted notes that the agent compacted the
	// session's context. State is unchanged; observers may surface it.
	EventTypeSessionCompacted EventType = "session.compacted"

	// EventTypeTodoUpdated replaces the session's todo list. Payload:
	// Todos.
	EventTypeTodoUpdated EventType = "todo.updated"

	// EventTypeSessionCommand reports a slash-command invocation in
	// the session. Payload: Command.
	EventTypeSessionCommand EventType = "session.command"
)

// knownEventTypes is the dispatch set for KnownEventType. Every
// constant above must appear here; normalize_test verifies the two
// stay in sync.
var knownEventTypes = map[EventType]bool{
	EventTypeSessionCreated:   true,
	EventTypeSessionUpdated:   true,
	EventTypeSessionDeleted:   true,
	EventTypeMessageUpdated:   true,
	EventTypeMessageRemoved:   true,
	EventTypePartUpdated:      true,
	EventTypePartRemoved:      true,
	EventTypeSessionStatus:    true,
	EventTypeSessionIdle:      true,
	EventTypeSessionError:     true,
	EventTypeSessionDiff:      true,
	EventTypeSessionCompacted: true,
	EventTypeTodoUpdated:      true,
	EventTypeSessionCommand:   true,
}

// KnownEventType reports whether t is in the closed set of kinds the
// pipeline decodes. Unknown kinds are forwarded opaquely on the global
// channel only.
func KnownEventType(t EventType) bool { return knownEventTypes[t] }

// Event is the normalized pipeline event: a tagged union with Type as
// the discriminator and exactly one payload field set for known kinds.
// Unknown kinds keep the upstream type string in Type and the
// undecoded properties in Raw.
//
// SessionID is the routing key: events with a session ID are published
// on that session's channel and the global channel; events without one
// go to the global channel only.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionID,omitempty"`

	// Session is set for session.created, session.updated, and
	// session.deleted.
	Session *SessionInfo `json:"session,omitempty"`

	// Message is set for message.updated.
	Message *MessageInfo `json:"message,omitempty"`

	// Part is set for message.part.updated.
	Part *Part `json:"part,omitempty"`

	// Remove is set for message.removed and message.part.removed.
	Remove *RemoveInfo `json:"remove,omitempty"`

	// Status is set for session.status.
	Status *StatusInfo `json:"status,omitempty"`

	// Diff is set for session.diff.
	Diff []DiffItem `json:"diff,omitempty"`

	// Todos is set for todo.updated.
	Todos []TodoItem `json:"todos,omitempty"`

	// Error is set for session.error.
	Error *ErrorInfo `json:"error,omitempty"`

	// Command is set for session.command.
	Command *CommandInfo `json:"command,omitempty"`

	// Raw preserves the undecoded upstream properties for unknown
	// kinds. Empty for known kinds.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// RemoveInfo identifies the entity a removal event deletes. MessageID
// alone removes a whole message; MessageID plus PartID removes one
// part.
type RemoveInfo struct {
	MessageID string `json:"messageID"`
	PartID    string `json:"partID,omitempty"`
}

// StatusInfo is the payload of a session.status event.
type StatusInfo struct {
	Status SessionStatus `json:"status"`
	Detail string        `json:"detail,omitempty"`
}

// CommandInfo is the payload of a session.command event.
type CommandInfo struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}
