// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
)

// RawEvent is an event as the upstream agent emits it: a type string
// and an undecoded properties payload. The payload is only decoded
// once the type is known, so unknown kinds survive the trip through
// the pipeline byte-for-byte.
type RawEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Envelope is one frame of the agent's global subscription feed. The
// directory identifies the project the event originated in; routing
// inside the pipeline is by session ID, so the directory is carried
// for logging only and Normalize operates on the payload alone.
type Envelope struct {
	Directory string   `json:"directory,omitempty"`
	Payload   RawEvent `json:"payload"`
}

// MalformedEventError reports an event whose type is known but whose
// properties cannot be decoded or are missing required identifiers.
// Malformed events are skippable: the listener logs them and moves on,
// never tearing down the upstream stream.
type MalformedEventError struct {
	EventType string
	Reason    string
	Err       error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema: malformed %s event: %s: %v", e.EventType, e.Reason, e.Err)
	}
	return fmt.Sprintf("schema: malformed %s event: %s", e.EventType, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// malformed builds a MalformedEventError for raw.
func malformed(raw RawEvent, reason string, err error) (Event, error) {
	return Event{}, &MalformedEventError{EventType: raw.Type, Reason: reason, Err: err}
}

// Normalize converts a raw upstream event into the pipeline's
// normalized form: decoded payload plus the owning session ID
// extracted per kind. The function is total over the closed kind set —
// every known kind either decodes or returns a *MalformedEventError;
// unknown kinds never error and come back with the raw payload
// attached and no session ID.
func Normalize(raw RawEvent) (Event, error) {
	switch EventType(raw.Type) {
	case EventTypeSessionCreated, EventTypeSessionUpdated, EventTypeSessionDeleted:
		var payload struct {
			Info SessionInfo `json:"info"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.Info.ID == "" {
			return malformed(raw, "missing info.id", nil)
		}
		return Event{
			Type:      EventType(raw.Type),
			SessionID: payload.Info.ID,
			Session:   &payload.Info,
		}, nil

	case EventTypeMessageUpdated:
		var payload struct {
			Info MessageInfo `json:"info"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.Info.ID == "" {
			return malformed(raw, "missing info.id", nil)
		}
		if payload.Info.SessionID == "" {
			return malformed(raw, "missing info.sessionID", nil)
		}
		return Event{
			Type:      EventTypeMessageUpdated,
			SessionID: payload.Info.SessionID,
			Message:   &payload.Info,
		}, nil

	case EventTypeMessageRemoved:
		var payload struct {
			SessionID string `json:"sessionID"`
			MessageID string `json:"messageID"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.SessionID == "" || payload.MessageID == "" {
			return malformed(raw, "missing sessionID or messageID", nil)
		}
		return Event{
			Type:      EventTypeMessageRemoved,
			SessionID: payload.SessionID,
			Remove:    &RemoveInfo{MessageID: payload.MessageID},
		}, nil

	case EventTypePartUpdated:
		var payload struct {
			Part Part `json:"part"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.Part.ID == "" || payload.Part.MessageID == "" {
			return malformed(raw, "missing part.id or part.messageID", nil)
		}
		if payload.Part.SessionID == "" {
			return malformed(raw, "missing part.sessionID", nil)
		}
		return Event{
			Type:      EventTypePartUpdated,
			SessionID: payload.Part.SessionID,
			Part:      &payload.Part,
		}, nil

	case EventTypePartRemoved:
		var payload struct {
			SessionID string `json:"sessionID"`
			MessageID string `json:"messageID"`
			PartID    string `json:"partID"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.SessionID == "" || payload.MessageID == "" || payload.PartID == "" {
			return malformed(raw, "missing sessionID, messageID, or partID", nil)
		}
		return Event{
			Type:      EventTypePartRemoved,
			SessionID: payload.SessionID,
			Remove:    &RemoveInfo{MessageID: payload.MessageID, PartID: payload.PartID},
		}, nil

	case EventTypeSessionStatus:
		var payload struct {
			SessionID string        `json:"sessionID"`
			Status    SessionStatus `json:"status"`
			Detail    string        `json:"detail"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.SessionID == "" {
			return malformed(raw, "missing sessionID", nil)
		}
		if payload.Status == "" {
			return malformed(raw, "missing status", nil)
		}
		return Event{
			Type:      EventTypeSessionStatus,
			SessionID: payload.SessionID,
			Status:    &StatusInfo{Status: payload.Status, Detail: payload.Detail},
		}, nil

	case EventTypeSessionIdle, EventTypeSessionCompacted:
		var payload struct {
			SessionID string `json:"sessionID"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.SessionID == "" {
			return malformed(raw, "missing sessionID", nil)
		}
		return Event{
			Type:      EventType(raw.Type),
			SessionID: payload.SessionID,
		}, nil

	case EventTypeSessionError:
		// The agent emits process-level errors without a session ID;
		// those stay valid and route to the global channel only.
		var payload struct {
			SessionID string     `json:"sessionID"`
			Error     *ErrorInfo `json:"error"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.Error == nil {
			payload.Error = &ErrorInfo{Message: "unknown error"}
		}
		return Event{
			Type:      EventTypeSessionError,
			SessionID: payload.SessionID,
			Error:     payload.Error,
		}, nil

	case EventTypeSessionDiff:
		var payload struct {
			SessionID string     `json:"sessionID"`
			Diff      []DiffItem `json:"diff"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.SessionID == "" {
			return malformed(raw, "missing sessionID", nil)
		}
		if payload.Diff == nil {
			payload.Diff = []DiffItem{}
		}
		return Event{
			Type:      EventTypeSessionDiff,
			SessionID: payload.SessionID,
			Diff:      payload.Diff,
		}, nil

	case EventTypeTodoUpdated:
		var payload struct {
			SessionID string     `json:"sessionID"`
			Todos     []TodoItem `json:"todos"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.SessionID == "" {
			return malformed(raw, "missing sessionID", nil)
		}
		if payload.Todos == nil {
			payload.Todos = []TodoItem{}
		}
		return Event{
			Type:      EventTypeTodoUpdated,
			SessionID: payload.SessionID,
			Todos:     payload.Todos,
		}, nil

	case EventTypeSessionCommand:
		var payload struct {
			SessionID string `json:"sessionID"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		if err := json.Unmarshal(raw.Properties, &payload); err != nil {
			return malformed(raw, "decoding properties", err)
		}
		if payload.SessionID == "" {
			return malformed(raw, "missing sessionID", nil)
		}
		if payload.Name == "" {
			return malformed(raw, "missing name", nil)
		}
		return Event{
			Type:      EventTypeSessionCommand,
			SessionID: payload.SessionID,
			Command:   &CommandInfo{Name: payload.Name, Arguments: payload.Arguments},
		}, nil

	default:
		// Unknown kind: forward opaquely. No session routing — a
		// session ID we cannot verify is worse than none.
		return Event{
			Type: EventType(raw.Type),
			Raw:  raw.Properties,
		}, nil
	}
}
