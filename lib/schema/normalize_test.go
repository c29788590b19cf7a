// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

func rawEvent(t *testing.T, eventType string, properties string) RawEvent {
	t.Helper()
	if !json.Valid([]byte(properties)) {
		t.Fatalf("test fixture properties are not valid JSON: %s", properties)
	}
	return RawEvent{Type: eventType, Properties: json.RawMessage(properties)}
}

func TestNormalizeSessionLifecycle(t *testing.T) {
	t.Parallel()

	for _, eventType := range []EventType{
		EventTypeSessionCreated,
		EventTypeSessionUpdated,
		EventTypeSessionDeleted,
	} {
		t.Run(string(eventType), func(t *testing.T) {
			t.Parallel()
			event, err := Normalize(rawEvent(t, string(eventType),
				`{"info":{"id":"ses_a","title":"fix the flaky test","time":{"created":1700000000000}}}`))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if event.Type != eventType {
				t.Errorf("Type = %q, want %q", event.Type, eventType)
			}
			if event.SessionID != "ses_a" {
				t.Errorf("SessionID = %q, want %q", event.SessionID, "ses_a")
			}
			if event.Session == nil || event.Session.Title != "fix the flaky test" {
				t.Errorf("Session = %+v, want title set", event.Session)
			}
		})
	}
}

func TestNormalizeMessageUpdated(t *testing.T) {
	t.Parallel()
	event, err := Normalize(rawEvent(t, "message.updated",
		`{"info":{"id":"msg_1","sessionID":"ses_a","role":"assistant","time":{"created":1700000000000},"model":"big-model"}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if event.SessionID != "ses_a" {
		t.Errorf("SessionID = %q, want ses_a (extracted from info.sessionID)", event.SessionID)
	}
	if event.Message == nil || event.Message.Role != "assistant" || event.Message.Model != "big-model" {
		t.Errorf("Message = %+v", event.Message)
	}
}

func TestNormalizePartUpdated(t *testing.T) {
	t.Parallel()
	event, err := Normalize(rawEvent(t, "message.part.updated",
		`{"part":{"id":"prt_1","messageID":"msg_1","sessionID":"ses_a","type":"tool","tool":"bash","callID":"call_9","state":{"status":"running","input":{"command":"go test ./..."}}}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if event.SessionID != "ses_a" {
		t.Errorf("SessionID = %q, want ses_a (extracted from part.sessionID)", event.SessionID)
	}
	part := event.Part
	if part == nil {
		t.Fatal("Part payload not set")
	}
	if part.Type != PartTypeTool || part.Tool != "bash" || part.CallID != "call_9" {
		t.Errorf("Part = %+v", part)
	}
	if part.State == nil || part.State.Status != ToolStatusRunning {
		t.Errorf("State = %+v, want running", part.State)
	}
}

func TestNormalizeRemovals(t *testing.T) {
	t.Parallel()

	event, err := Normalize(rawEvent(t, "message.removed",
		`{"sessionID":"ses_a","messageID":"msg_1"}`))
	if err != nil {
		t.Fatalf("Normalize message.removed: %v", err)
	}
	if event.Remove == nil || event.Remove.MessageID != "msg_1" || event.Remove.PartID != "" {
		t.Errorf("Remove = %+v", event.Remove)
	}

	event, err = Normalize(rawEvent(t, "message.part.removed",
		`{"sessionID":"ses_a","messageID":"msg_1","partID":"prt_2"}`))
	if err != nil {
		t.Fatalf("Normalize message.part.removed: %v", err)
	}
	if event.Remove == nil || event.Remove.PartID != "prt_2" {
		t.Errorf("Remove = %+v", event.Remove)
	}
}

func TestNormalizeStatusEvents(t *testing.T) {
	t.Parallel()

	event, err := Normalize(rawEvent(t, "session.status",
		`{"sessionID":"ses_a","status":"busy"}`))
	if err != nil {
		t.Fatalf("Normalize session.status: %v", err)
	}
	if event.Status == nil || event.Status.Status != SessionStatusBusy {
		t.Errorf("Status = %+v, want busy", event.Status)
	}

	for _, eventType := range []string{"session.idle", "session.compacted"} {
		event, err := Normalize(rawEvent(t, eventType, `{"sessionID":"ses_a"}`))
		if err != nil {
			t.Fatalf("Normalize %s: %v", eventType, err)
		}
		if event.SessionID != "ses_a" {
			t.Errorf("%s SessionID = %q, want ses_a", eventType, event.SessionID)
		}
	}
}

func TestNormalizeSessionErrorWithoutSessionID(t *testing.T) {
	t.Parallel()
	// Process-level errors have no session; they stay valid and route
	// globally.
	event, err := Normalize(rawEvent(t, "session.error",
		`{"error":{"name":"AuthError","message":"token expired"}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if event.SessionID != "" {
		t.Errorf("SessionID = %q, want empty", event.SessionID)
	}
	if event.Error == nil || event.Error.Name != "AuthError" {
		t.Errorf("Error = %+v", event.Error)
	}
}

func TestNormalizeDiffAndTodos(t *testing.T) {
	t.Parallel()

	event, err := Normalize(rawEvent(t, "session.diff",
		`{"sessionID":"ses_a","diff":[{"path":"main.go","status":"modified","additions":3,"deletions":1}]}`))
	if err != nil {
		t.Fatalf("Normalize session.diff: %v", err)
	}
	if len(event.Diff) != 1 || event.Diff[0].Path != "main.go" {
		t.Errorf("Diff = %+v", event.Diff)
	}

	// An absent list decodes to an empty (non-nil) slice: "replace
	// with nothing" must be distinguishable from "no payload".
	event, err = Normalize(rawEvent(t, "todo.updated", `{"sessionID":"ses_a"}`))
	if err != nil {
		t.Fatalf("Normalize todo.updated: %v", err)
	}
	if event.Todos == nil {
		t.Error("Todos = nil, want empty slice")
	}
}

func TestNormalizeCommand(t *testing.T) {
	t.Parallel()
	event, err := Normalize(rawEvent(t, "session.command",
		`{"sessionID":"ses_a","name":"compact","arguments":"--keep-last 10"}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if event.Command == nil || event.Command.Name != "compact" {
		t.Errorf("Command = %+v", event.Command)
	}
}

func TestNormalizeUnknownKindPassesThrough(t *testing.T) {
	t.Parallel()
	properties := `{"sessionID":"ses_a","shiny":"new"}`
	event, err := Normalize(rawEvent(t, "session.hologram", properties))
	if err != nil {
		t.Fatalf("Normalize unknown kind must not error: %v", err)
	}
	if event.Type != "session.hologram" {
		t.Errorf("Type = %q, want original type string preserved", event.Type)
	}
	if event.SessionID != "" {
		t.Errorf("SessionID = %q, want empty (unknown kinds are never session-routed)", event.SessionID)
	}
	if string(event.Raw) != properties {
		t.Errorf("Raw = %s, want original properties preserved", event.Raw)
	}
	if KnownEventType(event.Type) {
		t.Error("KnownEventType(session.hologram) = true, want false")
	}
}

func TestNormalizeMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		eventType  string
		properties string
	}{
		{"invalid json", "session.created", `{"info":`},
		{"session missing id", "session.created", `{"info":{"title":"x"}}`},
		{"message missing session", "message.updated", `{"info":{"id":"msg_1"}}`},
		{"part missing ids", "message.part.updated", `{"part":{"sessionID":"ses_a"}}`},
		{"removal missing message", "message.removed", `{"sessionID":"ses_a"}`},
		{"part removal missing part", "message.part.removed", `{"sessionID":"ses_a","messageID":"msg_1"}`},
		{"status missing session", "session.status", `{"status":"busy"}`},
		{"status missing status", "session.status", `{"sessionID":"ses_a"}`},
		{"idle missing session", "session.idle", `{}`},
		{"diff missing session", "session.diff", `{"diff":[]}`},
		{"todos missing session", "todo.updated", `{"todos":[]}`},
		{"command missing name", "session.command", `{"sessionID":"ses_a"}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			raw := RawEvent{Type: test.eventType, Properties: json.RawMessage(test.properties)}
			_, err := Normalize(raw)
			if err == nil {
				t.Fatal("Normalize accepted a malformed event")
			}
			var malformedErr *MalformedEventError
			if !errors.As(err, &malformedErr) {
				t.Fatalf("error type = %T, want *MalformedEventError", err)
			}
			if malformedErr.EventType != test.eventType {
				t.Errorf("EventType = %q, want %q", malformedErr.EventType, test.eventType)
			}
		})
	}
}

// TestNormalizeCoversAllKnownKinds keeps the Normalize switch and the
// knownEventTypes set in sync: every known kind must decode some
// minimal valid payload without falling through to the opaque path.
func TestNormalizeCoversAllKnownKinds(t *testing.T) {
	t.Parallel()

	minimalPayloads := map[EventType]string{
		EventTypeSessionCreated:   `{"info":{"id":"ses_a"}}`,
		EventTypeSessionUpdated:   `{"info":{"id":"ses_a"}}`,
		EventTypeSessionDeleted:   `{"info":{"id":"ses_a"}}`,
		EventTypeMessageUpdated:   `{"info":{"id":"msg_1","sessionID":"ses_a"}}`,
		EventTypeMessageRemoved:   `{"sessionID":"ses_a","messageID":"msg_1"}`,
		EventTypePartUpdated:      `{"part":{"id":"prt_1","messageID":"msg_1","sessionID":"ses_a","type":"text"}}`,
		EventTypePartRemoved:      `{"sessionID":"ses_a","messageID":"msg_1","partID":"prt_1"}`,
		EventTypeSessionStatus:    `{"sessionID":"ses_a","status":"idle"}`,
		EventTypeSessionIdle:      `{"sessionID":"ses_a"}`,
		EventTypeSessionError:     `{"sessionID":"ses_a","error":{"message":"boom"}}`,
		EventTypeSessionDiff:      `{"sessionID":"ses_a","diff":[]}`,
		EventTypeSessionCompacted: `{"sessionID":"ses_a"}`,
		EventTypeTodoUpdated:      `{"sessionID":"ses_a","todos":[]}`,
		EventTypeSessionCommand:   `{"sessionID":"ses_a","name":"undo"}`,
	}

	if len(minimalPayloads) != len(knownEventTypes) {
		t.Fatalf("test covers %d kinds, knownEventTypes has %d", len(minimalPayloads), len(knownEventTypes))
	}

	for eventType, payload := range minimalPayloads {
		if !KnownEventType(eventType) {
			t.Errorf("KnownEventType(%q) = false, want true", eventType)
			continue
		}
		event, err := Normalize(rawEvent(t, string(eventType), payload))
		if err != nil {
			t.Errorf("Normalize(%q): %v", eventType, err)
			continue
		}
		if len(event.Raw) != 0 {
			t.Errorf("Normalize(%q) fell through to the opaque path", eventType)
		}
	}
}
