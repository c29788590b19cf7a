// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/switchboard-io/switchboard/coord"
	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/lib/testutil"
)

const receiveTimeout = 2 * time.Second

func newTestStore(t *testing.T) (*SessionStore, *coord.Memory) {
	t.Helper()
	backend := coord.NewMemory()
	t.Cleanup(func() { backend.Close() })
	return New(backend, nil), backend
}

func sessionCreated(sessionID, title string, created float64) schema.Event {
	return schema.Event{
		Type:      schema.EventTypeSessionCreated,
		SessionID: sessionID,
		Session: &schema.SessionInfo{
			ID:    sessionID,
			Title: title,
			Time:  schema.TimeInfo{Created: created, Updated: created},
		},
	}
}

func messageUpdated(sessionID, messageID, role string, created float64) schema.Event {
	return schema.Event{
		Type:      schema.EventTypeMessageUpdated,
		SessionID: sessionID,
		Message: &schema.MessageInfo{
			ID:        messageID,
			SessionID: sessionID,
			Role:      role,
			Time:      schema.TimeInfo{Created: created},
		},
	}
}

func partUpdated(part schema.Part) schema.Event {
	return schema.Event{
		Type:      schema.EventTypePartUpdated,
		SessionID: part.SessionID,
		Part:      &part,
	}
}

func textPart(sessionID, messageID, partID, text string) schema.Part {
	return schema.Part{
		ID:        partID,
		MessageID: messageID,
		SessionID: sessionID,
		Type:      schema.PartTypeText,
		Text:      text,
	}
}

func toolPart(sessionID, messageID, partID, tool string, status schema.ToolStatus) schema.Part {
	return schema.Part{
		ID:        partID,
		MessageID: messageID,
		SessionID: sessionID,
		Type:      schema.PartTypeTool,
		Tool:      tool,
		CallID:    "call-" + partID,
		State:     &schema.ToolState{Status: status},
	}
}

func applyAll(t *testing.T, store *SessionStore, events ...schema.Event) {
	t.Helper()
	ctx := context.Background()
	for _, event := range events {
		if err := store.ApplyEvent(ctx, event); err != nil {
			t.Fatalf("ApplyEvent(%s): %v", event.Type, err)
		}
	}
}

func mustSnapshot(t *testing.T, store *SessionStore, sessionID string) *Snapshot {
	t.Helper()
	snapshot, err := store.Snapshot(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Snapshot(%s): %v", sessionID, err)
	}
	return snapshot
}

func TestApplyEventSessionLifecycle(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	applyAll(t, store, sessionCreated("ses-1", "fix login bug", 100))

	snapshot := mustSnapshot(t, store, "ses-1")
	if snapshot.Session.Title != "fix login bug" {
		t.Fatalf("title = %q, want %q", snapshot.Session.Title, "fix login bug")
	}

	updated := sessionCreated("ses-1", "fix login regression", 100)
	updated.Type = schema.EventTypeSessionUpdated
	updated.Session.Time.Updated = 150
	applyAll(t, store, updated)

	snapshot = mustSnapshot(t, store, "ses-1")
	if snapshot.Session.Title != "fix login regression" {
		t.Fatalf("title after update = %q, want %q", snapshot.Session.Title, "fix login regression")
	}
	if snapshot.Session.Time.Updated != 150 {
		t.Fatalf("updated time = %v, want 150", snapshot.Session.Time.Updated)
	}

	applyAll(t, store, schema.Event{Type: schema.EventTypeSessionDeleted, SessionID: "ses-1"})
	if _, err := store.Snapshot(ctx, "ses-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Snapshot after delete: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSnapshotUnknownSession(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	if _, err := store.Snapshot(context.Background(), "ses-never"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestApplyEventUpsertsAreIdempotent(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	events := []schema.Event{
		sessionCreated("ses-1", "title", 100),
		messageUpdated("ses-1", "msg-1", "assistant", 110),
		partUpdated(textPart("ses-1", "msg-1", "prt-1", "hello")),
		partUpdated(toolPart("ses-1", "msg-1", "prt-2", "bash", schema.ToolStatusRunning)),
	}
	applyAll(t, store, events...)
	first := mustSnapshot(t, store, "ses-1")

	// Replaying the same events must not duplicate messages or parts.
	applyAll(t, store, events...)
	second := mustSnapshot(t, store, "ses-1")

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshot changed after replay:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if len(second.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(second.Messages))
	}
	if len(second.Messages[0].Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(second.Messages[0].Parts))
	}
}

func TestToolStateNeverRegresses(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	completed := toolPart("ses-1", "msg-1", "prt-1", "bash", schema.ToolStatusCompleted)
	completed.State.Output = "done"
	applyAll(t, store,
		sessionCreated("ses-1", "t", 100),
		messageUpdated("ses-1", "msg-1", "assistant", 110),
		partUpdated(toolPart("ses-1", "msg-1", "prt-1", "bash", schema.ToolStatusRunning)),
		partUpdated(completed),
		// Late frame delivered out of order.
		partUpdated(toolPart("ses-1", "msg-1", "prt-1", "bash", schema.ToolStatusPending)),
	)

	snapshot := mustSnapshot(t, store, "ses-1")
	state := snapshot.Messages[0].Parts[0].State
	if state.Status != schema.ToolStatusCompleted {
		t.Fatalf("status = %q, want completed", state.Status)
	}
	if state.Output != "done" {
		t.Fatalf("output = %q, want %q", state.Output, "done")
	}
	if len(snapshot.CurrentToolCalls) != 0 {
		t.Fatalf("current tool calls = %v, want none", snapshot.CurrentToolCalls)
	}
}

func TestSnapshotEqualsReplay(t *testing.T) {
	t.Parallel()
	live, _ := newTestStore(t)
	replay, _ := newTestStore(t)

	prefix := []schema.Event{
		sessionCreated("ses-1", "t", 100),
		messageUpdated("ses-1", "msg-1", "user", 110),
		partUpdated(textPart("ses-1", "msg-1", "prt-1", "run the tests")),
		messageUpdated("ses-1", "msg-2", "assistant", 120),
		partUpdated(toolPart("ses-1", "msg-2", "prt-2", "bash", schema.ToolStatusRunning)),
		{Type: schema.EventTypeSessionStatus, SessionID: "ses-1", Status: &schema.StatusInfo{Status: schema.SessionStatusBusy}},
	}
	applyAll(t, live, prefix...)
	want := mustSnapshot(t, live, "ses-1")

	// The live store keeps moving; a fresh fold of the same prefix
	// must still reproduce the state at that point.
	applyAll(t, live,
		partUpdated(toolPart("ses-1", "msg-2", "prt-2", "bash", schema.ToolStatusCompleted)),
		schema.Event{Type: schema.EventTypeSessionIdle, SessionID: "ses-1"},
	)

	applyAll(t, replay, prefix...)
	got := mustSnapshot(t, replay, "ses-1")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("replayed snapshot differs:\ngot:  %+v\nwant: %+v", got, want)
	}
}

func TestSessionIsolation(t *testing.T) {
	t.Parallel()
	store, backend := newTestStore(t)
	ctx := context.Background()

	applyAll(t, store,
		sessionCreated("ses-a", "a", 100),
		sessionCreated("ses-b", "b", 100),
	)

	subB, err := backend.Subscribe(ctx, SessionChannel("ses-b"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer subB.Close()

	applyAll(t, store,
		messageUpdated("ses-a", "msg-1", "user", 110),
		partUpdated(textPart("ses-a", "msg-1", "prt-1", "only for a")),
	)

	snapshotB := mustSnapshot(t, store, "ses-b")
	if len(snapshotB.Messages) != 0 {
		t.Fatalf("session b has %d messages, want 0", len(snapshotB.Messages))
	}

	// A marker event on b's channel proves nothing from a arrived
	// before it.
	applyAll(t, store, messageUpdated("ses-b", "msg-b", "user", 120))
	message := testutil.RequireReceive(t, subB.Events(), receiveTimeout, "session b event")
	var event schema.Event
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		t.Fatalf("decoding published event: %v", err)
	}
	if event.SessionID != "ses-b" || event.Message.ID != "msg-b" {
		t.Fatalf("session b channel got event for %q/%q, want ses-b/msg-b", event.SessionID, event.Message.ID)
	}
}

func TestRemoveSessionCleansEverything(t *testing.T) {
	t.Parallel()
	store, backend := newTestStore(t)
	ctx := context.Background()

	if err := store.TrackSession(ctx, "ses-1", "TCK-42", schema.SessionTypeChat, 90); err != nil {
		t.Fatalf("TrackSession: %v", err)
	}
	applyAll(t, store,
		sessionCreated("ses-1", "doomed", 100),
		messageUpdated("ses-1", "msg-1", "user", 110),
		partUpdated(textPart("ses-1", "msg-1", "prt-1", "hi")),
		messageUpdated("ses-1", "msg-2", "assistant", 120),
		partUpdated(toolPart("ses-1", "msg-2", "prt-2", "bash", schema.ToolStatusCompleted)),
		schema.Event{Type: schema.EventTypeSessionStatus, SessionID: "ses-1", Status: &schema.StatusInfo{Status: schema.SessionStatusBusy}},
		schema.Event{Type: schema.EventTypeSessionDiff, SessionID: "ses-1", Diff: []schema.DiffItem{{Path: "main.go", Additions: 3}}},
		schema.Event{Type: schema.EventTypeTodoUpdated, SessionID: "ses-1", Todos: []schema.TodoItem{{ID: "1", Content: "x", Status: "pending"}}},
		sessionCreated("ses-2", "survivor", 100),
	)

	if err := store.RemoveSession(ctx, "ses-1"); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}

	leftover, err := backend.List(ctx, "session/ses-1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(leftover) != 0 {
		keys := make([]string, 0, len(leftover))
		for _, entry := range leftover {
			keys = append(keys, entry.Key)
		}
		t.Fatalf("leftover keys after removal: %v", keys)
	}

	if _, found, err := store.TrackedSession(ctx, "ses-1"); err != nil || found {
		t.Fatalf("TrackedSession after removal: found=%v err=%v, want absent", found, err)
	}
	if _, found, err := store.ActiveSessionForTicket(ctx, "TCK-42"); err != nil || found {
		t.Fatalf("ActiveSessionForTicket after removal: found=%v err=%v, want absent", found, err)
	}

	// Removal twice is fine, and unrelated sessions survive.
	if err := store.RemoveSession(ctx, "ses-1"); err != nil {
		t.Fatalf("second RemoveSession: %v", err)
	}
	if got := mustSnapshot(t, store, "ses-2").Session.Title; got != "survivor" {
		t.Fatalf("survivor title = %q", got)
	}
}

func TestRemoveSessionKeepsNewerTicketAssociation(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.TrackSession(ctx, "ses-old", "TCK-1", schema.SessionTypeChat, 90); err != nil {
		t.Fatalf("TrackSession: %v", err)
	}
	if err := store.TrackSession(ctx, "ses-new", "TCK-1", schema.SessionTypeChat, 95); err != nil {
		t.Fatalf("TrackSession: %v", err)
	}

	if err := store.RemoveSession(ctx, "ses-old"); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	sessionID, found, err := store.ActiveSessionForTicket(ctx, "TCK-1")
	if err != nil || !found {
		t.Fatalf("ActiveSessionForTicket: found=%v err=%v", found, err)
	}
	if sessionID != "ses-new" {
		t.Fatalf("ticket points at %q, want ses-new", sessionID)
	}
}

func TestUpsertMessagePreservesCompletion(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	final := messageUpdated("ses-1", "msg-1", "assistant", 110)
	final.Message.FinishReason = "stop"
	final.Message.Time.Completed = 130
	applyAll(t, store,
		sessionCreated("ses-1", "t", 100),
		final,
		// Straggler streaming frame without completion fields.
		messageUpdated("ses-1", "msg-1", "assistant", 110),
	)

	info := mustSnapshot(t, store, "ses-1").Messages[0].Info
	if info.FinishReason != "stop" {
		t.Fatalf("finish reason = %q, want stop", info.FinishReason)
	}
	if info.Time.Completed != 130 {
		t.Fatalf("completed = %v, want 130", info.Time.Completed)
	}
}

func TestPartsKeepArrivalOrder(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	applyAll(t, store,
		sessionCreated("ses-1", "t", 100),
		messageUpdated("ses-1", "msg-1", "assistant", 110),
		partUpdated(textPart("ses-1", "msg-1", "prt-1", "first")),
		partUpdated(textPart("ses-1", "msg-1", "prt-2", "second")),
		partUpdated(textPart("ses-1", "msg-1", "prt-3", "third")),
		// Updating the middle part must not move it.
		partUpdated(textPart("ses-1", "msg-1", "prt-2", "second, revised")),
	)

	parts := mustSnapshot(t, store, "ses-1").Messages[0].Parts
	gotIDs := make([]string, len(parts))
	for i, part := range parts {
		gotIDs[i] = part.ID
	}
	wantIDs := []string{"prt-1", "prt-2", "prt-3"}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("part order = %v, want %v", gotIDs, wantIDs)
	}
	if parts[1].Text != "second, revised" {
		t.Fatalf("part text = %q, want revision", parts[1].Text)
	}
}

func TestRemovePart(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	applyAll(t, store,
		sessionCreated("ses-1", "t", 100),
		messageUpdated("ses-1", "msg-1", "assistant", 110),
		partUpdated(textPart("ses-1", "msg-1", "prt-1", "a")),
		partUpdated(textPart("ses-1", "msg-1", "prt-2", "b")),
		schema.Event{
			Type:      schema.EventTypePartRemoved,
			SessionID: "ses-1",
			Remove:    &schema.RemoveInfo{MessageID: "msg-1", PartID: "prt-1"},
		},
	)

	parts := mustSnapshot(t, store, "ses-1").Messages[0].Parts
	if len(parts) != 1 || parts[0].ID != "prt-2" {
		t.Fatalf("parts after removal = %+v, want only prt-2", parts)
	}
}

func TestMessagesSortedByCreation(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	applyAll(t, store,
		sessionCreated("ses-1", "t", 100),
		messageUpdated("ses-1", "msg-late", "assistant", 300),
		messageUpdated("ses-1", "msg-early", "user", 110),
		messageUpdated("ses-1", "msg-mid", "assistant", 200),
	)

	messages := mustSnapshot(t, store, "ses-1").Messages
	gotIDs := make([]string, len(messages))
	for i, message := range messages {
		gotIDs[i] = message.Info.ID
	}
	wantIDs := []string{"msg-early", "msg-mid", "msg-late"}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("message order = %v, want %v", gotIDs, wantIDs)
	}
}

func TestCurrentToolCallsOrdering(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	applyAll(t, store,
		sessionCreated("ses-1", "t", 100),
		messageUpdated("ses-1", "msg-1", "assistant", 110),
		partUpdated(toolPart("ses-1", "msg-1", "prt-1", "read", schema.ToolStatusCompleted)),
		partUpdated(toolPart("ses-1", "msg-1", "prt-2", "bash", schema.ToolStatusRunning)),
		messageUpdated("ses-1", "msg-2", "assistant", 120),
		partUpdated(toolPart("ses-1", "msg-2", "prt-3", "edit", schema.ToolStatusPending)),
		partUpdated(textPart("ses-1", "msg-2", "prt-4", "narration")),
	)

	calls := mustSnapshot(t, store, "ses-1").CurrentToolCalls
	if len(calls) != 2 {
		t.Fatalf("tool calls = %+v, want 2", calls)
	}
	if calls[0].PartID != "prt-2" || calls[0].Tool != "bash" || calls[0].Status != schema.ToolStatusRunning {
		t.Fatalf("first call = %+v", calls[0])
	}
	if calls[1].PartID != "prt-3" || calls[1].Tool != "edit" || calls[1].Status != schema.ToolStatusPending {
		t.Fatalf("second call = %+v", calls[1])
	}
}

func TestStatusFolding(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	applyAll(t, store,
		sessionCreated("ses-1", "t", 100),
		schema.Event{Type: schema.EventTypeSessionStatus, SessionID: "ses-1", Status: &schema.StatusInfo{Status: schema.SessionStatusBusy, Detail: "running tests"}},
	)
	status := mustSnapshot(t, store, "ses-1").Status
	if status == nil || status.Status != schema.SessionStatusBusy || status.Detail != "running tests" {
		t.Fatalf("status = %+v, want busy/running tests", status)
	}

	applyAll(t, store, schema.Event{Type: schema.EventTypeSessionIdle, SessionID: "ses-1"})
	status = mustSnapshot(t, store, "ses-1").Status
	if status == nil || status.Status != schema.SessionStatusIdle {
		t.Fatalf("status after idle = %+v", status)
	}

	applyAll(t, store, schema.Event{
		Type:      schema.EventTypeSessionError,
		SessionID: "ses-1",
		Error:     &schema.ErrorInfo{Name: "ProviderAuthError", Message: "key expired"},
	})
	status = mustSnapshot(t, store, "ses-1").Status
	if status == nil || status.Status != schema.SessionStatusError || status.Detail != "key expired" {
		t.Fatalf("status after error = %+v", status)
	}
}

func TestGlobalErrorEventFoldsNothing(t *testing.T) {
	t.Parallel()
	store, backend := newTestStore(t)
	ctx := context.Background()

	sub, err := backend.Subscribe(ctx, GlobalChannel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	applyAll(t, store, schema.Event{
		Type:  schema.EventTypeSessionError,
		Error: &schema.ErrorInfo{Message: "upstream restarting"},
	})

	message := testutil.RequireReceive(t, sub.Events(), receiveTimeout, "global error event")
	var event schema.Event
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		t.Fatalf("decoding published event: %v", err)
	}
	if event.Type != schema.EventTypeSessionError || event.SessionID != "" {
		t.Fatalf("published event = %+v", event)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %+v, want none", sessions)
	}
}

func TestApplyEventPublishesToBothChannels(t *testing.T) {
	t.Parallel()
	store, backend := newTestStore(t)
	ctx := context.Background()

	sessionSub, err := backend.Subscribe(ctx, SessionChannel("ses-1"))
	if err != nil {
		t.Fatalf("Subscribe session: %v", err)
	}
	defer sessionSub.Close()
	globalSub, err := backend.Subscribe(ctx, GlobalChannel)
	if err != nil {
		t.Fatalf("Subscribe global: %v", err)
	}
	defer globalSub.Close()

	applyAll(t, store, sessionCreated("ses-1", "t", 100))

	for name, sub := range map[string]*coord.Subscription{"session": sessionSub, "global": globalSub} {
		message := testutil.RequireReceive(t, sub.Events(), receiveTimeout, "%s channel event", name)
		var event schema.Event
		if err := json.Unmarshal(message.Payload, &event); err != nil {
			t.Fatalf("%s channel: decoding: %v", name, err)
		}
		if event.Type != schema.EventTypeSessionCreated || event.Session.ID != "ses-1" {
			t.Fatalf("%s channel event = %+v", name, event)
		}
	}
}

func TestUnknownEventPassesThrough(t *testing.T) {
	t.Parallel()
	store, backend := newTestStore(t)
	ctx := context.Background()

	sub, err := backend.Subscribe(ctx, GlobalChannel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	applyAll(t, store, schema.Event{
		Type: "lsp.client.diagnostics",
		Raw:  json.RawMessage(`{"serverID":"gopls"}`),
	})

	message := testutil.RequireReceive(t, sub.Events(), receiveTimeout, "pass-through event")
	var event schema.Event
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if event.Type != "lsp.client.diagnostics" || string(event.Raw) != `{"serverID":"gopls"}` {
		t.Fatalf("published event = %+v", event)
	}
}

func TestTrackSessionEnrichesInfo(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Tracking before the created event: the upsert picks up the
	// association.
	if err := store.TrackSession(ctx, "ses-1", "TCK-7", schema.SessionTypeAsk, 90); err != nil {
		t.Fatalf("TrackSession: %v", err)
	}
	applyAll(t, store, sessionCreated("ses-1", "t", 100))
	session := mustSnapshot(t, store, "ses-1").Session
	if session.TicketID != "TCK-7" || session.Type != schema.SessionTypeAsk {
		t.Fatalf("session = %+v, want TCK-7/ask", session)
	}

	// Tracking after the created event: the stored info is patched.
	applyAll(t, store, sessionCreated("ses-2", "t2", 100))
	if err := store.TrackSession(ctx, "ses-2", "TCK-8", schema.SessionTypeChat, 105); err != nil {
		t.Fatalf("TrackSession: %v", err)
	}
	session = mustSnapshot(t, store, "ses-2").Session
	if session.TicketID != "TCK-8" || session.Type != schema.SessionTypeChat {
		t.Fatalf("session = %+v, want TCK-8/chat", session)
	}

	sessionID, found, err := store.ActiveSessionForTicket(ctx, "TCK-8")
	if err != nil || !found || sessionID != "ses-2" {
		t.Fatalf("ActiveSessionForTicket = %q/%v/%v", sessionID, found, err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	applyAll(t, store,
		sessionCreated("ses-old", "old", 100),
		sessionCreated("ses-new", "new", 300),
		sessionCreated("ses-mid", "mid", 200),
	)

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	gotIDs := make([]string, len(sessions))
	for i, session := range sessions {
		gotIDs[i] = session.ID
	}
	wantIDs := []string{"ses-new", "ses-mid", "ses-old"}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("order = %v, want %v", gotIDs, wantIDs)
	}
}

func TestReconcileSessionReplacesState(t *testing.T) {
	t.Parallel()
	store, backend := newTestStore(t)
	ctx := context.Background()

	applyAll(t, store,
		sessionCreated("ses-1", "stale title", 100),
		messageUpdated("ses-1", "msg-gone", "user", 105),
		partUpdated(textPart("ses-1", "msg-gone", "prt-a", "will vanish")),
		messageUpdated("ses-1", "msg-kept", "assistant", 110),
		partUpdated(textPart("ses-1", "msg-kept", "prt-b", "stale text")),
	)

	sub, err := backend.Subscribe(ctx, SessionChannel("ses-1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	authoritative := []schema.MessageWithParts{
		{
			Info:  schema.MessageInfo{ID: "msg-kept", SessionID: "ses-1", Role: "assistant", Time: schema.TimeInfo{Created: 110, Completed: 140}, FinishReason: "stop"},
			Parts: []schema.Part{textPart("ses-1", "msg-kept", "prt-b", "final text")},
		},
		{
			Info:  schema.MessageInfo{ID: "msg-new", SessionID: "ses-1", Role: "user", Time: schema.TimeInfo{Created: 150}},
			Parts: []schema.Part{textPart("ses-1", "msg-new", "prt-c", "follow-up")},
		},
	}
	info := schema.SessionInfo{ID: "ses-1", Title: "fresh title", Time: schema.TimeInfo{Created: 100, Updated: 160}}
	if err := store.ReconcileSession(ctx, info, authoritative); err != nil {
		t.Fatalf("ReconcileSession: %v", err)
	}

	snapshot := mustSnapshot(t, store, "ses-1")
	if snapshot.Session.Title != "fresh title" {
		t.Fatalf("title = %q", snapshot.Session.Title)
	}
	if len(snapshot.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(snapshot.Messages))
	}
	if snapshot.Messages[0].Info.ID != "msg-kept" || snapshot.Messages[0].Parts[0].Text != "final text" {
		t.Fatalf("first message = %+v", snapshot.Messages[0])
	}
	if snapshot.Messages[1].Info.ID != "msg-new" {
		t.Fatalf("second message = %+v", snapshot.Messages[1].Info)
	}

	// Synthetic events: removal of the vanished message first, then
	// the session update, then per-entity updates.
	wantTypes := []schema.EventType{
		schema.EventTypeMessageRemoved,
		schema.EventTypeSessionUpdated,
		schema.EventTypeMessageUpdated,
		schema.EventTypePartUpdated,
		schema.EventTypeMessageUpdated,
		schema.EventTypePartUpdated,
	}
	for i, want := range wantTypes {
		message := testutil.RequireReceive(t, sub.Events(), receiveTimeout, "synthetic event %d", i)
		var event schema.Event
		if err := json.Unmarshal(message.Payload, &event); err != nil {
			t.Fatalf("decoding synthetic event %d: %v", i, err)
		}
		if event.Type != want {
			t.Fatalf("synthetic event %d type = %s, want %s", i, event.Type, want)
		}
		if i == 0 && event.Remove.MessageID != "msg-gone" {
			t.Fatalf("removal targets %q, want msg-gone", event.Remove.MessageID)
		}
	}
}

func TestStoreUnavailableSurfaces(t *testing.T) {
	t.Parallel()
	backend := coord.NewMemory()
	store := New(backend, nil)
	backend.Close()

	err := store.ApplyEvent(context.Background(), sessionCreated("ses-1", "t", 100))
	if !errors.Is(err, coord.ErrUnavailable) {
		t.Fatalf("err = %v, want coord.ErrUnavailable", err)
	}
	if _, err := store.Snapshot(context.Background(), "ses-1"); !errors.Is(err, coord.ErrUnavailable) {
		t.Fatalf("Snapshot err = %v, want coord.ErrUnavailable", err)
	}
}
