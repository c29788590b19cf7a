// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sort"

	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/store"
)

// sessionState is the client's fold of one session: messages by ID and
// part lists by message ID, exactly the two maps the store keeps per
// session. Parts whose message has not arrived yet are held in the
// parts map and join the view once the message does, matching how the
// store's snapshot assembly behaves.
//
// Not safe for concurrent use; the Client serializes access.
type sessionState struct {
	session schema.SessionInfo
	// messages holds message info by message ID.
	messages map[string]schema.MessageInfo
	// parts holds each message's parts in arrival order, by message ID.
	parts  map[string][]schema.Part
	status *schema.StatusInfo
	diff   []schema.DiffItem
	todos  []schema.TodoItem
}

func newSessionState() *sessionState {
	return &sessionState{
		messages: make(map[string]schema.MessageInfo),
		parts:    make(map[string][]schema.Part),
	}
}

// replaceFromSnapshot rebuilds the whole state from an init snapshot,
// discarding everything held before.
func (s *sessionState) replaceFromSnapshot(snapshot *store.Snapshot) {
	s.session = snapshot.Session
	s.messages = make(map[string]schema.MessageInfo, len(snapshot.Messages))
	s.parts = make(map[string][]schema.Part, len(snapshot.Messages))
	for _, message := range snapshot.Messages {
		s.messages[message.Info.ID] = message.Info
		s.parts[message.Info.ID] = append([]schema.Part(nil), message.Parts...)
	}
	s.status = snapshot.Status
	s.diff = snapshot.Diff
	s.todos = snapshot.Todos
}

// apply folds one event into the state, mirroring the session store's
// fold so a locally maintained view equals a freshly fetched snapshot.
// Unknown event types change nothing.
func (s *sessionState) apply(event schema.Event) {
	switch event.Type {
	case schema.EventTypeSessionCreated, schema.EventTypeSessionUpdated:
		// The store enriches stored session info with the ticket
		// association from its tracking index, but publishes the event
		// un-enriched. Carry the association over from the current
		// info (seeded by the init snapshot) so the view keeps it.
		info := *event.Session
		if info.TicketID == "" {
			info.TicketID = s.session.TicketID
			if info.Type == "" {
				info.Type = s.session.Type
			}
		}
		s.session = info
	case schema.EventTypeSessionDeleted:
		*s = *newSessionState()
	case schema.EventTypeMessageUpdated:
		s.upsertMessage(*event.Message)
	case schema.EventTypeMessageRemoved:
		delete(s.messages, event.Remove.MessageID)
		delete(s.parts, event.Remove.MessageID)
	case schema.EventTypePartUpdated:
		s.upsertPart(*event.Part)
	case schema.EventTypePartRemoved:
		s.removePart(event.Remove.MessageID, event.Remove.PartID)
	case schema.EventTypeSessionStatus:
		status := *event.Status
		s.status = &status
	case schema.EventTypeSessionIdle:
		s.status = &schema.StatusInfo{Status: schema.SessionStatusIdle}
	case schema.EventTypeSessionError:
		if event.SessionID != "" {
			s.status = &schema.StatusInfo{
				Status: schema.SessionStatusError,
				Detail: event.Error.Message,
			}
		}
	case schema.EventTypeSessionDiff:
		s.diff = event.Diff
	case schema.EventTypeTodoUpdated:
		s.todos = event.Todos
	case schema.EventTypeSessionCompacted, schema.EventTypeSessionCommand:
		// Notification-only, same as server-side.
	}
}

// upsertMessage replaces the message info, carrying over completion
// fields a late streaming update may lack — the same guard the store
// applies, so a terminal message never flickers back to in-progress.
func (s *sessionState) upsertMessage(info schema.MessageInfo) {
	if existing, ok := s.messages[info.ID]; ok {
		if info.FinishReason == "" {
			info.FinishReason = existing.FinishReason
		}
		if info.Time.Completed == 0 {
			info.Time.Completed = existing.Time.Completed
		}
		if info.Error == nil {
			info.Error = existing.Error
		}
	}
	s.messages[info.ID] = info
}

// upsertPart replaces an existing part in place (keeping its position)
// or appends a new one, with tool state going through the monotonic
// merge.
func (s *sessionState) upsertPart(part schema.Part) {
	parts := s.parts[part.MessageID]
	for i := range parts {
		if parts[i].ID != part.ID {
			continue
		}
		part.State = schema.MergeToolState(parts[i].State, part.State)
		parts[i] = part
		return
	}
	s.parts[part.MessageID] = append(parts, part)
}

func (s *sessionState) removePart(messageID, partID string) {
	parts, ok := s.parts[messageID]
	if !ok {
		return
	}
	kept := parts[:0]
	for _, existing := range parts {
		if existing.ID != partID {
			kept = append(kept, existing)
		}
	}
	s.parts[messageID] = kept
}

// view assembles a snapshot-shaped copy of the state: fresh slices,
// messages ordered by creation time with ID as tiebreaker (identical
// to the store's snapshot ordering). Pointer-valued leaves (tool
// states, error info) are shared; the fold never mutates them in
// place, so readers can hold the view across later events.
func (s *sessionState) view() *store.Snapshot {
	snapshot := &store.Snapshot{
		Session:  s.session,
		Messages: make([]schema.MessageWithParts, 0, len(s.messages)),
		Status:   s.status,
		Diff:     append([]schema.DiffItem(nil), s.diff...),
		Todos:    append([]schema.TodoItem(nil), s.todos...),
	}
	if len(snapshot.Diff) == 0 {
		snapshot.Diff = nil
	}
	if len(snapshot.Todos) == 0 {
		snapshot.Todos = nil
	}
	for id, info := range s.messages {
		withParts := schema.MessageWithParts{
			Info:  info,
			Parts: append([]schema.Part{}, s.parts[id]...),
		}
		snapshot.Messages = append(snapshot.Messages, withParts)
	}
	sort.SliceStable(snapshot.Messages, func(i, j int) bool {
		left, right := snapshot.Messages[i].Info, snapshot.Messages[j].Info
		if left.Time.Created != right.Time.Created {
			return left.Time.Created < right.Time.Created
		}
		return left.ID < right.ID
	})
	snapshot.CurrentToolCalls = store.CollectToolCalls(snapshot.Messages)
	return snapshot
}
