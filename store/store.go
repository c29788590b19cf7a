// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/switchboard-io/switchboard/coord"
	"github.com/switchboard-io/switchboard/lib/codec"
	"github.com/switchboard-io/switchboard/lib/schema"
)

// ErrSessionNotFound is returned by Snapshot for sessions the store
// has never seen. Distinct from coord.ErrUnavailable: a missing
// session is a client error, an unavailable store is an operational
// one, and the gateway maps them to different responses.
var ErrSessionNotFound = errors.New("store: session not found")

// Backend is what the session store needs from the coordination
// store. Subscriptions are deliberately absent: consumers subscribe
// through coord directly, the store only writes and publishes.
type Backend interface {
	coord.Reader
	coord.Writer
	coord.Publisher
}

// SessionStore folds normalized events into per-session state and
// publishes applied events. One instance per process; the listener is
// its single writer.
type SessionStore struct {
	backend Backend
	logger  *slog.Logger
}

// New returns a session store over backend. If logger is nil, a no-op
// logger is used.
func New(backend Backend, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SessionStore{backend: backend, logger: logger}
}

// ToolCall summarizes one in-flight tool invocation for snapshot
// consumers that render activity indicators.
type ToolCall struct {
	MessageID string            `json:"messageID"`
	PartID    string            `json:"partID"`
	Tool      string            `json:"tool"`
	Status    schema.ToolStatus `json:"status"`
	Title     string            `json:"title,omitempty"`
}

// Snapshot is the complete folded state of one session at a point in
// time. Messages are ordered by creation time (ID as tiebreaker);
// parts keep their arrival order within each message.
type Snapshot struct {
	Session          schema.SessionInfo        `json:"session"`
	Messages         []schema.MessageWithParts `json:"messages"`
	Status           *schema.StatusInfo        `json:"status,omitempty"`
	Diff             []schema.DiffItem         `json:"diff,omitempty"`
	Todos            []schema.TodoItem         `json:"todos,omitempty"`
	CurrentToolCalls []ToolCall                `json:"currentToolCalls,omitempty"`
}

// Snapshot assembles the folded state of sessionID. Returns
// ErrSessionNotFound for sessions with no stored info record. On one
// instance the snapshot observes every write that returned before the
// call (read-your-writes).
func (s *SessionStore) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	var info schema.SessionInfo
	if err := s.getCBOR(ctx, sessionInfoKey(sessionID), &info); err != nil {
		if errors.Is(err, coord.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	snapshot := &Snapshot{Session: info, Messages: []schema.MessageWithParts{}}

	var status schema.StatusInfo
	switch err := s.getCBOR(ctx, sessionStatusKey(sessionID), &status); {
	case err == nil:
		snapshot.Status = &status
	case !errors.Is(err, coord.ErrNotFound):
		return nil, err
	}

	if err := s.getCBOR(ctx, sessionDiffKey(sessionID), &snapshot.Diff); err != nil && !errors.Is(err, coord.ErrNotFound) {
		return nil, err
	}
	if err := s.getCBOR(ctx, sessionTodosKey(sessionID), &snapshot.Todos); err != nil && !errors.Is(err, coord.ErrNotFound) {
		return nil, err
	}

	messages, err := s.backend.List(ctx, messagePrefix(sessionID))
	if err != nil {
		return nil, fmt.Errorf("store: listing messages for %s: %w", sessionID, err)
	}
	for _, entry := range messages {
		var message schema.MessageInfo
		if err := codec.Unmarshal(entry.Value, &message); err != nil {
			return nil, fmt.Errorf("store: decoding message at %s: %w", entry.Key, err)
		}
		withParts := schema.MessageWithParts{Info: message, Parts: []schema.Part{}}
		if err := s.getCBOR(ctx, partsKey(sessionID, message.ID), &withParts.Parts); err != nil && !errors.Is(err, coord.ErrNotFound) {
			return nil, err
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

	snapshot.CurrentToolCalls = CollectToolCalls(snapshot.Messages)
	return snapshot, nil
}

// CollectToolCalls extracts pending and running tool parts in message
// order, then part order. Shared with the client-side reconciler so a
// snapshot and a locally folded view derive the identical list.
func CollectToolCalls(messages []schema.MessageWithParts) []ToolCall {
	var calls []ToolCall
	for _, message := range messages {
		for _, part := range message.Parts {
			if part.Type != schema.PartTypeTool || part.State == nil {
				continue
			}
			if part.State.Status.Terminal() {
				continue
			}
			calls = append(calls, ToolCall{
				MessageID: message.Info.ID,
				PartID:    part.ID,
				Tool:      part.Tool,
				Status:    part.State.Status,
				Title:     part.State.Title,
			})
		}
	}
	return calls
}

// ListSessions returns every session with stored info, ordered by
// creation time descending (newest first), which is the order session
// pickers display.
func (s *SessionStore) ListSessions(ctx context.Context) ([]schema.SessionInfo, error) {
	entries, err := s.backend.List(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("store: listing sessions: %w", err)
	}

	var sessions []schema.SessionInfo
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Key, "/info") {
			continue
		}
		// Only direct info records: session/<id>/info has exactly
		// three segments.
		if strings.Count(entry.Key, "/") != 2 {
			continue
		}
		var info schema.SessionInfo
		if err := codec.Unmarshal(entry.Value, &info); err != nil {
			return nil, fmt.Errorf("store: decoding session at %s: %w", entry.Key, err)
		}
		sessions = append(sessions, info)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Time.Created != sessions[j].Time.Created {
			return sessions[i].Time.Created > sessions[j].Time.Created
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions, nil
}

// TrackSession records that the dashboard started sessionID for
// ticketID and indexes the association both ways. Subsequent session
// info writes are enriched with the ticket ID and session type.
func (s *SessionStore) TrackSession(ctx context.Context, sessionID, ticketID string, sessionType schema.SessionType, trackedAt float64) error {
	record := schema.TrackedSession{
		SessionID: sessionID,
		TicketID:  ticketID,
		Type:      sessionType,
		TrackedAt: trackedAt,
	}
	if err := s.setCBOR(ctx, trackedKey(sessionID), record); err != nil {
		return err
	}
	if ticketID != "" {
		if err := s.backend.Set(ctx, ticketSessionKey(ticketID), []byte(sessionID)); err != nil {
			return fmt.Errorf("store: indexing ticket %s: %w", ticketID, err)
		}
	}

	// Enrich already-stored info so observers see the association
	// even when the session.created event raced ahead of tracking.
	var info schema.SessionInfo
	err := s.getCBOR(ctx, sessionInfoKey(sessionID), &info)
	switch {
	case errors.Is(err, coord.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	info.TicketID = ticketID
	info.Type = sessionType
	return s.setCBOR(ctx, sessionInfoKey(sessionID), info)
}

// ActiveSessionForTicket returns the session currently associated
// with ticketID. found is false when the ticket has no live session.
func (s *SessionStore) ActiveSessionForTicket(ctx context.Context, ticketID string) (sessionID string, found bool, err error) {
	value, err := s.backend.Get(ctx, ticketSessionKey(ticketID))
	if errors.Is(err, coord.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

// TrackedSession returns the tracking record for sessionID. found is
// false for sessions the dashboard did not start.
func (s *SessionStore) TrackedSession(ctx context.Context, sessionID string) (record schema.TrackedSession, found bool, err error) {
	err = s.getCBOR(ctx, trackedKey(sessionID), &record)
	if errors.Is(err, coord.ErrNotFound) {
		return schema.TrackedSession{}, false, nil
	}
	if err != nil {
		return schema.TrackedSession{}, false, err
	}
	return record, true, nil
}

// getCBOR reads and decodes one CBOR value.
func (s *SessionStore) getCBOR(ctx context.Context, key string, target any) error {
	value, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(value, target); err != nil {
		return fmt.Errorf("store: decoding %s: %w", key, err)
	}
	return nil
}

// setCBOR encodes and writes one CBOR value.
func (s *SessionStore) setCBOR(ctx context.Context, key string, value any) error {
	encoded, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, encoded); err != nil {
		return err
	}
	return nil
}
