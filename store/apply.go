// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/switchboard-io/switchboard/coord"
	"github.com/switchboard-io/switchboard/lib/schema"
)

// ApplyEvent folds one normalized event into stored state, then
// publishes the event to the session channel (when the event carries
// a session ID) and to the global channel. The fold happens before
// the publish so subscribers that react by fetching a snapshot always
// observe the event's effect.
//
// Events with unknown types mutate nothing and are published as-is;
// forwarding them keeps old servers transparent to new clients.
func (s *SessionStore) ApplyEvent(ctx context.Context, event schema.Event) error {
	var err error
	switch event.Type {
	case schema.EventTypeSessionCreated, schema.EventTypeSessionUpdated:
		err = s.upsertSession(ctx, *event.Session)
	case schema.EventTypeSessionDeleted:
		err = s.RemoveSession(ctx, event.SessionID)
	case schema.EventTypeMessageUpdated:
		err = s.upsertMessage(ctx, *event.Message)
	case schema.EventTypeMessageRemoved:
		err = s.removeMessage(ctx, event.SessionID, event.Remove.MessageID)
	case schema.EventTypePartUpdated:
		err = s.upsertPart(ctx, *event.Part)
	case schema.EventTypePartRemoved:
		err = s.removePart(ctx, event.SessionID, event.Remove.MessageID, event.Remove.PartID)
	case schema.EventTypeSessionStatus:
		err = s.updateStatus(ctx, event.SessionID, *event.Status)
	case schema.EventTypeSessionIdle:
		err = s.updateStatus(ctx, event.SessionID, schema.StatusInfo{Status: schema.SessionStatusIdle})
	case schema.EventTypeSessionError:
		// Errors without a session ID describe the upstream agent as
		// a whole; there is no session state to fold them into.
		if event.SessionID != "" {
			err = s.updateStatus(ctx, event.SessionID, schema.StatusInfo{
				Status: schema.SessionStatusError,
				Detail: event.Error.Message,
			})
		}
	case schema.EventTypeSessionDiff:
		err = s.setCBOR(ctx, sessionDiffKey(event.SessionID), event.Diff)
	case schema.EventTypeTodoUpdated:
		err = s.setCBOR(ctx, sessionTodosKey(event.SessionID), event.Todos)
	case schema.EventTypeSessionCompacted, schema.EventTypeSessionCommand:
		// Notification-only: subscribers may care, stored state does
		// not change.
	default:
		s.logger.Debug("passing through unknown event", "type", event.Type)
	}
	if err != nil {
		return err
	}
	return s.publish(ctx, event)
}

// publish fans the event out as JSON. Session-scoped events go to
// both the session channel and the global channel; events without a
// session ID go to the global channel only.
func (s *SessionStore) publish(ctx context.Context, event schema.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store: encoding event %s: %w", event.Type, err)
	}
	if event.SessionID != "" {
		if err := s.backend.Publish(ctx, SessionChannel(event.SessionID), payload); err != nil {
			return fmt.Errorf("store: publishing to session channel: %w", err)
		}
	}
	if err := s.backend.Publish(ctx, GlobalChannel, payload); err != nil {
		return fmt.Errorf("store: publishing to global channel: %w", err)
	}
	return nil
}

// upsertSession stores info last-writer-wins, carrying over the
// ticket association from the tracking record when the event itself
// does not name one.
func (s *SessionStore) upsertSession(ctx context.Context, info schema.SessionInfo) error {
	if info.TicketID == "" {
		tracked, found, err := s.TrackedSession(ctx, info.ID)
		if err != nil {
			return err
		}
		if found {
			info.TicketID = tracked.TicketID
			if info.Type == "" {
				info.Type = tracked.Type
			}
		}
	}
	return s.setCBOR(ctx, sessionInfoKey(info.ID), info)
}

// upsertMessage stores info last-writer-wins except for completion
// fields: a terminal message is never made non-terminal by a late
// streaming update that lacks them.
func (s *SessionStore) upsertMessage(ctx context.Context, info schema.MessageInfo) error {
	var existing schema.MessageInfo
	err := s.getCBOR(ctx, messageKey(info.SessionID, info.ID), &existing)
	if err != nil && !errors.Is(err, coord.ErrNotFound) {
		return err
	}
	if err == nil {
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
	return s.setCBOR(ctx, messageKey(info.SessionID, info.ID), info)
}

// upsertPart merges the part into its message's part list: existing
// parts are replaced in place (keeping their position), new parts are
// appended. Tool state goes through the monotonic merge so terminal
// outcomes survive late pending/running frames.
func (s *SessionStore) upsertPart(ctx context.Context, part schema.Part) error {
	key := partsKey(part.SessionID, part.MessageID)
	parts := []schema.Part{}
	if err := s.getCBOR(ctx, key, &parts); err != nil && !errors.Is(err, coord.ErrNotFound) {
		return err
	}

	replaced := false
	for i := range parts {
		if parts[i].ID != part.ID {
			continue
		}
		part.State = schema.MergeToolState(parts[i].State, part.State)
		parts[i] = part
		replaced = true
		break
	}
	if !replaced {
		parts = append(parts, part)
	}
	return s.setCBOR(ctx, key, parts)
}

// removeMessage deletes the message record and its parts. Deleting a
// message the store never saw is a no-op.
func (s *SessionStore) removeMessage(ctx context.Context, sessionID, messageID string) error {
	if err := s.backend.Delete(ctx, messageKey(sessionID, messageID)); err != nil {
		return err
	}
	return s.backend.Delete(ctx, partsKey(sessionID, messageID))
}

// removePart deletes one part from its message's part list,
// preserving the order of the rest.
func (s *SessionStore) removePart(ctx context.Context, sessionID, messageID, partID string) error {
	key := partsKey(sessionID, messageID)
	parts := []schema.Part{}
	err := s.getCBOR(ctx, key, &parts)
	if errors.Is(err, coord.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	kept := parts[:0]
	for _, existing := range parts {
		if existing.ID != partID {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(parts) {
		return nil
	}
	return s.setCBOR(ctx, key, kept)
}

// updateStatus stores the session's current status.
func (s *SessionStore) updateStatus(ctx context.Context, sessionID string, status schema.StatusInfo) error {
	return s.setCBOR(ctx, sessionStatusKey(sessionID), status)
}

// RemoveSession deletes every record belonging to sessionID: info,
// status, diff, todos, all messages and part lists, the tracking
// record, and the ticket association when it still points at this
// session. Removal is idempotent.
func (s *SessionStore) RemoveSession(ctx context.Context, sessionID string) error {
	tracked, found, err := s.TrackedSession(ctx, sessionID)
	if err != nil {
		return err
	}

	entries, err := s.backend.List(ctx, sessionPrefix(sessionID))
	if err != nil {
		return fmt.Errorf("store: listing session %s for removal: %w", sessionID, err)
	}
	for _, entry := range entries {
		if err := s.backend.Delete(ctx, entry.Key); err != nil {
			return err
		}
	}
	if err := s.backend.Delete(ctx, trackedKey(sessionID)); err != nil {
		return err
	}

	if found && tracked.TicketID != "" {
		current, active, err := s.ActiveSessionForTicket(ctx, tracked.TicketID)
		if err != nil {
			return err
		}
		if active && current == sessionID {
			if err := s.backend.Delete(ctx, ticketSessionKey(tracked.TicketID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReconcileSession replaces the stored state of one session with the
// authoritative state fetched from the agent, publishing a synthetic
// event per changed entity so live subscribers converge without
// refetching. Parts are written as given: the agent's answer is
// authoritative, so the monotonic tool-state merge does not apply.
func (s *SessionStore) ReconcileSession(ctx context.Context, info schema.SessionInfo, messages []schema.MessageWithParts) error {
	sessionID := info.ID
	if sessionID == "" {
		return fmt.Errorf("store: reconcile: session info has no ID")
	}

	// Messages the agent no longer reports are removed first, so a
	// subscriber never observes a vanished message after its
	// session.updated frame.
	existing, err := s.backend.List(ctx, messagePrefix(sessionID))
	if err != nil {
		return fmt.Errorf("store: listing messages for reconcile of %s: %w", sessionID, err)
	}
	reported := make(map[string]struct{}, len(messages))
	for _, message := range messages {
		reported[message.Info.ID] = struct{}{}
	}
	for _, entry := range existing {
		messageID := strings.TrimPrefix(entry.Key, messagePrefix(sessionID))
		if _, ok := reported[messageID]; ok {
			continue
		}
		if err := s.removeMessage(ctx, sessionID, messageID); err != nil {
			return err
		}
		removal := schema.Event{
			Type:      schema.EventTypeMessageRemoved,
			SessionID: sessionID,
			Remove:    &schema.RemoveInfo{MessageID: messageID},
		}
		if err := s.publish(ctx, removal); err != nil {
			return err
		}
	}

	if err := s.upsertSession(ctx, info); err != nil {
		return err
	}
	updated := schema.Event{
		Type:      schema.EventTypeSessionUpdated,
		SessionID: sessionID,
		Session:   &info,
	}
	if err := s.publish(ctx, updated); err != nil {
		return err
	}

	for _, message := range messages {
		messageInfo := message.Info
		messageInfo.SessionID = sessionID
		if err := s.setCBOR(ctx, messageKey(sessionID, messageInfo.ID), messageInfo); err != nil {
			return err
		}
		messageEvent := schema.Event{
			Type:      schema.EventTypeMessageUpdated,
			SessionID: sessionID,
			Message:   &messageInfo,
		}
		if err := s.publish(ctx, messageEvent); err != nil {
			return err
		}

		parts := message.Parts
		if parts == nil {
			parts = []schema.Part{}
		}
		if err := s.setCBOR(ctx, partsKey(sessionID, messageInfo.ID), parts); err != nil {
			return err
		}
		for i := range parts {
			partEvent := schema.Event{
				Type:      schema.EventTypePartUpdated,
				SessionID: sessionID,
				Part:      &parts[i],
			}
			if err := s.publish(ctx, partEvent); err != nil {
				return err
			}
		}
	}

	s.logger.Debug("reconciled session", "sessionID", sessionID, "messages", len(messages))
	return nil
}
