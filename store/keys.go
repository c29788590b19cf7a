// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package store

// Key layout in the coordination store. Everything belonging to a
// session lives under session/<id>/, so removal is a prefix sweep and
// cross-session interference is structurally impossible.
//
//	session/<id>/info           CBOR schema.SessionInfo
//	session/<id>/status         CBOR schema.StatusInfo
//	session/<id>/diff           CBOR []schema.DiffItem
//	session/<id>/todos          CBOR []schema.TodoItem
//	session/<id>/message/<mid>  CBOR schema.MessageInfo
//	session/<id>/parts/<mid>    CBOR []schema.Part (ordered)
//	ticket/<ticketID>/session   session ID bytes
//	tracked/<id>                CBOR schema.TrackedSession

const (
	sessionKeyPrefix = "session/"
	ticketKeyPrefix  = "ticket/"
	trackedKeyPrefix = "tracked/"
)

func sessionPrefix(sessionID string) string { return sessionKeyPrefix + sessionID + "/" }

func sessionInfoKey(sessionID string) string { return sessionPrefix(sessionID) + "info" }

func sessionStatusKey(sessionID string) string { return sessionPrefix(sessionID) + "status" }

func sessionDiffKey(sessionID string) string { return sessionPrefix(sessionID) + "diff" }

func sessionTodosKey(sessionID string) string { return sessionPrefix(sessionID) + "todos" }

func messageKey(sessionID, messageID string) string {
	return sessionPrefix(sessionID) + "message/" + messageID
}

func messagePrefix(sessionID string) string { return sessionPrefix(sessionID) + "message/" }

func partsKey(sessionID, messageID string) string {
	return sessionPrefix(sessionID) + "parts/" + messageID
}

func ticketSessionKey(ticketID string) string { return ticketKeyPrefix + ticketID + "/session" }

func trackedKey(sessionID string) string { return trackedKeyPrefix + sessionID }

// GlobalChannel carries every applied event plus unknown passthrough
// events. Observers that want the whole feed (the debug viewer, the
// session list) subscribe here.
const GlobalChannel = "events/global"

// SessionChannel returns the pub/sub channel carrying one session's
// events in application order.
func SessionChannel(sessionID string) string { return "events/session/" + sessionID }
