// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
)

// SessionType classifies how a tracked session was started from the
// dashboard. Sessions the pipeline merely observes (started outside
// the dashboard) have no type.
type SessionType string

const (
	// SessionTypeChat is an interactive conversation attached to a
	// ticket.
	SessionTypeChat SessionType = "chat"

	// SessionTypeAsk is a one-shot question session.
	SessionTypeAsk SessionType = "ask"

	// SessionTypeAdmin is a maintenance session not tied to a ticket.
	SessionTypeAdmin SessionType = "admin"
)

// ParseSessionType parses a session type as it appears in API requests
// and config. Empty input defaults to chat.
func ParseSessionType(name string) (SessionType, error) {
	switch SessionType(name) {
	case SessionTypeChat, SessionTypeAsk, SessionTypeAdmin:
		return SessionType(name), nil
	case "":
		return SessionTypeChat, nil
	default:
		return "", fmt.Errorf("schema: unknown session type %q", name)
	}
}

// SessionStatus is the coarse activity state of a session. Updates are
// last-write-wins; there is no status ordering to enforce.
type SessionStatus string

const (
	SessionStatusIdle  SessionStatus = "idle"
	SessionStatusBusy  SessionStatus = "busy"
	SessionStatusRetry SessionStatus = "retry"
	SessionStatusError SessionStatus = "error"
)

// TimeInfo carries upstream timestamps in milliseconds since the Unix
// epoch, matching the agent's wire format. Zero means unset.
type TimeInfo struct {
	Created   float64 `json:"created,omitempty"`
	Updated   float64 `json:"updated,omitempty"`
	Completed float64 `json:"completed,omitempty"`
}

// SessionInfo describes one agent session. ID is server-assigned and
// is the merge key everywhere; array positions are never identity.
//
// TicketID and Type are filled by the session store from its tracking
// index for sessions the dashboard started; the normalizer leaves them
// empty.
type SessionInfo struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	Directory string      `json:"directory,omitempty"`
	Time      TimeInfo    `json:"time"`
	TicketID  string      `json:"ticketID,omitempty"`
	Type      SessionType `json:"sessionType,omitempty"`
}

// MessageInfo describes one message in a session. Role is "user" or
// "assistant". Model, FinishReason, and Error are set once when known
// and never regress to empty on later updates.
type MessageInfo struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"sessionID"`
	Role         string     `json:"role"`
	Time         TimeInfo   `json:"time"`
	Model        string     `json:"model,omitempty"`
	FinishReason string     `json:"finishReason,omitempty"`
	Error        *ErrorInfo `json:"error,omitempty"`
}

// PartType discriminates the Part union.
type PartType string

const (
	// PartTypeText is assistant or user prose.
	PartTypeText PartType = "text"

	// PartTypeReasoning is the model's thinking output.
	PartTypeReasoning PartType = "reasoning"

	// PartTypeTool is a tool invocation with its lifecycle state.
	PartTypeTool PartType = "tool"

	// PartTypeStepStart marks the beginning of an agent step.
	PartTypeStepStart PartType = "step-start"

	// PartTypeStepFinish marks the end of an agent step and carries
	// its token/cost accounting.
	PartTypeStepFinish PartType = "step-finish"

	// PartTypeFile is a file attachment reference.
	PartTypeFile PartType = "file"
)

// TokenCount is per-step token accounting from step-finish parts.
type TokenCount struct {
	Input     int64 `json:"input,omitempty"`
	Output    int64 `json:"output,omitempty"`
	Reasoning int64 `json:"reasoning,omitempty"`
	Cache     struct {
		Read  int64 `json:"read,omitempty"`
		Write int64 `json:"write,omitempty"`
	} `json:"cache,omitempty"`
}

// Part is one unit of message content. Type selects which of the
// optional fields are meaningful: Text for text and reasoning parts,
// Tool/CallID/State for tool parts, Mime/Filename/URL for file parts,
// Tokens/Cost for step-finish parts.
//
// Parts are identified by ID within their message; updates to an
// existing ID replace that part in place, preserving its position.
type Part struct {
	ID        string      `json:"id"`
	MessageID string      `json:"messageID"`
	SessionID string      `json:"sessionID"`
	Type      PartType    `json:"type"`
	Text      string      `json:"text,omitempty"`
	Tool      string      `json:"tool,omitempty"`
	CallID    string      `json:"callID,omitempty"`
	State     *ToolState  `json:"state,omitempty"`
	Mime      string      `json:"mime,omitempty"`
	Filename  string      `json:"filename,omitempty"`
	URL       string      `json:"url,omitempty"`
	Time      *TimeInfo   `json:"time,omitempty"`
	Tokens    *TokenCount `json:"tokens,omitempty"`
	Cost      float64     `json:"cost,omitempty"`
}

// MessageWithParts pairs a message with its ordered content parts.
// This is the shape the agent's message-fetch endpoint returns and
// the shape snapshots carry.
type MessageWithParts struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// ToolStatus is the lifecycle phase of a tool invocation.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
)

// Terminal reports whether the status is an end state. Terminal
// statuses are never replaced by pending or running (see
// [MergeToolState]).
func (s ToolStatus) Terminal() bool {
	return s == ToolStatusCompleted || s == ToolStatusError
}

// ToolState is the lifecycle state of one tool invocation. Input and
// Metadata are kept as raw JSON: the pipeline forwards them verbatim
// and only the UI layer decodes them for display.
type ToolState struct {
	Status   ToolStatus      `json:"status"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   string          `json:"output,omitempty"`
	Title    string          `json:"title,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Time     *TimeInfo       `json:"time,omitempty"`
}

// DiffItem is one changed file in a session's working tree.
type DiffItem struct {
	Path      string `json:"path"`
	Status    string `json:"status"` // "added", "modified", or "deleted"
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// TodoItem is one entry in a session's todo list.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // "pending", "in_progress", "completed", "cancelled"
}

// ErrorInfo is a structured error from the agent.
type ErrorInfo struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

// TrackedSession records a session the dashboard started, associating
// it with a ticket. TrackedAt is milliseconds since the Unix epoch.
type TrackedSession struct {
	SessionID string      `json:"sessionID"`
	TicketID  string      `json:"ticketID,omitempty"`
	Type      SessionType `json:"sessionType"`
	TrackedAt float64     `json:"trackedAt"`
}
