// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// noticeSeverity styles a status-bar notice.
type noticeSeverity int

const (
	noticeWarn noticeSeverity = iota
	noticeError
)

// noticeMsg delivers a background log record (or an internal warning)
// to the model for display in the status bar.
type noticeMsg struct {
	summary  string
	severity noticeSeverity
}

// noticeFadeMsg clears the notice and restores the help line.
type noticeFadeMsg struct{}

// noticeFadeDelay is how long a notice stays visible.
const noticeFadeDelay = 5 * time.Second

func scheduleNoticeFade() tea.Cmd {
	return tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{}
	})
}

// LogHandler is a slog.Handler that routes warnings and errors from
// background components (the session client, mostly) into the
// bubbletea program as status-bar notices. Writing them to stderr
// instead would corrupt the alt-screen display.
//
// Create the handler before the program, then call SetProgram once
// the tea.Program exists. Records arriving before that are dropped.
// Handlers derived via WithAttrs/WithGroup share the program pointer,
// so one SetProgram call covers all of them.
type LogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
}

// NewLogHandler creates a handler delivering records at or above
// level to the program set later via SetProgram.
func NewLogHandler(level slog.Level) *LogHandler {
	return &LogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
	}
}

// SetProgram sets the receiving program. Safe from any goroutine.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

// Enabled implements slog.Handler.
func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle formats the record as a one-line summary and sends it to the
// program. Dropped silently when no program is set yet.
func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}

	var parts []string
	for _, attr := range handler.attrs {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
		return true
	})

	summary := record.Message
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}

	severity := noticeWarn
	if record.Level >= slog.LevelError {
		severity = noticeError
	}
	program.Send(noticeMsg{summary: summary, severity: severity})
	return nil
}

// WithAttrs implements slog.Handler. The derived handler shares the
// program pointer.
func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *handler
	derived.attrs = append(append([]slog.Attr{}, handler.attrs...), attrs...)
	return &derived
}

// WithGroup implements slog.Handler. Group nesting is flattened: the
// status bar has one line, qualified attr keys are not worth it.
func (handler *LogHandler) WithGroup(string) slog.Handler {
	return handler
}
