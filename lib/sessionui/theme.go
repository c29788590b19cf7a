// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/switchboard-io/switchboard/lib/schema"
)

// Theme defines the color palette for the session watcher. All colors
// use lipgloss ANSI 256-color codes for broad terminal compatibility.
//
// The fields cover universal chrome (text, selection, borders) and the
// semantic categories the transcript renders: message roles, session
// status, tool lifecycle, and connection health.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row in the session picker.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Message role accents.
	UserRole      lipgloss.Color
	AssistantRole lipgloss.Color

	// Session status.
	StatusIdle  lipgloss.Color
	StatusBusy  lipgloss.Color
	StatusRetry lipgloss.Color
	StatusError lipgloss.Color

	// Tool invocation lifecycle.
	ToolPending   lipgloss.Color
	ToolRunning   lipgloss.Color
	ToolCompleted lipgloss.Color
	ToolError     lipgloss.Color

	// Connection footer.
	ConnectionLive        lipgloss.Color
	ConnectionReconnect   lipgloss.Color
	ConnectionUnavailable lipgloss.Color

	// Diff pane counters.
	DiffAdditions lipgloss.Color
	DiffDeletions lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Markdown accents.
	HeadingForeground lipgloss.Color
	CodeForeground    lipgloss.Color
	CodeBackground    lipgloss.Color
	LinkForeground    lipgloss.Color

	// Picker filter match highlighting.
	SearchHighlightBackground lipgloss.Color
}

// StatusColor returns the color for a session status. Unknown values
// return FaintText.
func (theme Theme) StatusColor(status schema.SessionStatus) lipgloss.Color {
	switch status {
	case schema.SessionStatusIdle:
		return theme.StatusIdle
	case schema.SessionStatusBusy:
		return theme.StatusBusy
	case schema.SessionStatusRetry:
		return theme.StatusRetry
	case schema.SessionStatusError:
		return theme.StatusError
	default:
		return theme.FaintText
	}
}

// ToolColor returns the color for a tool lifecycle phase. Unknown
// values return FaintText.
func (theme Theme) ToolColor(status schema.ToolStatus) lipgloss.Color {
	switch status {
	case schema.ToolStatusPending:
		return theme.ToolPending
	case schema.ToolStatusRunning:
		return theme.ToolRunning
	case schema.ToolStatusCompleted:
		return theme.ToolCompleted
	case schema.ToolStatusError:
		return theme.ToolError
	default:
		return theme.FaintText
	}
}

// RoleColor returns the accent color for a message role. Roles other
// than "user" render with the assistant accent: tool and system
// output belongs to the assistant side of the conversation.
func (theme Theme) RoleColor(role string) lipgloss.Color {
	if role == "user" {
		return theme.UserRole
	}
	return theme.AssistantRole
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed
// for 256-color terminals with a dark background (the common case for
// development environments and tmux sessions).
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	UserRole:      lipgloss.Color("75"),  // blue
	AssistantRole: lipgloss.Color("114"), // green

	StatusIdle:  lipgloss.Color("245"), // gray
	StatusBusy:  lipgloss.Color("220"), // yellow/amber
	StatusRetry: lipgloss.Color("208"), // orange
	StatusError: lipgloss.Color("196"), // red

	ToolPending:   lipgloss.Color("245"), // gray
	ToolRunning:   lipgloss.Color("220"), // amber
	ToolCompleted: lipgloss.Color("114"), // green
	ToolError:     lipgloss.Color("196"), // red

	ConnectionLive:        lipgloss.Color("114"), // green
	ConnectionReconnect:   lipgloss.Color("220"), // amber
	ConnectionUnavailable: lipgloss.Color("196"), // red

	DiffAdditions: lipgloss.Color("114"), // green
	DiffDeletions: lipgloss.Color("196"), // red

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	HeadingForeground: lipgloss.Color("255"),
	CodeForeground:    lipgloss.Color("252"),
	CodeBackground:    lipgloss.Color("236"),
	LinkForeground:    lipgloss.Color("75"),

	SearchHighlightBackground: lipgloss.Color("58"), // dark amber
}
