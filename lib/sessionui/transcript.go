// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/store"
)

// Tool lifecycle glyphs, one per status.
const (
	glyphToolPending   = "○"
	glyphToolRunning   = "◐"
	glyphToolCompleted = "●"
	glyphToolError     = "✗"
)

// toolOutputTail bounds how many trailing output lines a completed
// tool shows inline. Full output belongs in the agent's own UI; the
// transcript only needs enough to tell what happened.
const toolOutputTail = 3

// transcriptView renders folded session snapshots into terminal
// lines. Create one per render pass; it carries the width and a
// lipgloss renderer with a forced color profile.
type transcriptView struct {
	theme Theme
	width int
	lip   *lipgloss.Renderer
}

func newTranscriptView(theme Theme, width int) *transcriptView {
	// Forced ANSI256 for the same reason as the markdown renderer:
	// output always goes to the TUI, never to a pipe.
	lip := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	lip.SetColorProfile(termenv.ANSI256)
	return &transcriptView{theme: theme, width: width, lip: lip}
}

func (view *transcriptView) style() lipgloss.Style {
	return view.lip.NewStyle()
}

// Render produces the transcript lines for a snapshot, one terminal
// row per element. Messages render in snapshot order with a blank
// line between them.
func (view *transcriptView) Render(snapshot *store.Snapshot) []string {
	if snapshot == nil {
		return nil
	}

	var lines []string
	for index, message := range snapshot.Messages {
		if index > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, view.renderMessage(message)...)
	}
	return lines
}

func (view *transcriptView) renderMessage(message schema.MessageWithParts) []string {
	lines := []string{view.renderMessageHeader(message.Info)}

	for _, part := range message.Parts {
		switch part.Type {
		case schema.PartTypeText:
			lines = append(lines, view.renderTextPart(part)...)
		case schema.PartTypeReasoning:
			lines = append(lines, view.renderReasoningPart(part)...)
		case schema.PartTypeTool:
			lines = append(lines, view.renderToolPart(part)...)
		case schema.PartTypeFile:
			lines = append(lines, view.renderFilePart(part))
		case schema.PartTypeStepStart, schema.PartTypeStepFinish:
			// Step boundaries carry no content worth a row.
		}
	}

	if message.Info.Error != nil {
		errorStyle := view.style().Foreground(view.theme.StatusError)
		lines = append(lines, errorStyle.Render("  ⚠ "+message.Info.Error.Message))
	}

	return lines
}

// renderMessageHeader renders the role marker line: a colored bar,
// the role, the model when known, and the creation clock time.
func (view *transcriptView) renderMessageHeader(info schema.MessageInfo) string {
	roleStyle := view.style().Foreground(view.theme.RoleColor(info.Role)).Bold(true)
	faint := view.style().Foreground(view.theme.FaintText)

	header := roleStyle.Render("▍" + info.Role)
	if info.Model != "" {
		header += faint.Render(" · " + info.Model)
	}
	if info.Time.Created > 0 {
		header += faint.Render(" · " + formatClock(info.Time.Created))
	}
	return header
}

func (view *transcriptView) renderTextPart(part schema.Part) []string {
	if strings.TrimSpace(part.Text) == "" {
		return nil
	}
	rendered := renderMarkdown(part.Text, view.theme, view.width-2)
	return indentLines(strings.Split(rendered, "\n"), "  ")
}

// renderReasoningPart renders thinking text faint and italic, clearly
// set off from the reply itself.
func (view *transcriptView) renderReasoningPart(part schema.Part) []string {
	text := strings.TrimSpace(part.Text)
	if text == "" {
		return nil
	}
	style := view.style().Foreground(view.theme.FaintText).Italic(true)
	wrapped := ansi.Wrap(style.Render(text), view.width-2, " ,.;-+|")
	return indentLines(strings.Split(wrapped, "\n"), "  ")
}

// renderToolPart renders a tool invocation as a status line plus, for
// finished calls, a short output or error tail.
func (view *transcriptView) renderToolPart(part schema.Part) []string {
	status := schema.ToolStatusPending
	if part.State != nil {
		status = part.State.Status
	}

	statusStyle := view.style().Foreground(view.theme.ToolColor(status))
	faint := view.style().Foreground(view.theme.FaintText)

	line := "  " + statusStyle.Render(toolGlyph(status)+" "+part.Tool)
	if part.State != nil {
		if part.State.Title != "" {
			line += faint.Render(" · " + part.State.Title)
		}
		if duration := toolDuration(part.State.Time); duration != "" {
			line += faint.Render(" · " + duration)
		}
	}
	lines := []string{line}

	if part.State == nil {
		return lines
	}
	switch status {
	case schema.ToolStatusError:
		if part.State.Error != "" {
			errorStyle := view.style().Foreground(view.theme.ToolError)
			wrapped := ansi.Wrap(errorStyle.Render(part.State.Error), view.width-4, " ,.;-+|")
			lines = append(lines, indentLines(strings.Split(wrapped, "\n"), "    ")...)
		}
	case schema.ToolStatusCompleted:
		lines = append(lines, view.renderOutputTail(part.State.Output)...)
	}
	return lines
}

// renderOutputTail renders the last few lines of tool output, faint
// and truncated to the pane width.
func (view *transcriptView) renderOutputTail(output string) []string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return nil
	}
	outputLines := strings.Split(output, "\n")
	if len(outputLines) > toolOutputTail {
		outputLines = outputLines[len(outputLines)-toolOutputTail:]
	}

	faint := view.style().Foreground(view.theme.FaintText)
	rendered := make([]string, 0, len(outputLines))
	for _, line := range outputLines {
		rendered = append(rendered, "    "+faint.Render(ansi.Truncate(line, view.width-4, "…")))
	}
	return rendered
}

func (view *transcriptView) renderFilePart(part schema.Part) string {
	faint := view.style().Foreground(view.theme.FaintText)
	name := part.Filename
	if name == "" {
		name = part.URL
	}
	line := "  " + faint.Render("⎘ "+name)
	if part.Mime != "" {
		line += faint.Render(" (" + part.Mime + ")")
	}
	return line
}

func toolGlyph(status schema.ToolStatus) string {
	switch status {
	case schema.ToolStatusRunning:
		return glyphToolRunning
	case schema.ToolStatusCompleted:
		return glyphToolCompleted
	case schema.ToolStatusError:
		return glyphToolError
	default:
		return glyphToolPending
	}
}

// toolDuration formats how long a tool call took (or has been running
// when not finished). Empty when the start time is unknown.
func toolDuration(info *schema.TimeInfo) string {
	if info == nil || info.Created <= 0 {
		return ""
	}
	end := info.Completed
	if end <= 0 {
		return ""
	}
	elapsed := time.Duration((end - info.Created) * float64(time.Millisecond))
	if elapsed < 0 {
		return ""
	}
	return formatDuration(elapsed)
}

// formatDuration renders a duration compactly: milliseconds under a
// second, tenths of seconds under a minute, then minutes and seconds.
func formatDuration(elapsed time.Duration) string {
	switch {
	case elapsed < time.Second:
		return fmt.Sprintf("%dms", elapsed.Milliseconds())
	case elapsed < time.Minute:
		return fmt.Sprintf("%.1fs", elapsed.Seconds())
	default:
		minutes := int(elapsed.Minutes())
		seconds := int(elapsed.Seconds()) - minutes*60
		return fmt.Sprintf("%dm%02ds", minutes, seconds)
	}
}

// formatClock renders a millisecond epoch timestamp as local
// wall-clock time.
func formatClock(epochMillis float64) string {
	return time.UnixMilli(int64(epochMillis)).Local().Format("15:04:05")
}

// indentLines prefixes every line with the given indent.
func indentLines(lines []string, indent string) []string {
	indented := make([]string, len(lines))
	for index, line := range lines {
		indented[index] = indent + line
	}
	return indented
}
