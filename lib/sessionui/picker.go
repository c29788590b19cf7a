// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import (
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/junegunn/fzf/src/util"

	"github.com/switchboard-io/switchboard/lib/schema"
)

// pickerMaxRows bounds how many sessions the picker shows at once.
const pickerMaxRows = 12

// pickerItem is one row of the filtered picker list: a session plus
// its current match score and the matched rune positions in the title.
type pickerItem struct {
	session   schema.SessionInfo
	score     int
	positions []int
}

// sessionPicker is the overlay for switching sessions. It owns the
// fetched session list, a filter input fuzzy-matched against titles
// and IDs, and the selection cursor.
type sessionPicker struct {
	sessions []schema.SessionInfo
	items    []pickerItem
	input    []rune
	cursor   int
	loading  bool
	loadErr  string

	// slab is fzf's scratch allocation, reused across matches.
	slab *util.Slab
}

func newSessionPicker() *sessionPicker {
	return &sessionPicker{
		loading: true,
		slab:    util.MakeSlab(100*1024, 2048),
	}
}

// setSessions installs the fetched list and re-applies the filter.
// The list arrives newest-first from the gateway and keeps that order
// while no filter is typed.
func (picker *sessionPicker) setSessions(sessions []schema.SessionInfo) {
	picker.sessions = sessions
	picker.loading = false
	picker.loadErr = ""
	picker.applyFilter()
}

func (picker *sessionPicker) setError(err error) {
	picker.loading = false
	picker.loadErr = err.Error()
}

// handleKey routes one keystroke. Returns closed=true when the picker
// should be dismissed; selected is the chosen session ID, empty on
// cancel.
func (picker *sessionPicker) handleKey(message tea.KeyMsg) (closed bool, selected string) {
	switch message.Type {
	case tea.KeyEscape:
		return true, ""
	case tea.KeyEnter:
		if picker.cursor < len(picker.items) {
			return true, picker.items[picker.cursor].session.ID
		}
		return true, ""
	case tea.KeyUp, tea.KeyCtrlP:
		if picker.cursor > 0 {
			picker.cursor--
		}
	case tea.KeyDown, tea.KeyCtrlN:
		if picker.cursor < len(picker.items)-1 {
			picker.cursor++
		}
	case tea.KeyBackspace:
		if len(picker.input) > 0 {
			picker.input = picker.input[:len(picker.input)-1]
			picker.applyFilter()
		}
	case tea.KeyRunes, tea.KeySpace:
		picker.input = append(picker.input, message.Runes...)
		picker.applyFilter()
	}
	return false, ""
}

// applyFilter rebuilds the visible items from the session list and
// the current input. An empty input shows everything in list order;
// otherwise sessions are scored against title and ID and ranked by
// the better of the two, non-matches dropped.
func (picker *sessionPicker) applyFilter() {
	picker.items = picker.items[:0]

	if len(picker.input) == 0 {
		for _, session := range picker.sessions {
			picker.items = append(picker.items, pickerItem{session: session})
		}
		picker.clampCursor()
		return
	}

	for _, session := range picker.sessions {
		titleMatch := FuzzyMatch(session.Title, picker.input, picker.slab)
		idMatch := FuzzyMatch(session.ID, picker.input, picker.slab)

		item := pickerItem{session: session, score: titleMatch.Score, positions: titleMatch.Positions}
		if idMatch.Score > item.score {
			// Highlighting only covers the title; an ID match still
			// ranks the row but lights nothing up.
			item.score = idMatch.Score
			item.positions = nil
		}
		if item.score > 0 {
			picker.items = append(picker.items, item)
		}
	}

	sort.SliceStable(picker.items, func(a, b int) bool {
		return picker.items[a].score > picker.items[b].score
	})
	picker.clampCursor()
}

func (picker *sessionPicker) clampCursor() {
	if picker.cursor >= len(picker.items) {
		picker.cursor = len(picker.items) - 1
	}
	if picker.cursor < 0 {
		picker.cursor = 0
	}
}

// Render produces the picker block: a title rule, the filter input,
// and the ranked rows with the cursor row inverted and matched title
// runes highlighted.
func (picker *sessionPicker) Render(view *transcriptView, width int) []string {
	theme := view.theme
	faint := view.style().Foreground(theme.FaintText)
	normal := view.style().Foreground(theme.NormalText)

	rule := "─ sessions " + strings.Repeat("─", max(0, width-11))
	lines := []string{view.style().Foreground(theme.BorderColor).Render(ansi.Truncate(rule, width, ""))}
	lines = append(lines, normal.Render("> "+string(picker.input))+normal.Reverse(true).Render(" "))

	switch {
	case picker.loading:
		return append(lines, faint.Render("  loading sessions…"))
	case picker.loadErr != "":
		return append(lines, view.style().Foreground(theme.StatusError).Render("  "+picker.loadErr))
	case len(picker.items) == 0 && len(picker.input) > 0:
		return append(lines, faint.Render("  no matching sessions"))
	case len(picker.items) == 0:
		return append(lines, faint.Render("  no sessions"))
	}

	start := 0
	if picker.cursor >= pickerMaxRows {
		start = picker.cursor - pickerMaxRows + 1
	}
	for index := start; index < len(picker.items) && index < start+pickerMaxRows; index++ {
		lines = append(lines, picker.renderRow(view, picker.items[index], index == picker.cursor, width))
	}
	return lines
}

func (picker *sessionPicker) renderRow(view *transcriptView, item pickerItem, selected bool, width int) string {
	theme := view.theme

	title := item.session.Title
	if title == "" {
		title = item.session.ID
	}
	titleText := picker.highlightTitle(view, title, item.positions, selected)

	detail := item.session.ID
	if item.session.TicketID != "" {
		detail += " · " + item.session.TicketID
	}

	marker := "  "
	if selected {
		marker = "▸ "
	}

	line := marker + titleText + view.style().Foreground(theme.FaintText).Render("  "+detail)
	line = ansi.Truncate(line, width, "…")
	if selected {
		line = view.style().
			Background(theme.SelectedBackground).
			Foreground(theme.SelectedForeground).
			Render(ansi.Strip(line))
	}
	return line
}

// highlightTitle styles the title with matched runes on the search
// highlight background. The selected row skips per-rune styling; its
// row-level inversion would fight with it.
func (picker *sessionPicker) highlightTitle(view *transcriptView, title string, positions []int, selected bool) string {
	if selected || len(positions) == 0 {
		return view.style().Foreground(view.theme.NormalText).Render(title)
	}

	matched := make(map[int]bool, len(positions))
	for _, position := range positions {
		matched[position] = true
	}

	plain := view.style().Foreground(view.theme.NormalText)
	lit := view.style().Foreground(view.theme.NormalText).Background(view.theme.SearchHighlightBackground)

	var builder strings.Builder
	for index, r := range []rune(title) {
		if matched[index] {
			builder.WriteString(lit.Render(string(r)))
		} else {
			builder.WriteString(plain.Render(string(r)))
		}
	}
	return builder.String()
}
