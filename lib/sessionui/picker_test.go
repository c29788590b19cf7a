// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/switchboard-io/switchboard/lib/schema"
)

func pickerSessions() []schema.SessionInfo {
	return []schema.SessionInfo{
		{ID: "ses-3", Title: "Investigate flaky store test", TicketID: "TCK-9"},
		{ID: "ses-2", Title: "Refactor gateway heartbeats"},
		{ID: "ses-1", Title: "Write release notes"},
	}
}

func typeRunes(t *testing.T, picker *sessionPicker, input string) {
	t.Helper()
	for _, r := range input {
		closed, _ := picker.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		if closed {
			t.Fatalf("typing %q should not close the picker", input)
		}
	}
}

func TestPickerEmptyInputKeepsListOrder(t *testing.T) {
	picker := newSessionPicker()
	picker.setSessions(pickerSessions())

	if len(picker.items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(picker.items))
	}
	for index, want := range []string{"ses-3", "ses-2", "ses-1"} {
		if picker.items[index].session.ID != want {
			t.Errorf("item %d should be %s, got %s", index, want, picker.items[index].session.ID)
		}
	}
}

func TestPickerFilterNarrowsAndRanks(t *testing.T) {
	picker := newSessionPicker()
	picker.setSessions(pickerSessions())

	typeRunes(t, picker, "store")

	if len(picker.items) != 1 {
		t.Fatalf("expected 1 match for 'store', got %d", len(picker.items))
	}
	if picker.items[0].session.ID != "ses-3" {
		t.Errorf("expected ses-3, got %s", picker.items[0].session.ID)
	}
	if len(picker.items[0].positions) == 0 {
		t.Error("title match should record highlight positions")
	}
}

func TestPickerMatchesByID(t *testing.T) {
	picker := newSessionPicker()
	picker.setSessions(pickerSessions())

	typeRunes(t, picker, "ses-2")

	found := false
	for _, item := range picker.items {
		if item.session.ID == "ses-2" {
			found = true
			if len(item.positions) != 0 {
				t.Error("an ID match should not highlight title runes")
			}
		}
	}
	if !found {
		t.Fatalf("expected ses-2 in results, got %+v", picker.items)
	}
}

func TestPickerBackspaceRestoresList(t *testing.T) {
	picker := newSessionPicker()
	picker.setSessions(pickerSessions())

	typeRunes(t, picker, "zz")
	if len(picker.items) != 0 {
		t.Fatalf("expected no matches for 'zz', got %d", len(picker.items))
	}

	picker.handleKey(tea.KeyMsg{Type: tea.KeyBackspace})
	picker.handleKey(tea.KeyMsg{Type: tea.KeyBackspace})
	if len(picker.items) != 3 {
		t.Errorf("expected full list after clearing input, got %d", len(picker.items))
	}
}

func TestPickerSelection(t *testing.T) {
	picker := newSessionPicker()
	picker.setSessions(pickerSessions())

	picker.handleKey(tea.KeyMsg{Type: tea.KeyDown})
	closed, selected := picker.handleKey(tea.KeyMsg{Type: tea.KeyEnter})

	if !closed {
		t.Fatal("enter should close the picker")
	}
	if selected != "ses-2" {
		t.Errorf("expected ses-2 selected, got %q", selected)
	}
}

func TestPickerEscapeCancels(t *testing.T) {
	picker := newSessionPicker()
	picker.setSessions(pickerSessions())

	closed, selected := picker.handleKey(tea.KeyMsg{Type: tea.KeyEscape})
	if !closed {
		t.Fatal("escape should close the picker")
	}
	if selected != "" {
		t.Errorf("escape should select nothing, got %q", selected)
	}
}

func TestPickerCursorBounds(t *testing.T) {
	picker := newSessionPicker()
	picker.setSessions(pickerSessions())

	picker.handleKey(tea.KeyMsg{Type: tea.KeyUp})
	if picker.cursor != 0 {
		t.Errorf("cursor should stay at 0, got %d", picker.cursor)
	}

	for range 10 {
		picker.handleKey(tea.KeyMsg{Type: tea.KeyDown})
	}
	if picker.cursor != 2 {
		t.Errorf("cursor should clamp to last item, got %d", picker.cursor)
	}

	// Narrowing the list pulls the cursor back in range.
	typeRunes(t, picker, "store")
	if picker.cursor != 0 {
		t.Errorf("cursor should clamp after filtering, got %d", picker.cursor)
	}
}

func TestPickerRenderStates(t *testing.T) {
	view := newTranscriptView(DefaultTheme, 60)

	picker := newSessionPicker()
	loading := ansi.Strip(strings.Join(picker.Render(view, 60), "\n"))
	if !strings.Contains(loading, "loading sessions") {
		t.Errorf("expected loading notice, got:\n%s", loading)
	}

	picker.setError(errors.New("gateway unreachable"))
	failed := ansi.Strip(strings.Join(picker.Render(view, 60), "\n"))
	if !strings.Contains(failed, "gateway unreachable") {
		t.Errorf("expected error notice, got:\n%s", failed)
	}

	picker.setSessions(pickerSessions())
	listed := ansi.Strip(strings.Join(picker.Render(view, 60), "\n"))
	for _, want := range []string{"Investigate flaky store test", "ses-3 · TCK-9", "▸"} {
		if !strings.Contains(listed, want) {
			t.Errorf("expected %q in picker render, got:\n%s", want, listed)
		}
	}

	picker.setSessions(nil)
	empty := ansi.Strip(strings.Join(picker.Render(view, 60), "\n"))
	if !strings.Contains(empty, "no sessions") {
		t.Errorf("expected empty notice, got:\n%s", empty)
	}
}
