// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/switchboard-io/switchboard/client"
	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/store"
)

const (
	// sessionListTimeout bounds the picker's session fetch.
	sessionListTimeout = 10 * time.Second

	// spinnerInterval paces the busy spinner in the status bar.
	spinnerInterval = 120 * time.Millisecond

	// todoPaneMax and diffPaneMax cap the toggled panes so a long
	// todo list cannot squeeze the transcript out.
	todoPaneMax = 6
	diffPaneMax = 6
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Dialer creates session clients on demand. Dial must return a client
// that is already started; the model stops it when switching away or
// quitting.
type Dialer interface {
	Dial(sessionID string) (*client.Client, error)
}

// SessionLister feeds the session picker. The gateway's list endpoint
// returns sessions newest-first and the picker keeps that order until
// a filter is typed.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]schema.SessionInfo, error)
}

// Config carries the collaborators a Model needs.
type Config struct {
	// Dialer connects session clients. Required.
	Dialer Dialer
	// Sessions lists sessions for the picker. Required.
	Sessions SessionLister
	// SessionID, when set, is followed immediately. When empty the
	// picker opens at startup.
	SessionID string
	// ShowTodos and ShowDiff set the initial pane toggles.
	ShowTodos bool
	ShowDiff  bool
}

// updateMsg signals that the active client's state may have changed.
// The generation guards against deliveries from a client the model
// has already switched away from.
type updateMsg struct {
	generation int
}

// sessionsLoadedMsg delivers the picker's session fetch result.
type sessionsLoadedMsg struct {
	sessions []schema.SessionInfo
	err      error
}

// spinnerTickMsg advances the busy spinner. While the session is
// active a new tick is scheduled after each one.
type spinnerTickMsg struct{}

// Model is the top-level bubbletea model for the session watcher.
type Model struct {
	dialer Dialer
	lister SessionLister
	theme  Theme
	keys   KeyMap

	// Active session client. generation increments on every switch so
	// stale updateMsg deliveries can be recognized and dropped.
	active     *client.Client
	activeID   string
	generation int

	// Last state read from the client.
	snapshot   *store.Snapshot
	connection client.ConnectionInfo
	deleted    bool

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	// Rendered transcript cache and scroll state. follow pins the
	// view to the newest line until the user scrolls up.
	lines        []string
	scrollOffset int
	follow       bool

	// Pane toggles.
	showTodos bool
	showDiff  bool

	// Session picker overlay; nil when closed.
	picker *sessionPicker

	// Busy spinner.
	spinnerFrame   int
	spinnerRunning bool

	// Transient status-bar notice from background logging; replaces
	// the help line until it fades.
	notice      string
	noticeLevel noticeSeverity
}

// NewModel creates a Model. When config.SessionID is set the session
// is dialed immediately; a dial failure is returned rather than
// rendered, since at startup there is nothing else to show.
func NewModel(config Config) (Model, error) {
	if config.Dialer == nil {
		return Model{}, errors.New("sessionui: config needs a dialer")
	}
	if config.Sessions == nil {
		return Model{}, errors.New("sessionui: config needs a session lister")
	}

	model := Model{
		dialer:    config.Dialer,
		lister:    config.Sessions,
		theme:     DefaultTheme,
		keys:      DefaultKeyMap,
		follow:    true,
		showTodos: config.ShowTodos,
		showDiff:  config.ShowDiff,
	}

	if config.SessionID != "" {
		active, err := config.Dialer.Dial(config.SessionID)
		if err != nil {
			return Model{}, fmt.Errorf("sessionui: dialing session %s: %w", config.SessionID, err)
		}
		model.active = active
		model.activeID = config.SessionID
	} else {
		model.picker = newSessionPicker()
	}

	return model, nil
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	var commands []tea.Cmd
	if model.active != nil {
		commands = append(commands, waitForUpdate(model.generation, model.active))
	}
	if model.picker != nil {
		commands = append(commands, loadSessionList(model.lister))
	}
	return tea.Batch(commands...)
}

// waitForUpdate returns a tea.Cmd that blocks until the client signals
// a change or its run loop exits. Both cases deliver an updateMsg: the
// loop exit still needs a repaint (the footer shows the final state),
// and the generation guard keeps deliveries from replaced clients
// harmless.
func waitForUpdate(generation int, active *client.Client) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-active.Updates():
		case <-active.Done():
		}
		return updateMsg{generation: generation}
	}
}

// loadSessionList fetches the session list for the picker.
func loadSessionList(lister SessionLister) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sessionListTimeout)
		defer cancel()
		sessions, err := lister.ListSessions(ctx)
		return sessionsLoadedMsg{sessions: sessions, err: err}
	}
}

func scheduleSpinnerTick() tea.Cmd {
	return tea.Tick(spinnerInterval, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.rebuildTranscript()
		return model, nil

	case updateMsg:
		if message.generation != model.generation {
			// A client we already switched away from; let the
			// listener die with it.
			return model, nil
		}
		return model.refreshFromClient()

	case sessionsLoadedMsg:
		if model.picker == nil {
			return model, nil
		}
		if message.err != nil {
			model.picker.setError(message.err)
		} else {
			model.picker.setSessions(message.sessions)
		}
		return model, nil

	case spinnerTickMsg:
		if !model.sessionActive() {
			model.spinnerRunning = false
			return model, nil
		}
		model.spinnerFrame = (model.spinnerFrame + 1) % len(spinnerFrames)
		return model, scheduleSpinnerTick()

	case noticeMsg:
		model.notice = message.summary
		model.noticeLevel = message.severity
		return model, scheduleNoticeFade()

	case noticeFadeMsg:
		model.notice = ""
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(message)
	}

	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The picker owns the keyboard while open, except for hard quit.
	if model.picker != nil {
		if message.Type == tea.KeyCtrlC {
			return model.quit()
		}
		closed, selected := model.picker.handleKey(message)
		if !closed {
			return model, nil
		}
		model.picker = nil
		if selected != "" && selected != model.activeID {
			return model.switchSession(selected)
		}
		return model, nil
	}

	switch {
	case key.Matches(message, model.keys.Quit):
		return model.quit()

	case key.Matches(message, model.keys.Up):
		model.follow = false
		model.scrollBy(-1)

	case key.Matches(message, model.keys.Down):
		model.scrollBy(1)

	case key.Matches(message, model.keys.PageUp):
		model.follow = false
		model.scrollBy(-model.visibleHeight())

	case key.Matches(message, model.keys.PageDown):
		model.scrollBy(model.visibleHeight())

	case key.Matches(message, model.keys.Home):
		model.follow = false
		model.scrollOffset = 0

	case key.Matches(message, model.keys.End):
		model.follow = true
		model.scrollOffset = model.maxScroll()

	case key.Matches(message, model.keys.ToggleTodos):
		model.showTodos = !model.showTodos
		model.clampScroll()

	case key.Matches(message, model.keys.ToggleDiff):
		model.showDiff = !model.showDiff
		model.clampScroll()

	case key.Matches(message, model.keys.PickSession):
		model.picker = newSessionPicker()
		return model, loadSessionList(model.lister)

	case key.Matches(message, model.keys.Retry):
		if model.connection.Terminal() {
			return model.switchSession(model.activeID)
		}
	}

	return model, nil
}

func (model Model) quit() (tea.Model, tea.Cmd) {
	if model.active != nil {
		model.active.Stop()
	}
	return model, tea.Quit
}

// switchSession replaces the active client. Dialing is synchronous:
// it only constructs the client and starts its loop, the first
// connection attempt happens on that loop.
func (model Model) switchSession(sessionID string) (tea.Model, tea.Cmd) {
	if model.active != nil {
		model.active.Stop()
	}

	active, err := model.dialer.Dial(sessionID)
	if err != nil {
		model.active = nil
		model.activeID = ""
		model.notice = fmt.Sprintf("cannot open session %s: %v", sessionID, err)
		model.noticeLevel = noticeError
		return model, scheduleNoticeFade()
	}

	model.generation++
	model.active = active
	model.activeID = sessionID
	model.snapshot = nil
	model.connection = active.Connection()
	model.deleted = false
	model.follow = true
	model.scrollOffset = 0
	model.rebuildTranscript()

	return model, waitForUpdate(model.generation, active)
}

// refreshFromClient re-reads everything from the active client. Wakes
// coalesce, so each one re-reads the full state rather than assuming
// a single change.
func (model Model) refreshFromClient() (tea.Model, tea.Cmd) {
	if model.active == nil {
		return model, nil
	}

	model.snapshot = model.active.Snapshot()
	model.connection = model.active.Connection()
	model.deleted = model.active.Deleted()
	model.rebuildTranscript()

	var commands []tea.Cmd
	if model.sessionActive() && !model.spinnerRunning {
		model.spinnerRunning = true
		commands = append(commands, scheduleSpinnerTick())
	}

	// Re-arm the listener unless the loop has exited; a retry or a
	// session switch arms a fresh one with a new generation.
	switch model.connection.State {
	case client.StateClosed, client.StateUnavailable:
	default:
		commands = append(commands, waitForUpdate(model.generation, model.active))
	}
	return model, tea.Batch(commands...)
}

// sessionActive reports whether the status bar should animate: the
// session is busy or has tool calls in flight, and the stream is live.
func (model Model) sessionActive() bool {
	if model.connection.State != client.StateConnected || model.snapshot == nil {
		return false
	}
	if len(model.snapshot.CurrentToolCalls) > 0 {
		return true
	}
	return model.snapshot.Status != nil && model.snapshot.Status.Status == schema.SessionStatusBusy
}

// rebuildTranscript re-renders the transcript line cache and, in
// follow mode, pins the scroll to the bottom.
func (model *Model) rebuildTranscript() {
	if !model.ready {
		return
	}
	view := newTranscriptView(model.theme, model.width)
	model.lines = view.Render(model.snapshot)
	if model.follow {
		model.scrollOffset = model.maxScroll()
	} else {
		model.clampScroll()
	}
}

func (model *Model) scrollBy(delta int) {
	model.scrollOffset += delta
	model.clampScroll()
	if model.scrollOffset >= model.maxScroll() {
		model.follow = true
	}
}

func (model *Model) clampScroll() {
	if model.scrollOffset > model.maxScroll() {
		model.scrollOffset = model.maxScroll()
	}
	if model.scrollOffset < 0 {
		model.scrollOffset = 0
	}
}

func (model Model) maxScroll() int {
	return max(0, len(model.lines)-model.visibleHeight())
}

// visibleHeight is the transcript row budget: total height minus the
// header, two separators, the toggled panes, and the status bar.
func (model Model) visibleHeight() int {
	chrome := 4 + model.todoPaneHeight() + model.diffPaneHeight()
	return max(0, model.height-chrome)
}

func (model Model) todoPaneHeight() int {
	if !model.showTodos || model.snapshot == nil || len(model.snapshot.Todos) == 0 {
		return 0
	}
	return min(len(model.snapshot.Todos), todoPaneMax) + 1
}

func (model Model) diffPaneHeight() int {
	if !model.showDiff || model.snapshot == nil || len(model.snapshot.Diff) == 0 {
		return 0
	}
	return min(len(model.snapshot.Diff), diffPaneMax) + 1
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	view := newTranscriptView(model.theme, model.width)

	sections := []string{
		model.renderHeader(view),
		model.renderSeparator(view),
	}
	sections = append(sections, model.renderContent(view)...)
	sections = append(sections, model.renderSeparator(view))
	sections = append(sections, model.renderTodoPane(view)...)
	sections = append(sections, model.renderDiffPane(view)...)
	sections = append(sections, model.renderStatusBar(view))

	return strings.Join(sections, "\n")
}

func (model Model) renderSeparator(view *transcriptView) string {
	return view.style().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", max(0, model.width)))
}

// renderHeader renders the top line: session title, then ID, ticket,
// and type, dimmed.
func (model Model) renderHeader(view *transcriptView) string {
	bold := view.style().Foreground(model.theme.HeaderForeground).Bold(true)
	faint := view.style().Foreground(model.theme.FaintText)

	if model.activeID == "" {
		return bold.Render("switchboard")
	}

	title := model.activeID
	var details []string
	if model.snapshot != nil && model.snapshot.Session.ID != "" {
		session := model.snapshot.Session
		if session.Title != "" {
			title = session.Title
		}
		details = append(details, session.ID)
		if session.TicketID != "" {
			details = append(details, session.TicketID)
		}
		if session.Type != "" {
			details = append(details, string(session.Type))
		}
	}

	header := bold.Render(title)
	if len(details) > 0 {
		header += faint.Render("  " + strings.Join(details, " · "))
	}
	return ansi.Truncate(header, model.width, "…")
}

// renderContent renders the transcript window, or the picker when it
// is open. Always exactly visibleHeight rows so the chrome below
// never jumps.
func (model Model) renderContent(view *transcriptView) []string {
	height := model.visibleHeight()
	rows := make([]string, 0, height)

	if model.picker != nil {
		rows = append(rows, model.picker.Render(view, model.width)...)
	} else if model.deleted {
		rows = append(rows, view.style().
			Foreground(model.theme.StatusError).
			Render("session deleted upstream"))
	} else if len(model.lines) == 0 {
		rows = append(rows, view.style().
			Foreground(model.theme.FaintText).
			Render("waiting for conversation…"))
	} else {
		end := min(model.scrollOffset+height, len(model.lines))
		for index := model.scrollOffset; index < end; index++ {
			rows = append(rows, ansi.Truncate(model.lines[index], model.width, "…"))
		}
	}

	if len(rows) > height {
		rows = rows[:height]
	}
	for len(rows) < height {
		rows = append(rows, "")
	}
	return rows
}

func (model Model) renderTodoPane(view *transcriptView) []string {
	if model.todoPaneHeight() == 0 {
		return nil
	}
	todos := model.snapshot.Todos

	faint := view.style().Foreground(model.theme.FaintText)
	lines := []string{faint.Render(fmt.Sprintf("todos (%d)", len(todos)))}

	for index := 0; index < len(todos) && index < todoPaneMax; index++ {
		todo := todos[index]
		marker, color := todoMarker(todo.Status, model.theme)
		line := view.style().Foreground(color).Render(marker) + " " +
			view.style().Foreground(model.theme.NormalText).Render(todo.Content)
		lines = append(lines, ansi.Truncate(line, model.width, "…"))
	}
	return lines
}

func todoMarker(status string, theme Theme) (string, lipgloss.Color) {
	switch status {
	case "completed":
		return "[x]", theme.ToolCompleted
	case "in_progress":
		return "[~]", theme.StatusBusy
	case "cancelled":
		return "[-]", theme.FaintText
	default:
		return "[ ]", theme.NormalText
	}
}

func (model Model) renderDiffPane(view *transcriptView) []string {
	if model.diffPaneHeight() == 0 {
		return nil
	}
	diff := model.snapshot.Diff

	faint := view.style().Foreground(model.theme.FaintText)
	additions := view.style().Foreground(model.theme.DiffAdditions)
	deletions := view.style().Foreground(model.theme.DiffDeletions)

	var totalAdd, totalDel int
	for _, item := range diff {
		totalAdd += item.Additions
		totalDel += item.Deletions
	}
	header := faint.Render(fmt.Sprintf("diff (%d files) ", len(diff))) +
		additions.Render(fmt.Sprintf("+%d ", totalAdd)) +
		deletions.Render(fmt.Sprintf("-%d", totalDel))
	lines := []string{ansi.Truncate(header, model.width, "…")}

	for index := 0; index < len(diff) && index < diffPaneMax; index++ {
		item := diff[index]
		line := view.style().Foreground(model.theme.NormalText).Render(item.Path) + " " +
			additions.Render(fmt.Sprintf("+%d", item.Additions)) + " " +
			deletions.Render(fmt.Sprintf("-%d", item.Deletions)) + " " +
			faint.Render(item.Status)
		lines = append(lines, ansi.Truncate(line, model.width, "…"))
	}
	return lines
}

// renderStatusBar renders the bottom line: connection state on the
// left, help (or a transient notice) on the right.
func (model Model) renderStatusBar(view *transcriptView) string {
	left := model.renderConnectionStatus(view)

	var right string
	if model.notice != "" {
		color := model.theme.StatusBusy
		if model.noticeLevel == noticeError {
			color = model.theme.StatusError
		}
		right = view.style().Foreground(color).Render(model.notice)
	} else {
		right = view.style().Foreground(model.theme.HelpText).Render(model.helpText())
	}

	gap := model.width - ansi.StringWidth(left) - ansi.StringWidth(right)
	if gap < 1 {
		return ansi.Truncate(left+" "+right, model.width, "…")
	}
	return left + strings.Repeat(" ", gap) + right
}

func (model Model) renderConnectionStatus(view *transcriptView) string {
	if model.activeID == "" {
		return view.style().Foreground(model.theme.FaintText).Render("no session")
	}
	if model.deleted {
		return view.style().Foreground(model.theme.StatusError).Render("session deleted")
	}

	switch model.connection.State {
	case client.StateConnected:
		return model.renderLiveStatus(view)
	case client.StateConnecting:
		return view.style().Foreground(model.theme.FaintText).Render("connecting…")
	case client.StateReconnecting:
		status := fmt.Sprintf("⟳ reconnecting (attempt %d)", model.connection.ConsecutiveFailures)
		return view.style().Foreground(model.theme.ConnectionReconnect).Render(status)
	case client.StateUnavailable:
		return view.style().Foreground(model.theme.ConnectionUnavailable).
			Render("✗ real-time updates unavailable — r to reconnect")
	default:
		return view.style().Foreground(model.theme.FaintText).Render("disconnected")
	}
}

// renderLiveStatus renders the connected-state detail: the session
// status plus in-flight tool calls.
func (model Model) renderLiveStatus(view *transcriptView) string {
	live := view.style().Foreground(model.theme.ConnectionLive).Render("● live")
	if model.snapshot == nil {
		return live
	}

	if model.snapshot.Status != nil {
		status := model.snapshot.Status
		style := view.style().Foreground(model.theme.StatusColor(status.Status))
		switch status.Status {
		case schema.SessionStatusBusy:
			live += "  " + style.Render(spinnerFrames[model.spinnerFrame]+" busy")
		case schema.SessionStatusRetry:
			live += "  " + style.Render("retrying")
		case schema.SessionStatusError:
			detail := "error"
			if status.Detail != "" {
				detail = "error: " + status.Detail
			}
			live += "  " + style.Render(detail)
		}
	}

	if calls := model.snapshot.CurrentToolCalls; len(calls) > 0 {
		label := calls[0].Tool
		if len(calls) > 1 {
			label = fmt.Sprintf("%d tools", len(calls))
		}
		live += "  " + view.style().Foreground(model.theme.ToolRunning).Render("⚙ "+label)
	}
	return live
}

func (model Model) helpText() string {
	if model.picker != nil {
		return "↑/↓ select · enter open · esc close"
	}
	bindings := []key.Binding{
		model.keys.PickSession,
		model.keys.ToggleTodos,
		model.keys.ToggleDiff,
		model.keys.End,
		model.keys.Quit,
	}
	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return strings.Join(parts, " · ")
}
