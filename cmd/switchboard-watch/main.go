// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// switchboard-watch is a terminal UI for watching live agent sessions
// through the switchboard gateway. It follows one session's event
// stream — transcript, tool activity, todos, and working-tree diff —
// and offers a fuzzy picker for switching between sessions.
//
// The watcher needs only a running switchboard-server; point --server
// at its gateway address. Without --session it opens on the session
// picker. Preferences live in an optional watch.jsonc (JSON with
// comments) under the user config directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"golang.org/x/term"

	"github.com/switchboard-io/switchboard/client"
	"github.com/switchboard-io/switchboard/lib/sessionui"
	"github.com/switchboard-io/switchboard/lib/version"
)

// defaultServerURL matches the server's default gateway address.
const defaultServerURL = "http://127.0.0.1:8815"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL   string
		sessionID   string
		configPath  string
		logOutput   string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("switchboard-watch", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", "", "gateway base URL (default "+defaultServerURL+")")
	flagSet.StringVar(&sessionID, "session", "", "session ID to follow (default: open the session picker)")
	flagSet.StringVar(&configPath, "config", "", "path to watch.jsonc (default: $XDG_CONFIG_HOME/switchboard/watch.jsonc)")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (in addition to the status bar)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		fmt.Printf("switchboard-watch %s\n", version.Info())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	preferences, err := loadPreferences(configPath)
	if err != nil {
		return err
	}
	if serverURL == "" {
		serverURL = preferences.ServerURL
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if sessionID == "" {
		sessionID = preferences.Session
	}

	// The alt-screen UI is useless on a pipe; fail early with a
	// message instead of emitting escape codes into a log.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("stdout is not a terminal")
	}

	source, err := client.NewHTTPSource(client.HTTPConfig{BaseURL: serverURL})
	if err != nil {
		return err
	}
	defer source.CloseIdleConnections()

	// Background logging (client reconnects, stream errors) goes to
	// the status bar, never to stderr, which would corrupt the
	// alt-screen display. An optional file keeps the full records.
	tuiHandler := sessionui.NewLogHandler(slog.LevelWarn)
	backgroundLogger := slog.New(tuiHandler)
	if logOutput != "" {
		fileHandler, closeFile, err := openFileLogHandler(logOutput)
		if err != nil {
			return fmt.Errorf("cannot open log file %s: %w", logOutput, err)
		}
		defer closeFile()
		backgroundLogger = slog.New(fanoutHandler{tuiHandler, fileHandler})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := httpDialer{ctx: ctx, source: source, logger: backgroundLogger}

	model, err := sessionui.NewModel(sessionui.Config{
		Dialer:    dialer,
		Sessions:  source,
		SessionID: sessionID,
		ShowTodos: preferences.showTodos(),
		ShowDiff:  preferences.showDiff(),
	})
	if err != nil {
		return err
	}

	program := tea.NewProgram(model, tea.WithAltScreen())
	tuiHandler.SetProgram(program)

	_, err = program.Run()
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Switchboard session watcher — live terminal view of agent sessions.

Connects to a switchboard-server gateway and follows one session's
event stream. Without --session, opens a fuzzy picker over the
sessions the server knows about; press s inside the watcher to switch
sessions at any time.

Usage:
  switchboard-watch [flags]

Examples:
  # Pick a session interactively
  switchboard-watch

  # Follow a specific session on a non-default server
  switchboard-watch --server http://build-host:8815 --session ses_8f2

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// httpDialer dials sessions against the gateway, starting each client
// before handing it to the UI.
type httpDialer struct {
	ctx    context.Context
	source *client.HTTPSource
	logger *slog.Logger
}

func (dialer httpDialer) Dial(sessionID string) (*client.Client, error) {
	session, err := client.New(client.Config{
		SessionID: sessionID,
		Source:    dialer.source,
		Logger:    dialer.logger,
	})
	if err != nil {
		return nil, err
	}
	session.Start(dialer.ctx)
	return session, nil
}

// preferences is the watch.jsonc shape. The file is JSON with
// comments and trailing commas; flags override everything in it.
type preferences struct {
	// ServerURL is the gateway base URL.
	ServerURL string `json:"serverURL"`
	// Session, when set, is followed at startup instead of opening
	// the picker.
	Session string `json:"session"`
	// ShowTodos and ShowDiff set the initial pane toggles. Omitted
	// fields keep the defaults (todos on, diff off).
	ShowTodos *bool `json:"showTodos"`
	ShowDiff  *bool `json:"showDiff"`
}

func (p preferences) showTodos() bool {
	if p.ShowTodos == nil {
		return true
	}
	return *p.ShowTodos
}

func (p preferences) showDiff() bool {
	if p.ShowDiff == nil {
		return false
	}
	return *p.ShowDiff
}

// loadPreferences reads watch.jsonc from the given path, or from the
// user config directory when no path is given. A missing file is not
// an error; a malformed one is.
func loadPreferences(path string) (preferences, error) {
	explicit := path != ""
	if !explicit {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return preferences{}, nil
		}
		path = filepath.Join(configDir, "switchboard", "watch.jsonc")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return preferences{}, nil
		}
		return preferences{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var p preferences
	if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
		return preferences{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, nil
}

// openFileLogHandler creates a JSON handler writing to path. The file
// is created or truncated.
func openFileLogHandler(path string) (slog.Handler, func(), error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return handler, func() { file.Close() }, nil
}

// fanoutHandler sends each record to every sub-handler that wants it.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
