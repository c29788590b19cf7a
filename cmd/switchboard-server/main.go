// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Command switchboard-server runs the session event pipeline: the
// global listener consuming the agent's event feed, the session store
// folding events over the coordination store, and the SSE gateway
// that dashboards connect to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/switchboard-io/switchboard/agent"
	"github.com/switchboard-io/switchboard/coord"
	"github.com/switchboard-io/switchboard/gateway"
	"github.com/switchboard-io/switchboard/lib/config"
	"github.com/switchboard-io/switchboard/lib/eventlog"
	"github.com/switchboard-io/switchboard/lib/version"
	"github.com/switchboard-io/switchboard/listener"
	"github.com/switchboard-io/switchboard/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to the configuration file (default: $SWITCHBOARD_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("switchboard-server %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening coordination store: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close coordination store", "error", err)
		}
	}()
	logger.Info("coordination store open", "backend", cfg.Store.Backend)

	sessions := store.New(backend, logger.With("component", "store"))

	agentClient, err := agent.NewClient(agent.Config{
		BaseURL: cfg.Agent.BaseURL,
		Logger:  logger.With("component", "agent"),
	})
	if err != nil {
		return err
	}
	defer agentClient.CloseIdleConnections()

	var debugLog listener.DebugLog
	if cfg.EventLog.Enabled {
		compression, err := eventlog.ParseCompression(cfg.EventLog.Compression)
		if err != nil {
			return fmt.Errorf("event log: %w", err)
		}
		log, err := eventlog.Open(eventlog.Options{
			Dir:         cfg.EventLog.Directory,
			MaxFileSize: cfg.EventLog.MaxFileSize,
			MaxArchives: cfg.EventLog.MaxArchives,
			Compression: compression,
			Logger:      logger.With("component", "eventlog"),
		})
		if err != nil {
			return fmt.Errorf("opening event log: %w", err)
		}
		defer func() {
			if err := log.Close(); err != nil {
				logger.Error("failed to close event log", "error", err)
			}
		}()
		debugLog = log
		logger.Info("event log open",
			"directory", cfg.EventLog.Directory,
			"compression", cfg.EventLog.Compression,
		)
	}

	feed, err := listener.New(listener.Config{
		Source:   agentSource{client: agentClient},
		Fetcher:  agentClient,
		Store:    sessions,
		DebugLog: debugLog,
		Logger:   logger.With("component", "listener"),
	})
	if err != nil {
		return err
	}
	feed.Start(ctx)
	defer feed.Stop()
	logger.Info("listener started", "agent", cfg.Agent.BaseURL)

	gw, err := gateway.New(gateway.Config{
		Store:             sessions,
		Events:            backend,
		Fallback:          agentClient,
		Health:            feed,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Logger:            logger.With("component", "gateway"),
	})
	if err != nil {
		return err
	}

	server := gateway.NewServer(gateway.ServerConfig{
		Address: cfg.Gateway.Address,
		Handler: gw.Handler(),
		Logger:  logger.With("component", "server"),
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(ctx)
	}()

	// Serve either binds and closes Ready, or fails before accepting
	// a single connection (port in use, bad address).
	select {
	case <-server.Ready():
	case err := <-serverDone:
		return fmt.Errorf("gateway server: %w", err)
	}
	logger.Info("switchboard server running",
		"address", server.Addr().String(),
		"environment", string(cfg.Environment),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Wait for the gateway to drain in-flight requests and unwind
	// open event streams.
	if err := <-serverDone; err != nil {
		logger.Error("gateway server error", "error", err)
	}

	return nil
}

// loadConfig resolves configuration from the --config flag, the
// SWITCHBOARD_CONFIG environment variable, or built-in defaults, in
// that order.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("SWITCHBOARD_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// newLogger builds the process logger from the logging section.
// Validate has already vetted the level and format strings.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

// openBackend opens the coordination store named by the store section.
func openBackend(cfg *config.Config, logger *slog.Logger) (coord.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return coord.OpenSQLite(coord.SQLiteConfig{
			Path:     cfg.Store.SQLitePath,
			PoolSize: cfg.Store.PoolSize,
			Logger:   logger.With("component", "coord"),
		})
	default:
		return coord.NewMemory(), nil
	}
}

// agentSource adapts the agent client's concrete stream type to the
// listener's EventSource interface.
type agentSource struct {
	client *agent.Client
}

func (s agentSource) Subscribe(ctx context.Context) (listener.EventStream, error) {
	stream, err := s.client.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
