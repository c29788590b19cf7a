// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/switchboard-io/switchboard/lib/clock"
	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/store"
)

const (
	// initialBackoff is the delay before the first reconnect attempt;
	// it doubles per failed cycle up to maxBackoff.
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// maxConnectAttempts bounds consecutive failed connection cycles.
	// A viewer that cannot reach the gateway five times in a row stops
	// retrying and tells the user, instead of spinning behind a
	// spinner forever.
	maxConnectAttempts = 5
)

// Frame is one decoded gateway stream frame. Type selects the payload:
// "init" carries State, "event" carries Event, "error" carries Error.
type Frame struct {
	Type  string          `json:"type"`
	State *store.Snapshot `json:"state,omitempty"`
	Event *schema.Event   `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// FrameStream is one live connection to a session stream. Next blocks
// until a frame arrives; it returns io.EOF when the server ends the
// stream cleanly. Close releases the connection and is safe to call
// more than once.
type FrameStream interface {
	Next() (Frame, error)
	Close() error
}

// StreamSource opens session streams. *HTTPSource is the production
// implementation.
type StreamSource interface {
	OpenStream(ctx context.Context, sessionID string) (FrameStream, error)
}

// ConnectionState is the client's connection phase.
type ConnectionState string

const (
	// StateConnecting means a connection attempt is in flight.
	StateConnecting ConnectionState = "connecting"

	// StateConnected means the init snapshot has been applied and
	// events are flowing.
	StateConnected ConnectionState = "connected"

	// StateReconnecting means the stream broke and the client is
	// waiting out a backoff delay. The last known state stays visible.
	StateReconnecting ConnectionState = "reconnecting"

	// StateUnavailable means the client gave up after
	// maxConnectAttempts consecutive failures. Terminal until the user
	// retries.
	StateUnavailable ConnectionState = "unavailable"

	// StateClosed means Stop was called or Start has not been.
	StateClosed ConnectionState = "closed"
)

// ConnectionInfo is a point-in-time picture of the connection, safe to
// render in a status footer.
type ConnectionInfo struct {
	State               ConnectionState
	ConsecutiveFailures int
	LastError           string
}

// Terminal reports whether the client has permanently given up.
func (info ConnectionInfo) Terminal() bool {
	return info.State == StateUnavailable
}

// Config carries the client's collaborators.
type Config struct {
	// SessionID is the session to follow. Required.
	SessionID string
	// Source opens streams. Required.
	Source StreamSource
	// Clock drives backoff timing. Defaults to the real clock.
	Clock clock.Clock
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Client follows one session stream, maintaining a local view and a
// connection state machine. Create with New, run with Start, read with
// Snapshot and Connection, wait on Updates.
type Client struct {
	sessionID string
	source    StreamSource
	clock     clock.Clock
	logger    *slog.Logger

	// updates signals view or connection changes. Capacity one:
	// signals coalesce, a reader that misses ten changes still wakes
	// once and re-reads current state.
	updates chan struct{}

	mu        sync.Mutex
	state     *sessionState
	deleted   bool
	connState ConnectionState
	failures  int
	lastError error
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New validates config and returns a client. The client is inert until
// Start.
func New(config Config) (*Client, error) {
	if config.SessionID == "" {
		return nil, errors.New("client: config needs a session ID")
	}
	if config.Source == nil {
		return nil, errors.New("client: config needs a stream source")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		sessionID: config.SessionID,
		source:    config.Source,
		clock:     clk,
		logger:    logger.With("sessionID", config.SessionID),
		updates:   make(chan struct{}, 1),
		state:     newSessionState(),
		connState: StateClosed,
	}, nil
}

// Start launches the connection loop. Calling Start while the loop is
// running is a no-op; calling it after Stop or after the client went
// unavailable starts a fresh loop with a reset attempt budget.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.connState = StateConnecting
	c.failures = 0
	c.lastError = nil
	go c.run(ctx, c.done)
}

// Stop cancels the connection loop and waits for it to exit. Safe to
// call multiple times and before Start.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Updates returns the notification channel. It receives after the view
// or the connection state changes; signals coalesce, so treat a
// receive as "re-read everything", not as one change.
func (c *Client) Updates() <-chan struct{} {
	return c.updates
}

// SessionID returns the session this client follows.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Done returns a channel closed when the current run loop exits,
// whether by Stop, context cancellation, or a terminal failure. By the
// time it closes, Connection reports the final state. A client that
// has not started returns an already-closed channel.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Snapshot returns a copy of the current view, assembled the same way
// the gateway's snapshot endpoint assembles one. Safe to hold across
// later events.
func (c *Client) Snapshot() *store.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.view()
}

// Deleted reports whether the followed session was deleted upstream.
// The view is empty once this is true; the distinction lets a UI say
// "session deleted" instead of showing a blank transcript.
func (c *Client) Deleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted
}

// Connection returns the current connection state.
func (c *Client) Connection() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := ConnectionInfo{
		State:               c.connState,
		ConsecutiveFailures: c.failures,
	}
	if c.lastError != nil {
		info.LastError = c.lastError.Error()
	}
	return info
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		// A terminal failure stays visible after the loop exits.
		if c.connState != StateUnavailable {
			c.connState = StateClosed
		}
		c.mu.Unlock()
		c.notify()
		close(done)
	}()

	backoff := initialBackoff
	for {
		c.setConnState(StateConnecting)
		connected, err := c.runStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// The cycle reached connected before breaking; the next
			// one starts with a fresh budget and the base delay.
			backoff = initialBackoff
		} else {
			failures := c.recordFailure(err)
			if failures >= maxConnectAttempts {
				c.logger.Error("giving up on session stream",
					"attempts", failures, "error", err)
				c.setConnState(StateUnavailable)
				return
			}
		}
		c.logger.Warn("session stream disconnected",
			"error", err, "backoff", backoff)

		c.setConnState(StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// runStream runs one connection cycle: open, apply frames, return when
// the stream ends. connected reports whether the cycle received an
// init frame — a cycle that never did counts as a failed attempt.
func (c *Client) runStream(ctx context.Context) (connected bool, err error) {
	stream, err := c.source.OpenStream(ctx, c.sessionID)
	if err != nil {
		return false, fmt.Errorf("opening session stream: %w", err)
	}
	defer stream.Close()

	for {
		frame, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return connected, errors.New("stream ended")
			}
			return connected, err
		}

		switch frame.Type {
		case "init":
			if frame.State == nil {
				return connected, errors.New("init frame without state")
			}
			c.mu.Lock()
			c.state.replaceFromSnapshot(frame.State)
			c.deleted = false
			c.connState = StateConnected
			c.failures = 0
			c.lastError = nil
			c.mu.Unlock()
			connected = true
			c.notify()
			c.logger.Debug("session stream connected")

		case "event":
			if frame.Event == nil {
				continue
			}
			c.mu.Lock()
			c.state.apply(*frame.Event)
			if frame.Event.Type == schema.EventTypeSessionDeleted {
				c.deleted = true
			}
			c.mu.Unlock()
			c.notify()

		case "error":
			// The server closes the stream after a terminal error
			// frame; record what it said so the footer can show it.
			c.mu.Lock()
			c.lastError = fmt.Errorf("gateway: %s", frame.Error)
			c.mu.Unlock()
			c.notify()
			c.logger.Warn("gateway reported stream error", "error", frame.Error)

		default:
			// Forward compatibility: ignore unknown frame types.
			c.logger.Debug("unknown stream frame type", "type", frame.Type)
		}
	}
}

func (c *Client) setConnState(state ConnectionState) {
	c.mu.Lock()
	changed := c.connState != state
	c.connState = state
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Client) recordFailure(err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.lastError = err
	return c.failures
}

// notify wakes subscribers without blocking. A full buffer means a
// wake-up is already pending, which is all a coalescing signal needs.
func (c *Client) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
