// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package listener

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
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// maxConnectAttempts bounds consecutive failed connection attempts.
	// A successful connection resets the count; reaching the bound
	// moves the listener to StateUnavailable permanently.
	maxConnectAttempts = 10
)

// EventStream yields envelopes from an established feed subscription.
// Next returns io.EOF when the feed ends cleanly, a
// *schema.MalformedEventError for a frame that could not be decoded
// (the stream remains readable), and any other error when the
// connection is gone.
type EventStream interface {
	Next() (schema.Envelope, error)
	Close() error
}

// EventSource establishes feed subscriptions. The stream must unblock
// any pending Next call when the subscribe context is cancelled.
type EventSource interface {
	Subscribe(ctx context.Context) (EventStream, error)
}

// SnapshotFetcher reads authoritative session state from the agent,
// used to reconcile the store when a session goes idle.
type SnapshotFetcher interface {
	FetchSession(ctx context.Context, sessionID string) (schema.SessionInfo, error)
	FetchMessages(ctx context.Context, sessionID string) ([]schema.MessageWithParts, error)
}

// EventStore folds normalized events into durable session state.
type EventStore interface {
	ApplyEvent(ctx context.Context, event schema.Event) error
	ReconcileSession(ctx context.Context, info schema.SessionInfo, messages []schema.MessageWithParts) error
}

// DebugLog records every processed event for offline inspection.
type DebugLog interface {
	Append(event schema.Event) error
}

// State names a phase of the listener lifecycle.
type State string

const (
	// StateStopped means the listener is not running. It is the
	// initial state and the state after Stop.
	StateStopped State = "stopped"
	// StateConnecting means a subscription attempt is in flight.
	StateConnecting State = "connecting"
	// StateStreaming means events are flowing.
	StateStreaming State = "streaming"
	// StateBackoff means the listener is waiting out a reconnect
	// delay after a failed attempt or a broken stream.
	StateBackoff State = "backoff"
	// StateUnavailable is terminal: maxConnectAttempts consecutive
	// connection attempts failed and the listener gave up.
	StateUnavailable State = "unavailable"
)

// Health is a point-in-time snapshot of the listener, safe to expose
// on a health endpoint.
type Health struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastEventAt         time.Time `json:"lastEventAt,omitzero"`
	EventsProcessed     uint64    `json:"eventsProcessed"`
}

// Terminal reports whether the listener has permanently given up.
func (h Health) Terminal() bool {
	return h.State == StateUnavailable
}

// Config carries the collaborators a Listener needs.
type Config struct {
	// Source establishes feed subscriptions. Required.
	Source EventSource
	// Fetcher reads authoritative session state for idle
	// reconciliation. Required.
	Fetcher SnapshotFetcher
	// Store receives every normalized event. Required.
	Store EventStore
	// DebugLog, when set, receives every processed event.
	DebugLog DebugLog
	// Clock drives backoff timing. Defaults to the real clock.
	Clock clock.Clock
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Listener consumes the upstream event feed and keeps the session
// store current. All state lives on the struct; create one per server
// process.
type Listener struct {
	source   EventSource
	fetcher  SnapshotFetcher
	store    EventStore
	debugLog DebugLog
	clock    clock.Clock
	logger   *slog.Logger

	mu              sync.Mutex
	state           State
	failures        int
	lastError       error
	lastEventAt     time.Time
	eventsProcessed uint64
	running         bool
	cancel          context.CancelFunc
	done            chan struct{}
}

// New validates config and returns a stopped listener.
func New(config Config) (*Listener, error) {
	if config.Source == nil {
		return nil, errors.New("listener: config needs an event source")
	}
	if config.Fetcher == nil {
		return nil, errors.New("listener: config needs a snapshot fetcher")
	}
	if config.Store == nil {
		return nil, errors.New("listener: config needs an event store")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Listener{
		source:   config.Source,
		fetcher:  config.Fetcher,
		store:    config.Store,
		debugLog: config.DebugLog,
		clock:    clk,
		logger:   logger,
		state:    StateStopped,
	}, nil
}

// Start launches the consume loop. Calling Start on a running
// listener is a no-op; calling it after Stop or after the listener
// went unavailable starts fresh with a zeroed failure count.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = StateConnecting
	l.failures = 0
	l.lastError = nil
	go l.run(runCtx)
}

// Stop cancels the subscription and any pending reconnect, then waits
// for the consume loop to exit. Safe to call repeatedly and on a
// listener that never started.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Health reports the listener's current state.
func (l *Listener) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	health := Health{
		State:               l.state,
		ConsecutiveFailures: l.failures,
		LastEventAt:         l.lastEventAt,
		EventsProcessed:     l.eventsProcessed,
	}
	if l.lastError != nil {
		health.LastError = l.lastError.Error()
	}
	return health
}

func (l *Listener) run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.running = false
		if l.state != StateUnavailable {
			l.state = StateStopped
		}
		close(l.done)
		l.mu.Unlock()
	}()

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		l.setState(StateConnecting)
		stream, err := l.source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures := l.recordFailure(err)
			if failures >= maxConnectAttempts {
				l.logger.Error("giving up on agent event feed",
					"attempts", failures, "error", err)
				l.setState(StateUnavailable)
				return
			}
			l.logger.Warn("agent event feed connect failed",
				"attempt", failures, "backoff", backoff, "error", err)
			l.closeIdleConnections()
			if !l.waitBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		l.connected()
		backoff = initialBackoff
		l.logger.Info("streaming agent events")

		err = l.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.recordStreamError(err)
			l.logger.Warn("agent event stream broke", "backoff", backoff, "error", err)
		} else {
			l.logger.Info("agent event stream ended, reconnecting", "backoff", backoff)
		}
		l.closeIdleConnections()
		if !l.waitBackoff(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// consume reads the stream until it ends. A nil return means the feed
// closed cleanly; any other error means the connection is gone.
// Malformed frames are logged and skipped without ending the stream.
func (l *Listener) consume(ctx context.Context, stream EventStream) error {
	for {
		envelope, err := stream.Next()
		if err != nil {
			var malformed *schema.MalformedEventError
			if errors.As(err, &malformed) {
				l.logger.Warn("skipping malformed feed frame", "error", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		l.handleEvent(ctx, envelope)
	}
}

func (l *Listener) handleEvent(ctx context.Context, envelope schema.Envelope) {
	event, err := schema.Normalize(envelope.Payload)
	if err != nil {
		l.logger.Warn("skipping malformed event",
			"type", envelope.Payload.Type, "error", err)
		return
	}
	l.noteEvent()

	// Reconcile before folding the idle status so the idle marker
	// lands on top of the repaired state, not under it.
	if event.Type == schema.EventTypeSessionIdle && event.SessionID != "" {
		l.reconcile(ctx, event.SessionID)
	}

	if err := l.store.ApplyEvent(ctx, event); err != nil {
		// Dropped events are repaired by the next idle
		// reconciliation; keep consuming.
		l.logger.Error("applying event",
			"type", event.Type, "sessionID", event.SessionID, "error", err)
	}

	if l.debugLog != nil {
		if err := l.debugLog.Append(event); err != nil {
			l.logger.Warn("appending debug log entry", "error", err)
		}
	}
}

// noteEvent records receipt of a normalized event.
func (l *Listener) noteEvent() {
	l.mu.Lock()
	l.lastEventAt = l.clock.Now()
	l.eventsProcessed++
	l.mu.Unlock()
}

// reconcile replaces the store's view of one session with the agent's.
// Failures are logged and swallowed: the triggering idle event is
// still folded by the caller, and the next idle gets another chance.
func (l *Listener) reconcile(ctx context.Context, sessionID string) {
	info, err := l.fetcher.FetchSession(ctx, sessionID)
	if err != nil {
		l.logger.Warn("reconcile: fetching session",
			"sessionID", sessionID, "error", err)
		return
	}
	messages, err := l.fetcher.FetchMessages(ctx, sessionID)
	if err != nil {
		l.logger.Warn("reconcile: fetching messages",
			"sessionID", sessionID, "error", err)
		return
	}
	if err := l.store.ReconcileSession(ctx, info, messages); err != nil {
		l.logger.Error("reconcile: writing session",
			"sessionID", sessionID, "error", err)
		return
	}
	l.logger.Debug("reconciled idle session",
		"sessionID", sessionID, "messages", len(messages))
}

// waitBackoff sleeps for delay. Returns false when the context ended
// first, in which case the pending reconnect is abandoned.
func (l *Listener) waitBackoff(ctx context.Context, delay time.Duration) bool {
	l.setState(StateBackoff)
	select {
	case <-l.clock.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Listener) closeIdleConnections() {
	if closer, ok := l.source.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

func (l *Listener) setState(state State) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

func (l *Listener) connected() {
	l.mu.Lock()
	l.state = StateStreaming
	l.failures = 0
	l.lastError = nil
	l.mu.Unlock()
}

func (l *Listener) recordFailure(err error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	l.lastError = fmt.Errorf("subscribing to event feed: %w", err)
	return l.failures
}

func (l *Listener) recordStreamError(err error) {
	l.mu.Lock()
	l.lastError = err
	l.mu.Unlock()
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
