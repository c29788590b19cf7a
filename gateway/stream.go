// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/switchboard-io/switchboard/agent"
	"github.com/switchboard-io/switchboard/coord"
	"github.com/switchboard-io/switchboard/lib/netutil"
	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/store"
)

// streamFrame is one SSE data payload. Exactly one of State, Event, and
// Error is set, selected by Type.
type streamFrame struct {
	Type  string          `json:"type"`
	State *store.Snapshot `json:"state,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleStream serves one live session stream. The contract: the first
// frame on the wire is always init carrying the full snapshot, every
// later frame is an event exactly as the store published it, and
// teardown on disconnect closes the subscription and stops the
// heartbeat before the handler returns.
func (g *Gateway) handleStream(writer http.ResponseWriter, request *http.Request) {
	sessionID := request.PathValue("id")
	flusher, ok := writer.(http.Flusher)
	if !ok {
		http.Error(writer, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := request.Context()
	logger := g.logger.With("sessionID", sessionID, "remote", request.RemoteAddr)

	// Subscribe before reading the snapshot: an event folded between
	// the two arrives on the subscription instead of falling into the
	// gap. An event the snapshot already reflects is harmless because
	// the client merge is idempotent.
	subscription, subscribeErr := g.events.Subscribe(ctx, store.SessionChannel(sessionID))
	if subscribeErr == nil {
		defer subscription.Close()
	} else {
		logger.Error("session stream subscribe failed", "error", subscribeErr)
	}

	snapshot, haveSnapshot, degraded := g.connectSnapshot(ctx, sessionID, subscribeErr != nil, logger)
	if !haveSnapshot && !degraded {
		// The store is healthy and nobody knows the session. Nothing
		// has been streamed yet, so fail as plain HTTP.
		writeError(writer, http.StatusNotFound, "session not found")
		return
	}

	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	// Tell nginx-style proxies not to buffer the response; a buffered
	// event stream defeats its purpose.
	writer.Header().Set("X-Accel-Buffering", "no")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.streamsOpened.Add(1)
	g.streamsActive.Add(1)
	defer g.streamsActive.Add(-1)

	if haveSnapshot {
		if err := g.writeFrame(writer, flusher, streamFrame{Type: "init", State: snapshot}); err != nil {
			logStreamWriteError(logger, "init", err)
			return
		}
	}
	if degraded {
		// Terminal: the client got whatever snapshot we could serve and
		// now learns there will be no live updates on this connection.
		frame := streamFrame{Type: "error", Error: "real-time updates unavailable"}
		if err := g.writeFrame(writer, flusher, frame); err != nil {
			logStreamWriteError(logger, "error", err)
		}
		logger.Warn("session stream degraded to snapshot only")
		return
	}

	logger.Debug("session stream open")
	heartbeat := g.clock.NewTicker(g.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("session stream closed by client")
			return

		case message, ok := <-subscription.Events():
			if !ok {
				g.writeSubscriptionEnd(writer, flusher, logger, subscription.Err())
				return
			}
			if err := g.writeFrame(writer, flusher, streamFrame{Type: "event", Event: message.Payload}); err != nil {
				logStreamWriteError(logger, "event", err)
				return
			}
			g.eventsForwarded.Add(1)

		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				logStreamWriteError(logger, "heartbeat", err)
				return
			}
			flusher.Flush()
		}
	}
}

// connectSnapshot resolves the snapshot for a new stream. degraded
// means the connection cannot deliver live updates and must end after
// the init frame; !haveSnapshot && !degraded means the session is
// genuinely unknown and the request should 404.
func (g *Gateway) connectSnapshot(ctx context.Context, sessionID string, subscribeFailed bool, logger *slog.Logger) (snapshot *store.Snapshot, haveSnapshot, degraded bool) {
	degraded = subscribeFailed

	snapshot, err := g.store.Snapshot(ctx, sessionID)
	if err == nil {
		return snapshot, true, degraded
	}

	if errors.Is(err, store.ErrSessionNotFound) {
		// The store is answering and has never seen this session. The
		// agent may still know it (the listener lags the agent by one
		// event fold); a miss there too is a definitive 404.
		if g.fallback != nil {
			fallback, fallbackErr := g.fallbackSnapshot(ctx, sessionID)
			if fallbackErr == nil {
				return fallback, true, degraded
			}
			if !agent.IsNotFound(fallbackErr) {
				logger.Warn("agent snapshot fallback failed", "error", fallbackErr)
			}
		}
		return nil, false, false
	}

	// Store unavailable, or pub/sub already failed: degrade to whatever
	// the agent can serve point-in-time.
	logger.Warn("snapshot unavailable from store", "error", err)
	degraded = true
	if g.fallback == nil {
		return nil, false, degraded
	}
	fallback, fallbackErr := g.fallbackSnapshot(ctx, sessionID)
	if fallbackErr != nil {
		logger.Warn("agent snapshot fallback failed", "error", fallbackErr)
		return nil, false, degraded
	}
	return fallback, true, degraded
}

// fallbackSnapshot assembles a snapshot from the agent's point-in-time
// endpoints. Tool calls and live status are unknown on this path; the
// zero values stand in until the pipeline recovers.
func (g *Gateway) fallbackSnapshot(ctx context.Context, sessionID string) (*store.Snapshot, error) {
	info, err := g.fallback.FetchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := g.fallback.FetchMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []schema.MessageWithParts{}
	}
	return &store.Snapshot{Session: info, Messages: messages}, nil
}

// writeSubscriptionEnd reports why the store ended a live subscription
// mid-stream and sends the client a terminal error frame, so it knows
// to reconnect rather than trust a silently frozen stream.
func (g *Gateway) writeSubscriptionEnd(writer http.ResponseWriter, flusher http.Flusher, logger *slog.Logger, reason error) {
	message := "real-time updates unavailable"
	if errors.Is(reason, coord.ErrSlowConsumer) {
		message = "event stream lagged, reconnect for a fresh snapshot"
	}
	logger.Warn("session stream subscription ended", "reason", reason)
	frame := streamFrame{Type: "error", Error: message}
	if err := g.writeFrame(writer, flusher, frame); err != nil {
		logStreamWriteError(logger, "error", err)
	}
}

// writeFrame marshals one frame and writes it as a single SSE data
// unit, flushing so the client sees it immediately.
func (g *Gateway) writeFrame(writer io.Writer, flusher http.Flusher, frame streamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame.Type, err)
	}
	if _, err := fmt.Fprintf(writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// logStreamWriteError separates a browser navigating away, which is
// routine, from a genuine transport failure.
func logStreamWriteError(logger *slog.Logger, kind string, err error) {
	if netutil.IsExpectedCloseError(err) || errors.Is(err, context.Canceled) {
		logger.Debug("session stream closed during write", "frame", kind, "error", err)
		return
	}
	logger.Warn("session stream write failed", "frame", kind, "error", err)
}
