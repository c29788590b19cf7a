// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/switchboard-io/switchboard/coord"
	"github.com/switchboard-io/switchboard/lib/clock"
	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/listener"
	"github.com/switchboard-io/switchboard/store"
)

// defaultHeartbeatInterval is how often stream handlers emit a comment
// frame. Intermediary proxies commonly cut idle connections after 60s;
// half that keeps streams alive through quiet sessions.
const defaultHeartbeatInterval = 30 * time.Second

// SessionReader is what the gateway needs from the session store.
type SessionReader interface {
	Snapshot(ctx context.Context, sessionID string) (*store.Snapshot, error)
	ListSessions(ctx context.Context) ([]schema.SessionInfo, error)
	TrackSession(ctx context.Context, sessionID, ticketID string, sessionType schema.SessionType, trackedAt float64) error
}

// EventSubscriber creates per-channel subscriptions on the
// coordination store.
type EventSubscriber interface {
	Subscribe(ctx context.Context, channel string) (*coord.Subscription, error)
}

// FallbackFetcher reads session state directly from the agent, used
// only when the store cannot serve a snapshot at stream connect time.
type FallbackFetcher interface {
	FetchSession(ctx context.Context, sessionID string) (schema.SessionInfo, error)
	FetchMessages(ctx context.Context, sessionID string) ([]schema.MessageWithParts, error)
}

// HealthSource reports the listener's state for /healthz.
type HealthSource interface {
	Health() listener.Health
}

// Config carries the gateway's collaborators.
type Config struct {
	// Store serves snapshots and session listings. Required.
	Store SessionReader
	// Events provides the per-session subscriptions streams forward
	// from. Required.
	Events EventSubscriber
	// Fallback, when set, serves snapshots while the store is down.
	Fallback FallbackFetcher
	// Health, when set, is surfaced on /healthz. Without it the
	// endpoint reports only that the gateway itself is up.
	Health HealthSource
	// Clock drives heartbeat timing. Defaults to the real clock.
	Clock clock.Clock
	// HeartbeatInterval defaults to 30 seconds.
	HeartbeatInterval time.Duration
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Gateway holds the HTTP surface of the pipeline. Create one per
// server process and mount Handler on the public listener.
type Gateway struct {
	store     SessionReader
	events    EventSubscriber
	fallback  FallbackFetcher
	health    HealthSource
	clock     clock.Clock
	logger    *slog.Logger
	heartbeat time.Duration

	streamsOpened   atomic.Uint64
	eventsForwarded atomic.Uint64
	streamsActive   atomic.Int64
}

// New validates config and returns a gateway.
func New(config Config) (*Gateway, error) {
	if config.Store == nil {
		return nil, errors.New("gateway: config needs a session store")
	}
	if config.Events == nil {
		return nil, errors.New("gateway: config needs an event subscriber")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	heartbeat := config.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		store:     config.Store,
		events:    config.Events,
		fallback:  config.Fallback,
		health:    config.Health,
		clock:     clk,
		logger:    logger,
		heartbeat: heartbeat,
	}, nil
}

// Handler returns the gateway's routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", g.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", g.handleSnapshot)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", g.handleStream)
	mux.HandleFunc("POST /v1/sessions/{id}/track", g.handleTrack)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	return mux
}

// ActiveStreams reports the number of open session streams.
func (g *Gateway) ActiveStreams() int {
	return int(g.streamsActive.Load())
}

func (g *Gateway) handleListSessions(writer http.ResponseWriter, request *http.Request) {
	sessions, err := g.store.ListSessions(request.Context())
	if err != nil {
		g.logger.Error("listing sessions", "error", err)
		writeError(writer, http.StatusServiceUnavailable, "session listing unavailable")
		return
	}
	if sessions == nil {
		sessions = []schema.SessionInfo{}
	}
	writeJSON(writer, http.StatusOK, sessions)
}

func (g *Gateway) handleSnapshot(writer http.ResponseWriter, request *http.Request) {
	sessionID := request.PathValue("id")
	snapshot, err := g.store.Snapshot(request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(writer, http.StatusNotFound, "session not found")
			return
		}
		g.logger.Error("reading snapshot", "sessionID", sessionID, "error", err)
		writeError(writer, http.StatusServiceUnavailable, "snapshot unavailable")
		return
	}
	writeJSON(writer, http.StatusOK, snapshot)
}

// trackRequest is the body of POST /v1/sessions/{id}/track.
type trackRequest struct {
	TicketID    string `json:"ticketID"`
	SessionType string `json:"sessionType"`
}

func (g *Gateway) handleTrack(writer http.ResponseWriter, request *http.Request) {
	sessionID := request.PathValue("id")

	var body trackRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	sessionType, err := schema.ParseSessionType(body.SessionType)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}

	trackedAt := float64(g.clock.Now().UnixMilli())
	if err := g.store.TrackSession(request.Context(), sessionID, body.TicketID, sessionType, trackedAt); err != nil {
		g.logger.Error("tracking session",
			"sessionID", sessionID, "ticketID", body.TicketID, "error", err)
		writeError(writer, http.StatusServiceUnavailable, "tracking unavailable")
		return
	}
	g.logger.Info("session tracked",
		"sessionID", sessionID, "ticketID", body.TicketID, "sessionType", sessionType)
	writeJSON(writer, http.StatusOK, schema.TrackedSession{
		SessionID: sessionID,
		TicketID:  body.TicketID,
		Type:      sessionType,
		TrackedAt: trackedAt,
	})
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status        string           `json:"status"`
	Listener      *listener.Health `json:"listener,omitempty"`
	ActiveStreams int64            `json:"activeStreams"`
	StreamsOpened uint64           `json:"streamsOpened"`
	EventsServed  uint64           `json:"eventsServed"`
}

func (g *Gateway) handleHealth(writer http.ResponseWriter, request *http.Request) {
	response := healthResponse{
		Status:        "ok",
		ActiveStreams: g.streamsActive.Load(),
		StreamsOpened: g.streamsOpened.Load(),
		EventsServed:  g.eventsForwarded.Load(),
	}
	status := http.StatusOK
	if g.health != nil {
		health := g.health.Health()
		response.Listener = &health
		if health.Terminal() {
			// The pipeline has no producer; stop routing here.
			response.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(writer, status, response)
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(payload)
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]string{"error": message})
}
