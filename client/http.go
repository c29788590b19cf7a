// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/switchboard-io/switchboard/lib/netutil"
	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/lib/sse"
)

// HTTPConfig holds configuration for creating an HTTPSource.
type HTTPConfig struct {
	// BaseURL is the base URL of the gateway's HTTP API
	// (e.g., "http://localhost:8815").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used. Give it no overall timeout: OpenStream holds a response
	// body open indefinitely.
	HTTPClient *http.Client
}

// HTTPSource opens session streams against a gateway over HTTP. It is
// the production StreamSource.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a source for the gateway API at config.BaseURL.
func NewHTTPSource(config HTTPConfig) (*HTTPSource, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// CloseIdleConnections drops pooled connections to the gateway, so a
// reconnect attempt never reuses a TCP connection poisoned by the
// previous failure.
func (s *HTTPSource) CloseIdleConnections() {
	s.httpClient.CloseIdleConnections()
}

// OpenStream connects to one session's stream endpoint.
func (s *HTTPSource) OpenStream(ctx context.Context, sessionID string) (FrameStream, error) {
	streamURL := s.baseURL + "/v1/sessions/" + url.PathEscape(sessionID) + "/stream"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: creating stream request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("client: connecting to gateway: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		err := readGatewayError(response)
		response.Body.Close()
		return nil, err
	}
	return &httpFrameStream{
		scanner: sse.NewScanner(response.Body),
		body:    response.Body,
	}, nil
}

// ListSessions returns every session the gateway is tracking, for
// session pickers.
func (s *HTTPSource) ListSessions(ctx context.Context) ([]schema.SessionInfo, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("client: creating list request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("client: listing sessions: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, readGatewayError(response)
	}
	var sessions []schema.SessionInfo
	if err := netutil.DecodeResponse(response.Body, &sessions); err != nil {
		return nil, fmt.Errorf("client: decoding session list: %w", err)
	}
	return sessions, nil
}

// httpFrameStream decodes SSE data lines into frames. Not safe for
// concurrent use; the client's connection loop is its only consumer.
type httpFrameStream struct {
	scanner *sse.Scanner
	body    io.ReadCloser
}

// Next blocks until the next frame arrives. It returns io.EOF when the
// gateway ended the stream cleanly. A frame that does not decode is
// terminal: the gateway writes its own marshaling, so garbage means
// the connection is corrupt, not that one frame is odd.
func (s *httpFrameStream) Next() (Frame, error) {
	if s.scanner.Next() {
		var frame Frame
		if err := json.Unmarshal([]byte(s.scanner.Event().Data), &frame); err != nil {
			return Frame{}, fmt.Errorf("client: decoding stream frame: %w", err)
		}
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil && !netutil.IsExpectedCloseError(err) {
		return Frame{}, fmt.Errorf("client: reading stream: %w", err)
	}
	return Frame{}, io.EOF
}

// Close releases the underlying HTTP response body. Safe to call more
// than once.
func (s *httpFrameStream) Close() error {
	return s.body.Close()
}

// readGatewayError builds an error from a non-200 response. The
// gateway answers errors as {"error": "..."}; anything else is carried
// raw.
func readGatewayError(response *http.Response) error {
	body := netutil.ErrorBody(response.Body)

	var wireError struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(body), &wireError) == nil && wireError.Error != "" {
		return fmt.Errorf("client: gateway returned %d: %s", response.StatusCode, wireError.Error)
	}
	return fmt.Errorf("client: gateway returned %d: %s", response.StatusCode, strings.TrimSpace(body))
}
