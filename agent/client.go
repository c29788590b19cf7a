// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/switchboard-io/switchboard/lib/netutil"
	"github.com/switchboard-io/switchboard/lib/schema"
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the base URL of the agent's HTTP API
	// (e.g., "http://localhost:4096").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used. Give it no overall timeout: Subscribe holds a response
	// body open indefinitely.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, logging is
	// disabled.
	Logger *slog.Logger
}

// Client talks to the upstream agent's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the agent API at config.BaseURL.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("agent: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("agent: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops pooled connections to the agent. The
// listener calls this between reconnect attempts so a fresh attempt
// never reuses a TCP connection poisoned by the previous failure.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// FetchSession returns the agent's current view of one session.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (schema.SessionInfo, error) {
	var info schema.SessionInfo
	if err := c.getJSON(ctx, "/sessions/"+url.PathEscape(sessionID), "fetch session", &info); err != nil {
		return schema.SessionInfo{}, err
	}
	return info, nil
}

// FetchMessages returns the agent's current message list for one
// session, each message paired with its parts, in conversation order.
func (c *Client) FetchMessages(ctx context.Context, sessionID string) ([]schema.MessageWithParts, error) {
	var messages []schema.MessageWithParts
	if err := c.getJSON(ctx, "/sessions/"+url.PathEscape(sessionID)+"/messages", "fetch messages", &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// FetchSessions returns every session the agent currently knows.
func (c *Client) FetchSessions(ctx context.Context) ([]schema.SessionInfo, error) {
	var sessions []schema.SessionInfo
	if err := c.getJSON(ctx, "/sessions", "fetch sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// getJSON performs a GET and decodes the 2xx response body into
// target. Transport failures come back as *ConnectionError, non-2xx
// responses as *APIError.
func (c *Client) getJSON(ctx context.Context, path, op string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("agent: creating request for %s: %w", path, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &ConnectionError{Op: op, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return readAPIError(response)
	}
	if err := netutil.DecodeResponse(response.Body, target); err != nil {
		return fmt.Errorf("agent: decoding %s response: %w", op, err)
	}
	return nil
}

// readAPIError builds an *APIError from a non-2xx response. The agent
// answers errors as {"error": "..."}; anything else is carried raw.
func readAPIError(response *http.Response) error {
	body := netutil.ErrorBody(response.Body)

	var wireError struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(body), &wireError) == nil && wireError.Error != "" {
		return &APIError{StatusCode: response.StatusCode, Message: wireError.Error}
	}
	return &APIError{StatusCode: response.StatusCode, Message: strings.TrimSpace(body)}
}
