// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/switchboard-io/switchboard/lib/netutil"
	"github.com/switchboard-io/switchboard/lib/schema"
	"github.com/switchboard-io/switchboard/lib/sse"
)

// Subscribe opens the agent's global event feed. Every failure to
// establish the stream — unreachable agent, non-200 answer — is a
// *ConnectionError; the caller owns retry policy.
//
// The stream stays open until the agent closes it, the context is
// cancelled, or Close is called. The caller must call Close even
// after Next returned a terminal error.
func (c *Client) Subscribe(ctx context.Context) (*EventStream, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, &ConnectionError{Op: "subscribe", Err: err}
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &ConnectionError{Op: "subscribe", Err: err}
	}
	if response.StatusCode != http.StatusOK {
		err := readAPIError(response)
		response.Body.Close()
		return nil, &ConnectionError{Op: "subscribe", Err: err}
	}

	c.logger.Debug("subscribed to agent event feed", "url", c.baseURL+"/event")
	return &EventStream{
		scanner: sse.NewScanner(response.Body),
		body:    response.Body,
	}, nil
}

// EventStream yields envelopes from the agent's global feed. Not safe
// for concurrent use; the listener is its only consumer.
type EventStream struct {
	scanner *sse.Scanner
	body    io.ReadCloser
}

// Next blocks until the next envelope arrives.
//
// Errors come in three kinds, and the caller must tell them apart:
// io.EOF when the agent ended the stream cleanly,
// *schema.MalformedEventError for a frame that is not a valid
// envelope (skippable — the stream continues), and *ConnectionError
// when the underlying read broke (terminal for this stream).
func (s *EventStream) Next() (schema.Envelope, error) {
	for s.scanner.Next() {
		data := s.scanner.Event().Data
		var envelope schema.Envelope
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			return schema.Envelope{}, &schema.MalformedEventError{
				EventType: "envelope",
				Reason:    "decoding feed frame",
				Err:       err,
			}
		}
		if envelope.Payload.Type == "" {
			return schema.Envelope{}, &schema.MalformedEventError{
				EventType: "envelope",
				Reason:    "missing payload.type",
			}
		}
		return envelope, nil
	}

	if err := s.scanner.Err(); err != nil && !netutil.IsExpectedCloseError(err) {
		return schema.Envelope{}, &ConnectionError{Op: "stream", Err: err}
	}
	return schema.Envelope{}, io.EOF
}

// Close releases the underlying HTTP response body. Safe to call more
// than once.
func (s *EventStream) Close() error {
	return s.body.Close()
}
