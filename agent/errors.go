// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"fmt"
	"net/http"
)

// ConnectionError reports that the agent process could not be reached
// or that an established event stream broke. Callers detect it with
// errors.As and treat it as transient:
//
//	var connErr *agent.ConnectionError
//	if errors.As(err, &connErr) { // schedule a reconnect }
type ConnectionError struct {
	// Op is the operation that failed ("subscribe", "stream",
	// "fetch session", ...).
	Op string
	// Err is the underlying transport or read error.
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("agent: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from a reachable agent. Unlike a
// ConnectionError it is definitive: retrying the identical request
// will not change the answer.
type APIError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// Message is the error description from the response body, or the
	// raw body when the agent did not answer in its JSON error shape.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError for a missing
// resource (a session the agent has deleted or never had).
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
