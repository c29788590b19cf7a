// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse parses Server-Sent Event streams. Both ends of the
// pipeline read SSE: the listener consumes the agent's global event
// feed, and the client reconciler consumes the gateway's per-session
// stream. The gateway's heartbeat comments (": heartbeat") are
// swallowed here, so consumers only ever see data-bearing events.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single Server-Sent Event parsed from a stream.
type Event struct {
	// Type is the value of the "event:" field, or "" for the default
	// event type.
	Type string

	// Data is the payload, assembled from one or more "data:" lines.
	// Multiple data lines are joined with newlines per the SSE
	// specification.
	Data string
}

// Scanner reads Server-Sent Events from an [io.Reader] per the W3C
// specification. Events are delimited by blank lines; "data:" lines
// carry the payload, "event:" lines set the type, comment lines
// (leading ":") and unknown fields are ignored.
//
// Usage:
//
//	scanner := sse.NewScanner(reader)
//	for scanner.Next() {
//	    event := scanner.Event()
//	    // process event.Type and event.Data
//	}
//	if err := scanner.Err(); err != nil {
//	    // stream broke mid-read
//	}
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

// NewScanner creates a scanner reading SSE events from reader.
func NewScanner(reader io.Reader) *Scanner {
	return &Scanner{
		reader: bufio.NewReaderSize(reader, 64*1024),
	}
}

// Next advances to the next event. Returns false at end of stream or
// on error; call [Scanner.Err] afterwards to distinguish a clean EOF
// from a broken read.
func (scanner *Scanner) Next() bool {
	scanner.current = Event{}

	var dataLines []string
	var eventType string
	hasData := false

	for {
		line, err := scanner.reader.ReadString('\n')

		// Partial last line: no trailing newline before EOF.
		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					scanner.current = Event{
						Type: eventType,
						Data: strings.Join(dataLines, "\n"),
					}
					// Remember EOF so the next call returns false.
					scanner.err = io.EOF
					return true
				}
				return false
			}
			scanner.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line = event boundary.
		if line == "" {
			if hasData {
				scanner.current = Event{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				}
				return true
			}
			// An empty block (heartbeat comment followed by its
			// blank line) carries nothing; keep reading.
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		// "field: value" with the space after the colon optional.
		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			// Per spec: strip exactly one leading space from the value.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		default:
			// "id", "retry", and unknown fields are ignored.
		}
	}
}

// Event returns the most recently parsed event. Only valid after
// [Scanner.Next] returned true.
func (scanner *Scanner) Event() Event {
	return scanner.current
}

// Err returns the first error encountered during scanning, or nil if
// the stream ended with a clean EOF.
func (scanner *Scanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}
