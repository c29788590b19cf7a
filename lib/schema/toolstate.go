// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// MergeToolState applies an incoming tool state on top of the current
// one, enforcing the monotonic lifecycle: pending and running never
// replace a terminal state (completed or error). Events can arrive
// late or duplicated; a stale "running" after "completed" must not
// resurrect a finished tool call in every observer's UI.
//
// Any other transition — forward progress, terminal-to-terminal
// overwrite, or a repeat of the same status with fresher output —
// takes the incoming state wholesale. Current may be nil (first
// observation), in which case incoming is returned as-is.
func MergeToolState(current, incoming *ToolState) *ToolState {
	if incoming == nil {
		return current
	}
	if current == nil {
		return incoming
	}
	if current.Status.Terminal() && isEarlyPhase(incoming.Status) {
		return current
	}
	return incoming
}

func isEarlyPhase(status ToolStatus) bool {
	return status == ToolStatusPending || status == ToolStatusRunning
}
