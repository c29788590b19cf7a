// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "testing"

func TestMergeToolStateTransitionMatrix(t *testing.T) {
	t.Parallel()

	statuses := []ToolStatus{
		ToolStatusPending,
		ToolStatusRunning,
		ToolStatusCompleted,
		ToolStatusError,
	}

	for _, current := range statuses {
		for _, incoming := range statuses {
			regression := current.Terminal() &&
				(incoming == ToolStatusPending || incoming == ToolStatusRunning)

			currentState := &ToolState{Status: current, Output: "old"}
			incomingState := &ToolState{Status: incoming, Output: "new"}
			merged := MergeToolState(currentState, incomingState)

			if regression {
				if merged != currentState {
					t.Errorf("merge(%s <- %s): terminal state was regressed", current, incoming)
				}
				continue
			}
			if merged != incomingState {
				t.Errorf("merge(%s <- %s): incoming state was not applied", current, incoming)
			}
		}
	}
}

func TestMergeToolStateNilCurrent(t *testing.T) {
	t.Parallel()
	incoming := &ToolState{Status: ToolStatusPending}
	if merged := MergeToolState(nil, incoming); merged != incoming {
		t.Error("first observation must take the incoming state")
	}
}

func TestMergeToolStateNilIncoming(t *testing.T) {
	t.Parallel()
	current := &ToolState{Status: ToolStatusCompleted}
	if merged := MergeToolState(current, nil); merged != current {
		t.Error("nil incoming must leave the current state untouched")
	}
}

func TestMergeToolStateSameStatusTakesFresherPayload(t *testing.T) {
	t.Parallel()
	// Repeated completed events carry progressively richer output;
	// equal-status merges always take the newer payload.
	current := &ToolState{Status: ToolStatusCompleted, Output: "partial"}
	incoming := &ToolState{Status: ToolStatusCompleted, Output: "full", Title: "go test"}
	merged := MergeToolState(current, incoming)
	if merged.Output != "full" || merged.Title != "go test" {
		t.Errorf("merged = %+v, want incoming payload", merged)
	}
}

func TestToolStatusTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   ToolStatus
		terminal bool
	}{
		{ToolStatusPending, false},
		{ToolStatusRunning, false},
		{ToolStatusCompleted, true},
		{ToolStatusError, true},
	}
	for _, test := range tests {
		if got := test.status.Terminal(); got != test.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", test.status, got, test.terminal)
		}
	}
}
