// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import "testing"

func TestFuzzyMatchBasic(t *testing.T) {
	result := FuzzyMatch("Fix flaky store test", []rune("store"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for substring match")
	}
	if len(result.Positions) == 0 {
		t.Fatal("expected non-empty match positions")
	}
}

func TestFuzzyMatchNonContiguous(t *testing.T) {
	// "fst" matches scattered characters of "flaky store test".
	result := FuzzyMatch("flaky store test", []rune("fst"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for non-contiguous match")
	}
}

func TestFuzzyMatchNoMatch(t *testing.T) {
	result := FuzzyMatch("Fix flaky store test", []rune("xyzq"), nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for no match, got %d", result.Score)
	}
	if len(result.Positions) != 0 {
		t.Errorf("expected empty positions for no match, got %v", result.Positions)
	}
}

func TestFuzzyMatchCaseInsensitive(t *testing.T) {
	result := FuzzyMatch("Fix Flaky Store Test", []rune("store"), nil)
	if result.Score <= 0 {
		t.Fatalf("expected case-insensitive match, got score=%d", result.Score)
	}

	result = FuzzyMatch("SES_8F2K", []rune("ses"), nil)
	if result.Score <= 0 {
		t.Fatalf("expected match against all-caps text, got score=%d", result.Score)
	}
}

func TestFuzzyMatchEmptyPattern(t *testing.T) {
	result := FuzzyMatch("anything", []rune{}, nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for empty pattern, got %d", result.Score)
	}
}

func TestFuzzyMatchRanksExactSubstringHigher(t *testing.T) {
	exact := FuzzyMatch("store layer rework", []rune("store"), nil)
	scattered := FuzzyMatch("s-nope t-other o-inner r-long e-gone", []rune("store"), nil)

	if exact.Score <= scattered.Score {
		t.Errorf("exact substring should outscore scattered match: %d vs %d",
			exact.Score, scattered.Score)
	}
}
