// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package sessionui

import (
	"strings"
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

func init() {
	// Select fzf's default scoring scheme. The scheme only adjusts
	// boundary bonuses; "default" favors word boundaries, which is
	// right for session titles.
	algo.Init("default")
}

// FuzzyResult holds the outcome of a fuzzy match: a relevance score
// and the rune positions in the text that matched. Zero score means
// no match.
type FuzzyResult struct {
	Score     int
	Positions []int
}

// FuzzyMatch scores pattern against text using fzf's V2 matcher.
// Matching is case-insensitive: both sides are lowercased before
// scoring. The slab is an optional scratch allocation reused across
// calls; nil is accepted.
func FuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 {
		return FuzzyResult{}
	}

	lowered := make([]rune, len(pattern))
	for index, r := range pattern {
		lowered[index] = unicode.ToLower(r)
	}
	chars := util.ToChars([]byte(strings.ToLower(text)))

	result, positions := algo.FuzzyMatchV2(true, true, true, &chars, lowered, true, slab)
	if result.Score <= 0 {
		return FuzzyResult{}
	}

	match := FuzzyResult{Score: result.Score}
	if positions != nil {
		match.Positions = *positions
	}
	return match
}
