// Package similarity provides 0-100 likeness scoring between normalized
// strings, used by fuzzy duplicate matching. Two strategies exist behind
// one interface: an edit-distance ratio and a fully specified positional
// fallback. The strategy is selected by explicit configuration, never by
// probing the environment, so a given configuration always produces the
// same scores.
package similarity

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Scorer computes a similarity score in [0, 100] between two strings.
// Scoring is case-insensitive; callers are expected to pass pre-trimmed
// input.
type Scorer interface {
	Score(a, b string) int
}

// Kind identifies a scoring strategy.
type Kind string

const (
	// KindLevenshtein scores by edit-distance ratio
	KindLevenshtein Kind = "levenshtein"
	// KindBasic scores by the deterministic positional fallback
	KindBasic Kind = "basic"
)

// NewScorer returns the scorer for the given kind. Unknown kinds fall
// back to the basic scorer so output never silently varies with the
// environment.
func NewScorer(kind Kind) Scorer {
	if kind == KindLevenshtein {
		return LevenshteinScorer{}
	}
	return BasicScorer{}
}

// LevenshteinScorer scores strings by edit-distance ratio: 100 means
// identical, 0 means no character survives the alignment.
type LevenshteinScorer struct{}

// Score returns floor((1 - distance/maxLen) * 100) over the lowercased
// inputs. Identical strings, including two empty strings, score 100.
func (LevenshteinScorer) Score(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if a == b {
		return 100
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}

	dist := levenshtein.ComputeDistance(a, b)
	if dist > maxLen {
		dist = maxLen
	}
	return (maxLen - dist) * 100 / maxLen
}

// BasicScorer is the deterministic fallback scorer. Its policy is exact,
// including the rounding:
//
//	identical          -> 100
//	substring          -> floor(min(len)/max(len) * 90)
//	otherwise          -> floor(positional matches / max(len) * 80)
//	max(len) == 0      -> 0
//
// Positional matches count equal bytes at equal offsets over the shared
// prefix length.
type BasicScorer struct{}

// Score implements the fallback policy bit-for-bit.
func (BasicScorer) Score(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if a == b {
		return 100
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		minLen, maxLen := len(a), len(b)
		if minLen > maxLen {
			minLen, maxLen = maxLen, minLen
		}
		return minLen * 90 / maxLen
	}

	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	matches := 0
	for i := 0; i < shorter; i++ {
		if a[i] == b[i] {
			matches++
		}
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return matches * 80 / maxLen
}
