// Package fusion implements the text machinery behind caption fusion:
// punctuation-aware tokenization, fuzzy word similarity, and detection of
// the token overlap between the end of one slot and the start of the next.
package fusion

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// maxOverlap caps the overlap search window in tokens.
const maxOverlap = 15

// Similarity thresholds for overlap detection.
const (
	wordSimThreshold   = 0.8
	matchRatioRequired = 0.7
)

// surroundPunct is split into its own token during tokenization.
var surroundPunct = []string{".", ",", "!", "?", ";", ":", "…", "»", "«", "\"", "'"}

// closingPunct attaches to the preceding token on detokenization.
var closingPunct = map[string]bool{
	".": true, ",": true, "!": true, "?": true, ";": true, ":": true,
	"…": true, "»": true, "\"": true, "'": true,
}

// openingPunct attaches to the following token on detokenization.
var openingPunct = map[string]bool{
	"«": true, "\"": true, "'": true,
}

// Tokenize splits s into word and punctuation tokens. Sentence and quote
// punctuation marks become tokens of their own; runs of whitespace separate
// tokens; empty tokens are dropped.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	spaced := s
	for _, p := range surroundPunct {
		spaced = strings.ReplaceAll(spaced, p, " "+p+" ")
	}
	return strings.Fields(spaced)
}

// Detokenize joins tokens with single spaces, then removes the space before
// closing punctuation and after opening quote punctuation.
func Detokenize(tokens []string) string {
	var b strings.Builder
	prevOpening := false
	for i, tok := range tokens {
		if i > 0 && !prevOpening && !closingPunct[tok] {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
		prevOpening = openingPunct[tok]
	}
	return strings.TrimSpace(b.String())
}

// Normalize re-renders s with canonical token spacing: whitespace runs
// collapse to single spaces and punctuation attaches per Detokenize.
func Normalize(s string) string {
	return Detokenize(Tokenize(s))
}

// Similarity compares two words case-insensitively via Levenshtein edit
// distance, scaled to [0,1]. Two empty strings score 0.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	if la == 0 && lb == 0 {
		return 0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// FindOverlap locates the longest fuzzy match between the tail of prev and
// the head of next. Candidate lengths k = 1..min(|prev|, |next|, 15) are
// tried in increasing order; k qualifies when at least 70% of its aligned
// token pairs reach 0.8 similarity. The longest qualifying k wins. Returns
// the overlap length and the matching suffix of prev.
func FindOverlap(prev, next []string) (int, []string) {
	limit := len(prev)
	if len(next) < limit {
		limit = len(next)
	}
	if limit > maxOverlap {
		limit = maxOverlap
	}

	best := 0
	for k := 1; k <= limit; k++ {
		matches := 0
		for i := 0; i < k; i++ {
			if Similarity(prev[len(prev)-k+i], next[i]) >= wordSimThreshold {
				matches++
			}
		}
		if float64(matches)/float64(k) >= matchRatioRequired && k > best {
			best = k
		}
	}
	return best, prev[len(prev)-best:]
}
