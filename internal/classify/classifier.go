// Package classify assigns a sophistication level in [0,4] to query text.
//
// The score is a deterministic heuristic over surface complexity signals:
// length, clause structure, comparison/trade-off vocabulary, and
// interrogative depth. It is not a language model; the same text always
// yields the same level, and more complex questions never score below
// simpler ones on the same signals.
package classify

import (
	"strings"
	"unicode"
)

// Band boundaries on the 0 to 4 scale.
const (
	BandFundamentals = "fundamentals" // [0, 1.5)
	BandPractical    = "practical"    // [1.5, 2.5)
	BandAdvanced     = "advanced"     // [2.5, 3.5)
	BandExpert       = "expert"       // [3.5, 4]
)

// clauseMarkers signal multi-clause questions.
var clauseMarkers = []string{",", ";", " and ", " or ", " but ", " because ", " whereas ", " while "}

// depthTerms signal comparison, trade-off, or systems-level reasoning.
var depthTerms = map[string]struct{}{
	"versus": {}, "vs": {}, "compare": {}, "comparison": {}, "comparing": {},
	"trade-off": {}, "tradeoff": {}, "tradeoffs": {}, "trade-offs": {},
	"implications": {}, "implication": {}, "bottleneck": {}, "bottlenecks": {},
	"scalability": {}, "consistency": {}, "throughput": {}, "latency": {},
	"concurrency": {}, "distributed": {}, "architecture": {}, "architectural": {},
	"optimize": {}, "optimizing": {}, "optimization": {}, "invariant": {}, "invariants": {},
	"guarantee": {}, "guarantees": {}, "semantics": {}, "idempotent": {}, "idempotency": {},
}

// Classifier scores query text. It holds no state; a single value can be
// shared across goroutines.
type Classifier struct{}

// New returns a Classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify returns the sophistication level for query, clamped to [0,4].
// Empty or whitespace-only input scores 0.
func (c *Classifier) Classify(query string) float64 {
	text := strings.ToLower(strings.TrimSpace(query))
	if text == "" {
		return 0
	}

	words := strings.Fields(text)
	score := 0.8

	// Length bands.
	switch {
	case len(words) >= 30:
		score += 1.1
	case len(words) >= 16:
		score += 0.8
	case len(words) >= 8:
		score += 0.4
	}

	// Clause structure, capped so punctuation-heavy text cannot run away.
	clauses := 0.0
	for _, m := range clauseMarkers {
		clauses += 0.2 * float64(strings.Count(text, m))
	}
	if clauses > 0.6 {
		clauses = 0.6
	}
	score += clauses

	// Comparison/trade-off vocabulary.
	depth := 0.0
	for _, w := range words {
		if _, ok := depthTerms[strings.TrimFunc(w, isPunct)]; ok {
			depth += 0.35
		}
	}
	if depth > 1.05 {
		depth = 1.05
	}
	score += depth

	// "why"/"how" questions probe mechanism; "what"/"when" tend to be factual.
	switch words[0] {
	case "why", "how":
		score += 0.35
	}

	if score < 0 {
		score = 0
	}
	if score > 4 {
		score = 4
	}
	return score
}

// Band returns the named band for a level on the 0 to 4 scale.
func Band(level float64) string {
	switch {
	case level < 1.5:
		return BandFundamentals
	case level < 2.5:
		return BandPractical
	case level < 3.5:
		return BandAdvanced
	default:
		return BandExpert
	}
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
