package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrCorrupt is returned when a domain log exists but cannot be decompressed.
// Individual malformed entries inside a readable log are skipped with a
// warning instead.
var ErrCorrupt = errors.New("log corrupt")

// ErrBenchmarkUnavailable is returned when a percentile is requested against
// a benchmark with no sample population or missing percentile points.
var ErrBenchmarkUnavailable = errors.New("benchmark unavailable")

// Source identifies where an interaction's response came from.
type Source string

const (
	SourcePattern   Source = "pattern"
	SourceLLM       Source = "llm"
	SourceWebSearch Source = "web_search"
	SourceEcho      Source = "echo"
)

// ValidSource reports whether s is one of the known response sources.
func ValidSource(s Source) bool {
	switch s {
	case SourcePattern, SourceLLM, SourceWebSearch, SourceEcho:
		return true
	}
	return false
}

// Record is one query/response turn in a domain's append-only log.
// Once appended it is never modified or reordered; SequenceIndex is the only
// stable identity.
type Record struct {
	SequenceIndex  int       `json:"sequence_index"`
	Timestamp      time.Time `json:"timestamp"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	Source         Source    `json:"source"`
	Confidence     float64   `json:"confidence"`
	PatternsUsed   []string  `json:"patterns_used"`
	Sophistication float64   `json:"sophistication_level"`
}

// Validate checks the fields a caller controls at append time.
func (r Record) Validate() error {
	if !ValidSource(r.Source) {
		return fmt.Errorf("unknown source %q", r.Source)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	if r.Sophistication < 0 || r.Sophistication > 4 {
		return fmt.Errorf("sophistication_level %v outside [0,4]", r.Sophistication)
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// Benchmark holds reference population percentiles for one metric within one
// role/category. Rows are written by the seeding surface, read by the
// percentile comparator.
type Benchmark struct {
	ID         string
	Metric     string
	Role       string
	P50        float64
	P75        float64
	P90        float64
	SampleSize int
	UpdatedAt  time.Time
}
