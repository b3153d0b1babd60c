// Package analysis derives relationship signals from a domain's interaction
// history: session partitioning, chain tracing, related-item discovery,
// concept timelines, exploration depth, and the composite index.
//
// Every function here is a pure computation over the record slice it is
// given. Nothing caches or mutates history; callers load a fresh snapshot
// from the store per request.
package analysis

import (
	"errors"
	"fmt"
)

// ErrInvalidIndex is returned when a target index falls outside the record list.
var ErrInvalidIndex = errors.New("target index out of range")

// ErrInvalidConfig is returned for non-positive thresholds, malformed weights,
// or unknown strategy names. Bad parameters are rejected, never defaulted.
var ErrInvalidConfig = errors.New("invalid configuration")

func checkIndex(n, target int) error {
	if target < 0 || target >= n {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidIndex, target, n)
	}
	return nil
}
