package analysis

import (
	"fmt"
	"time"

	"github.com/kartalabs/tao/internal/store"
)

// DefaultChainGap is the tighter threshold used when threading conversation
// chains, compared to session detection.
const DefaultChainGap = 10 * time.Minute

// Chain is an ordered window of records around a target, threaded by tight
// time proximity. Chains are not exhaustive and may overlap one another.
type Chain struct {
	Records      []store.Record
	TargetIndex  int // position of the target within Records
	GapThreshold time.Duration
}

// Len is the chain's depth.
func (c Chain) Len() int { return len(c.Records) }

// TraceChain walks backward from target while the before budget remains and
// each step's gap stays under the threshold, then symmetrically forward with
// the after budget. A target whose neighbors all exceed the threshold yields
// a chain of just the target record. An out-of-range target is an error,
// distinct from an empty result.
func TraceChain(records []store.Record, target, before, after int, gap time.Duration) (Chain, error) {
	if err := checkIndex(len(records), target); err != nil {
		return Chain{}, err
	}
	if gap <= 0 {
		return Chain{}, fmt.Errorf("%w: gap threshold must be positive, got %v", ErrInvalidConfig, gap)
	}
	if before < 0 || after < 0 {
		return Chain{}, fmt.Errorf("%w: before/after budgets must be non-negative", ErrInvalidConfig)
	}

	lo := target
	for lo > target-before && lo > 0 {
		if records[lo].Timestamp.Sub(records[lo-1].Timestamp) >= gap {
			break
		}
		lo--
	}

	hi := target
	for hi < target+after && hi < len(records)-1 {
		if records[hi+1].Timestamp.Sub(records[hi].Timestamp) >= gap {
			break
		}
		hi++
	}

	return Chain{
		Records:      records[lo : hi+1],
		TargetIndex:  target - lo,
		GapThreshold: gap,
	}, nil
}

// meanChainLen is the average maximal-run length over all records: each
// record's unbudgeted chain is the run of neighbors threaded by gaps under
// the threshold, so the mean weights each run by its own length. This is the
// chain-depth input to the composite index.
func meanChainLen(records []store.Record, gap time.Duration) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0
	start := 0
	for i := 1; i <= len(records); i++ {
		if i < len(records) && records[i].Timestamp.Sub(records[i-1].Timestamp) < gap {
			continue
		}
		runLen := i - start
		total += runLen * runLen // each of runLen records has a chain of runLen
		start = i
	}
	return float64(total) / float64(len(records))
}
