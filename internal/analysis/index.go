package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/kartalabs/tao/internal/store"
)

// DefaultRecallGap separates occurrence clusters when judging whether a
// concept was re-asked in a later sitting.
const DefaultRecallGap = 24 * time.Hour

// IndexWeights weight the four composite inputs. They must be positive and
// sum to 1.
type IndexWeights struct {
	Velocity       float64 `json:"velocity"`
	Sophistication float64 `json:"sophistication"`
	ChainDepth     float64 `json:"chain_depth"`
	Retention      float64 `json:"retention"`
}

// DefaultIndexWeights returns the standard 0.3/0.3/0.2/0.2 weighting.
func DefaultIndexWeights() IndexWeights {
	return IndexWeights{Velocity: 0.3, Sophistication: 0.3, ChainDepth: 0.2, Retention: 0.2}
}

// IndexConfig parameterizes the composite index.
type IndexConfig struct {
	Weights IndexWeights

	// MasteryQueries (K) is the largest first-exposure cluster that still
	// counts as mastering a concept; RecallQueries (K' <= K) is the largest
	// later cluster that still counts as recalling it without re-explanation.
	MasteryQueries int
	RecallQueries  int

	// ChainGap threads chains for the chain-depth input; RecallGap separates
	// a concept's occurrence clusters for retention.
	ChainGap  time.Duration
	RecallGap time.Duration
}

// DefaultIndexConfig returns the standard configuration.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Weights:        DefaultIndexWeights(),
		MasteryQueries: 3,
		RecallQueries:  2,
		ChainGap:       DefaultChainGap,
		RecallGap:      DefaultRecallGap,
	}
}

func (c IndexConfig) validate() error {
	w := c.Weights
	if w.Velocity <= 0 || w.Sophistication <= 0 || w.ChainDepth <= 0 || w.Retention <= 0 {
		return fmt.Errorf("%w: index weights must be positive", ErrInvalidConfig)
	}
	sum := w.Velocity + w.Sophistication + w.ChainDepth + w.Retention
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: index weights sum to %v, want 1", ErrInvalidConfig, sum)
	}
	if c.MasteryQueries <= 0 || c.RecallQueries <= 0 || c.RecallQueries > c.MasteryQueries {
		return fmt.Errorf("%w: need 0 < recall queries <= mastery queries", ErrInvalidConfig)
	}
	if c.ChainGap <= 0 || c.RecallGap <= 0 {
		return fmt.Errorf("%w: gaps must be positive", ErrInvalidConfig)
	}
	return nil
}

// CompositeScore is the weighted learning/engagement index over a window,
// with the raw inputs it was built from. Percentile is nil when no usable
// benchmark was supplied.
type CompositeScore struct {
	LearningVelocity  float64  `json:"learning_velocity"` // levels per day
	AvgSophistication float64  `json:"avg_sophistication"`
	ChainDepth        float64  `json:"chain_depth"` // mean chain length
	Retention         float64  `json:"retention"`   // fraction in [0,1]
	Index             float64  `json:"index"`       // [0,1]
	Percentile        *float64 `json:"percentile,omitempty"`
}

// ComputeIndex derives the composite score from a history window.
//
// Learning velocity is the least-squares regression slope of sophistication
// level over elapsed days across all records (smoother than the endpoint
// difference on noisy data). Chain depth is the mean unbudgeted chain length
// seeded at every record. Inputs are normalized to [0,1] before weighting:
// velocity maps [-1,+1] levels/day onto [0,1], sophistication divides by
// 4.0, chain depth divides by 10 and caps, retention is already a fraction.
//
// An empty window yields the zero score, not an error.
func ComputeIndex(records []store.Record, cfg IndexConfig) (CompositeScore, error) {
	if err := cfg.validate(); err != nil {
		return CompositeScore{}, err
	}
	if len(records) == 0 {
		return CompositeScore{}, nil
	}

	velocity := regressionSlope(records)
	avgSoph := meanSophistication(records)
	chainDepth := meanChainLen(records, cfg.ChainGap)
	retention := retentionScore(records, cfg)

	velocityNorm := clamp01((velocity + 1) / 2)
	sophNorm := clamp01(avgSoph / 4.0)
	chainNorm := clamp01(chainDepth / 10.0)

	w := cfg.Weights
	index := w.Velocity*velocityNorm + w.Sophistication*sophNorm +
		w.ChainDepth*chainNorm + w.Retention*retention

	return CompositeScore{
		LearningVelocity:  velocity,
		AvgSophistication: avgSoph,
		ChainDepth:        chainDepth,
		Retention:         retention,
		Index:             clamp01(index),
	}, nil
}

// Percentile maps a metric value onto its benchmark population using
// piecewise-linear interpolation through (0,0), (p50,50), (p75,75),
// (p90,90), extrapolating above p90 with the last segment's slope, capped at
// 99. A benchmark with no sample population or non-increasing percentile
// points returns store.ErrBenchmarkUnavailable.
func Percentile(value float64, b store.Benchmark) (float64, error) {
	if b.SampleSize <= 0 {
		return 0, fmt.Errorf("%w: sample size %d", store.ErrBenchmarkUnavailable, b.SampleSize)
	}
	if !(b.P50 > 0 && b.P50 < b.P75 && b.P75 < b.P90) {
		return 0, fmt.Errorf("%w: percentile points %v/%v/%v not increasing",
			store.ErrBenchmarkUnavailable, b.P50, b.P75, b.P90)
	}

	switch {
	case value <= 0:
		return 0, nil
	case value < b.P50:
		return 50 * value / b.P50, nil
	case value < b.P75:
		return 50 + 25*(value-b.P50)/(b.P75-b.P50), nil
	case value < b.P90:
		return 75 + 15*(value-b.P75)/(b.P90-b.P75), nil
	default:
		pct := 90 + 15*(value-b.P90)/(b.P90-b.P75)
		return math.Min(pct, 99), nil
	}
}

// regressionSlope fits sophistication level against elapsed days.
func regressionSlope(records []store.Record) float64 {
	if len(records) < 2 {
		return 0
	}
	t0 := records[0].Timestamp
	n := float64(len(records))
	var sumX, sumY, sumXY, sumXX float64
	for _, r := range records {
		x := r.Timestamp.Sub(t0).Hours() / 24
		y := r.Sophistication
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0 // all records at the same instant
	}
	return (n*sumXY - sumX*sumY) / denom
}

func meanSophistication(records []store.Record) float64 {
	sum := 0.0
	for _, r := range records {
		sum += r.Sophistication
	}
	return sum / float64(len(records))
}

// retentionScore measures how many mastered concepts were later recalled
// without re-explanation. A concept's occurrences split into clusters at
// RecallGap boundaries; mastery means a first cluster of at most K records,
// recall means some later cluster of at most K'. The score is the recalled
// fraction of mastered concepts that reappear at all; with no such concepts
// the score is 0.
func retentionScore(records []store.Record, cfg IndexConfig) float64 {
	occurrences := make(map[string][]time.Time)
	for _, r := range records {
		for c := range tokenSet(r) {
			occurrences[c] = append(occurrences[c], r.Timestamp)
		}
	}

	eligible, retained := 0, 0
	for _, times := range occurrences {
		clusters := clusterTimes(times, cfg.RecallGap)
		if len(clusters) < 2 || clusters[0] > cfg.MasteryQueries {
			continue
		}
		eligible++
		for _, size := range clusters[1:] {
			if size <= cfg.RecallQueries {
				retained++
				break
			}
		}
	}
	if eligible == 0 {
		return 0
	}
	return float64(retained) / float64(eligible)
}

// clusterTimes returns the sizes of occurrence clusters separated by gaps of
// at least sep. Times arrive in ascending order (append order).
func clusterTimes(times []time.Time, sep time.Duration) []int {
	var sizes []int
	count := 0
	for i, t := range times {
		if i > 0 && t.Sub(times[i-1]) >= sep {
			sizes = append(sizes, count)
			count = 0
		}
		count++
	}
	return append(sizes, count)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
