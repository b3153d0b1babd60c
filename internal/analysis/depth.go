package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kartalabs/tao/internal/store"
)

// DefaultMinDepth is the smallest group that counts as an exploration.
const DefaultMinDepth = 3

// dominantShare is the fraction of a group's records a concept must appear
// in to qualify as the group's dominant topic.
const dominantShare = 0.5

// Exploration is a depth-qualifying run of related records sharing a
// dominant concept.
type Exploration struct {
	Records         []store.Record `json:"records"`
	DominantConcept string         `json:"dominant_concept"`
	Depth           int            `json:"depth"`
	Duration        time.Duration  `json:"duration"`
}

// AnalyzeDepth groups consecutive records threaded by gaps under the chain
// threshold, keeps groups of at least minDepth records whose most frequent
// concept appears in at least half of them, and reports each with its
// dominant concept. When concept is non-empty, only explorations dominated
// by it (case-insensitive) are returned.
func AnalyzeDepth(records []store.Record, minDepth int, concept string, gap time.Duration) ([]Exploration, error) {
	if minDepth <= 0 {
		return nil, fmt.Errorf("%w: min depth must be positive, got %d", ErrInvalidConfig, minDepth)
	}
	if gap <= 0 {
		return nil, fmt.Errorf("%w: gap threshold must be positive, got %v", ErrInvalidConfig, gap)
	}
	concept = strings.ToLower(concept)

	var explorations []Exploration
	start := 0
	for i := 1; i <= len(records); i++ {
		if i < len(records) && records[i].Timestamp.Sub(records[i-1].Timestamp) < gap {
			continue
		}
		group := records[start:i]
		start = i

		if len(group) < minDepth {
			continue
		}
		dominant, count := dominantConcept(group)
		if dominant == "" || float64(count) < dominantShare*float64(len(group)) {
			continue
		}
		if concept != "" && dominant != concept {
			continue
		}
		explorations = append(explorations, Exploration{
			Records:         group,
			DominantConcept: dominant,
			Depth:           len(group),
			Duration:        group[len(group)-1].Timestamp.Sub(group[0].Timestamp),
		})
	}
	return explorations, nil
}

// dominantConcept returns the concept present in the most records of the
// group, ties broken alphabetically.
func dominantConcept(group []store.Record) (string, int) {
	counts := make(map[string]int)
	for _, r := range group {
		for c := range tokenSet(r) {
			counts[c]++
		}
	}
	if len(counts) == 0 {
		return "", 0
	}
	concepts := make([]string, 0, len(counts))
	for c := range counts {
		concepts = append(concepts, c)
	}
	sort.Strings(concepts)

	best, bestCount := "", 0
	for _, c := range concepts {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best, bestCount
}
