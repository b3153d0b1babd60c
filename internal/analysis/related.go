package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kartalabs/tao/internal/embed"
	"github.com/kartalabs/tao/internal/store"
)

// DefaultTemporalWindow bounds the temporal strategy's scoring window.
const DefaultTemporalWindow = 60 * time.Minute

// StrategyAll selects every registered strategy.
const StrategyAll = "all"

// RelatedResult is one scored candidate from the related-item finder. When
// several strategies score the same candidate, the highest score wins and
// Strategy names the one that produced it.
type RelatedResult struct {
	Record   store.Record `json:"record"`
	Strategy string       `json:"strategy"`
	Score    float64      `json:"score"`
	Reason   string       `json:"reason"`
}

// Strategy scores a candidate record against a target. Implementations must
// be deterministic; scores stay in [0,1] and zero means "unrelated" (the
// candidate is dropped from results).
type Strategy interface {
	Name() string
	Score(ctx context.Context, target, candidate store.Record) (score float64, reason string, err error)
}

// TemporalStrategy scores by time proximity: max(0, 1 - |Δt|/window).
type TemporalStrategy struct {
	Window time.Duration
}

func (s *TemporalStrategy) Name() string { return "temporal" }

func (s *TemporalStrategy) Score(_ context.Context, target, candidate store.Record) (float64, string, error) {
	delta := target.Timestamp.Sub(candidate.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	score := 1 - float64(delta)/float64(s.Window)
	if score <= 0 {
		return 0, "", nil
	}
	return score, fmt.Sprintf("%s apart", delta.Round(time.Second)), nil
}

// PatternStrategy scores by Jaccard similarity of the patterns_used sets.
// Two empty sets score 0 by convention.
type PatternStrategy struct{}

func (s *PatternStrategy) Name() string { return "pattern" }

func (s *PatternStrategy) Score(_ context.Context, target, candidate store.Record) (float64, string, error) {
	a := toSet(target.PatternsUsed)
	b := toSet(candidate.PatternsUsed)
	score, shared := jaccard(a, b)
	if score == 0 {
		return 0, "", nil
	}
	return score, fmt.Sprintf("%d shared patterns", shared), nil
}

// KeywordStrategy scores by Jaccard similarity of the records' token sets.
type KeywordStrategy struct{}

func (s *KeywordStrategy) Name() string { return "keyword" }

func (s *KeywordStrategy) Score(_ context.Context, target, candidate store.Record) (float64, string, error) {
	score, shared := jaccard(tokenSet(target), tokenSet(candidate))
	if score == 0 {
		return 0, "", nil
	}
	return score, fmt.Sprintf("%d shared keywords", shared), nil
}

// SemanticStrategy scores by cosine similarity of embeddings from the
// injected Embedder. Vectors are memoized per query text for the lifetime of
// the strategy, so scoring N candidates embeds each distinct text once.
type SemanticStrategy struct {
	Embedder embed.Embedder

	mu    sync.Mutex
	cache map[string][]float32
}

// NewSemanticStrategy wraps the injected embedding capability.
func NewSemanticStrategy(e embed.Embedder) *SemanticStrategy {
	return &SemanticStrategy{Embedder: e, cache: make(map[string][]float32)}
}

func (s *SemanticStrategy) Name() string { return "semantic" }

func (s *SemanticStrategy) Score(ctx context.Context, target, candidate store.Record) (float64, string, error) {
	tv, err := s.vector(ctx, target.Query)
	if err != nil {
		return 0, "", err
	}
	cv, err := s.vector(ctx, candidate.Query)
	if err != nil {
		return 0, "", err
	}
	score := embed.Cosine(tv, cv)
	if score <= 0 {
		return 0, "", nil
	}
	// Clamp: embeddings of near-identical text can round above 1.
	score = math.Min(score, 1)
	return score, fmt.Sprintf("cosine %.2f", score), nil
}

func (s *SemanticStrategy) vector(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	v, ok := s.cache[text]
	s.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[text] = v
	s.mu.Unlock()
	return v, nil
}

// Finder runs registered strategies over a history snapshot and merges their
// rankings. Strategies are resolved from a name-keyed map built at
// construction; there is no dynamic loading.
type Finder struct {
	strategies map[string]Strategy
	temporal   *TemporalStrategy // also used for deterministic tie-breaks
}

// NewFinder registers the temporal, pattern, and keyword strategies, plus a
// semantic strategy when an embedder is injected (pass nil to run without
// one).
func NewFinder(window time.Duration, embedder embed.Embedder) (*Finder, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: temporal window must be positive, got %v", ErrInvalidConfig, window)
	}
	temporal := &TemporalStrategy{Window: window}
	f := &Finder{
		strategies: map[string]Strategy{
			"temporal": temporal,
			"pattern":  &PatternStrategy{},
			"keyword":  &KeywordStrategy{},
		},
		temporal: temporal,
	}
	if embedder != nil {
		f.strategies["semantic"] = NewSemanticStrategy(embedder)
	}
	return f, nil
}

// Strategies returns the registered strategy names, sorted.
func (f *Finder) Strategies() []string {
	names := make([]string, 0, len(f.strategies))
	for name := range f.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindRelated scores every other record against the target with the named
// strategy (or all of them) and returns the top results, highest score
// first. Ties break by temporal score, then ascending sequence index, so
// identical inputs always produce identical output.
//
// A strategy that fails mid-run is dropped without aborting the others; the
// returned partial flag reports that the result set is incomplete.
func (f *Finder) FindRelated(ctx context.Context, records []store.Record, target int, strategy string, limit int) (results []RelatedResult, partial bool, err error) {
	if err := checkIndex(len(records), target); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		return nil, false, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, limit)
	}

	var selected []Strategy
	if strategy == StrategyAll || strategy == "" {
		for _, name := range f.Strategies() {
			selected = append(selected, f.strategies[name])
		}
	} else {
		s, ok := f.strategies[strings.ToLower(strategy)]
		if !ok {
			return nil, false, fmt.Errorf("%w: unknown strategy %q (have %s)",
				ErrInvalidConfig, strategy, strings.Join(f.Strategies(), ", "))
		}
		selected = []Strategy{s}
	}

	targetRec := records[target]

	type strategyOutput struct {
		name    string
		scores  map[int]float64 // sequence index -> score
		reasons map[int]string
	}

	outputs := make([]strategyOutput, len(selected))
	var failed sync.Map

	g, gCtx := errgroup.WithContext(ctx)
	for i, s := range selected {
		i, s := i, s
		g.Go(func() error {
			out := strategyOutput{
				name:    s.Name(),
				scores:  make(map[int]float64),
				reasons: make(map[int]string),
			}
			for j, cand := range records {
				if j == target {
					continue
				}
				score, reason, err := s.Score(gCtx, targetRec, cand)
				if err != nil {
					// Local recovery: drop this strategy, keep the rest.
					slog.Warn("related strategy failed, skipping", "strategy", s.Name(), "error", err)
					failed.Store(s.Name(), true)
					return nil
				}
				if score <= 0 {
					continue
				}
				out.scores[cand.SequenceIndex] = score
				out.reasons[cand.SequenceIndex] = reason
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	failed.Range(func(_, _ any) bool { partial = true; return false })

	// Merge: keep each candidate's best score and the strategy that set it.
	// Strategies merge in sorted-name order, so equal scores resolve the same
	// way every run.
	best := make(map[int]RelatedResult)
	byIndex := make(map[int]store.Record, len(records))
	for _, r := range records {
		byIndex[r.SequenceIndex] = r
	}
	for _, out := range outputs {
		if out.scores == nil {
			continue
		}
		for seq, score := range out.scores {
			cur, seen := best[seq]
			if !seen || score > cur.Score {
				best[seq] = RelatedResult{
					Record:   byIndex[seq],
					Strategy: out.name,
					Score:    score,
					Reason:   out.reasons[seq],
				}
			}
		}
	}

	results = make([]RelatedResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, _, _ := f.temporal.Score(ctx, targetRec, results[i].Record)
		tj, _, _ := f.temporal.Score(ctx, targetRec, results[j].Record)
		if ti != tj {
			return ti > tj
		}
		return results[i].Record.SequenceIndex < results[j].Record.SequenceIndex
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, partial, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// jaccard returns |A∩B| / |A∪B| and the intersection size. Both sets empty
// scores 0 by convention.
func jaccard(a, b map[string]struct{}) (float64, int) {
	if len(a) == 0 && len(b) == 0 {
		return 0, 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0, 0
	}
	return float64(inter) / float64(union), inter
}
