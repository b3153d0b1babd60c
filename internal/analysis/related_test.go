package analysis

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/kartalabs/tao/internal/store"
)

func newTestFinder(t *testing.T) *Finder {
	t.Helper()
	f, err := NewFinder(DefaultTemporalWindow, nil)
	if err != nil {
		t.Fatalf("NewFinder: %v", err)
	}
	return f
}

// A candidate sharing the target's full pattern set (Jaccard 1.0) ranks
// first; a disjoint candidate (Jaccard 0.0) is excluded.
func TestFindRelatedPatternRanking(t *testing.T) {
	records := []store.Record{
		rec(0, 0, "target question", "p1", "p2"),
		rec(1, 24*time.Hour, "identical patterns", "p1", "p2"),
		rec(2, 48*time.Hour, "disjoint patterns", "p3"),
	}

	f := newTestFinder(t)
	results, partial, err := f.FindRelated(context.Background(), records, 0, "pattern", 10)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if partial {
		t.Error("pure strategy reported partial results")
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (disjoint candidate excluded)", len(results))
	}
	if results[0].Record.SequenceIndex != 1 || results[0].Score != 1.0 {
		t.Errorf("top result = index %d score %v", results[0].Record.SequenceIndex, results[0].Score)
	}
	if results[0].Strategy != "pattern" {
		t.Errorf("strategy = %q, want pattern", results[0].Strategy)
	}
}

func TestFindRelatedTemporalWindow(t *testing.T) {
	records := []store.Record{
		rec(0, 0, "target"),
		rec(1, 30*time.Minute, "inside window"),
		rec(2, 3*time.Hour, "outside window"),
	}

	f := newTestFinder(t)
	results, _, err := f.FindRelated(context.Background(), records, 0, "temporal", 10)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if got := results[0].Score; got < 0.499 || got > 0.501 {
		t.Errorf("temporal score = %v, want 0.5", got)
	}
}

func TestFindRelatedExcludesTarget(t *testing.T) {
	records := []store.Record{
		rec(0, 0, "shared words about goroutines", "p1"),
		rec(1, time.Minute, "shared words about goroutines", "p1"),
	}

	f := newTestFinder(t)
	results, _, err := f.FindRelated(context.Background(), records, 0, StrategyAll, 10)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	for _, r := range results {
		if r.Record.SequenceIndex == 0 {
			t.Error("target record present in its own results")
		}
	}
}

// Identical inputs must yield identical ordered output.
func TestFindRelatedDeterministic(t *testing.T) {
	var records []store.Record
	for i := 0; i < 12; i++ {
		records = append(records, rec(i, time.Duration(i)*5*time.Minute,
			fmt.Sprintf("question about channels and goroutines %d", i), "p1"))
	}

	f := newTestFinder(t)
	first, _, err := f.FindRelated(context.Background(), records, 5, StrategyAll, 8)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, _, err := f.FindRelated(context.Background(), records, 5, StrategyAll, 8)
		if err != nil {
			t.Fatalf("FindRelated run %d: %v", run, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs from first run", run)
		}
	}
}

func TestFindRelatedScoresWithinBounds(t *testing.T) {
	var records []store.Record
	for i := 0; i < 20; i++ {
		records = append(records, rec(i, time.Duration(i)*7*time.Minute,
			fmt.Sprintf("mixed topics %d performance channels maps", i), fmt.Sprintf("p%d", i%3)))
	}

	f := newTestFinder(t)
	results, _, err := f.FindRelated(context.Background(), records, 3, StrategyAll, 50)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	for _, r := range results {
		if r.Score <= 0 || r.Score > 1 {
			t.Errorf("result %d score %v outside (0,1]", r.Record.SequenceIndex, r.Score)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
}

func TestFindRelatedInvalidArgs(t *testing.T) {
	records := recsAtMinutes(0, 5)
	f := newTestFinder(t)

	if _, _, err := f.FindRelated(context.Background(), records, 9, StrategyAll, 10); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("bad index: got %v, want ErrInvalidIndex", err)
	}
	if _, _, err := f.FindRelated(context.Background(), records, 0, "psychic", 10); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown strategy: got %v, want ErrInvalidConfig", err)
	}
	if _, _, err := f.FindRelated(context.Background(), records, 0, StrategyAll, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero limit: got %v, want ErrInvalidConfig", err)
	}
	if _, err := NewFinder(0, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero window: got %v, want ErrInvalidConfig", err)
	}
}

func TestJaccardBounds(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 0},
		{"disjoint", []string{"a"}, []string{"b"}, 0},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := jaccard(toSet(tc.a), toSet(tc.b))
			if got < tc.want-1e-9 || got > tc.want+1e-9 {
				t.Errorf("jaccard = %v, want %v", got, tc.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("jaccard %v outside [0,1]", got)
			}
		})
	}
}

// fakeEmbedder returns fixed vectors keyed by text.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return v, nil
}

func TestFindRelatedSemanticStrategy(t *testing.T) {
	records := []store.Record{
		rec(0, 0, "alpha"),
		rec(1, 24 * time.Hour, "close"),
		rec(2, 48 * time.Hour, "far"),
	}
	fe := &fakeEmbedder{vectors: map[string][]float32{
		"alpha": {1, 0, 0},
		"close": {0.9, 0.1, 0},
		"far":   {0, 1, 0},
	}}

	f, err := NewFinder(DefaultTemporalWindow, fe)
	if err != nil {
		t.Fatalf("NewFinder: %v", err)
	}
	results, partial, err := f.FindRelated(context.Background(), records, 0, "semantic", 10)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if partial {
		t.Error("healthy embedder reported partial")
	}
	if len(results) != 1 || results[0].Record.SequenceIndex != 1 {
		t.Fatalf("unexpected semantic results: %+v", results)
	}
	// Each distinct text embedded once thanks to memoization.
	if fe.calls != 3 {
		t.Errorf("embedder called %d times, want 3", fe.calls)
	}
}

// A failing strategy degrades to a partial result set instead of aborting
// the others.
func TestFindRelatedPartialOnStrategyFailure(t *testing.T) {
	records := []store.Record{
		rec(0, 0, "target", "p1"),
		rec(1, 5*time.Minute, "neighbor", "p1"),
	}
	fe := &fakeEmbedder{err: errors.New("engine down")}

	f, err := NewFinder(DefaultTemporalWindow, fe)
	if err != nil {
		t.Fatalf("NewFinder: %v", err)
	}
	results, partial, err := f.FindRelated(context.Background(), records, 0, StrategyAll, 10)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if !partial {
		t.Error("expected partial flag when a strategy fails")
	}
	if len(results) == 0 {
		t.Error("surviving strategies returned no results")
	}
}
