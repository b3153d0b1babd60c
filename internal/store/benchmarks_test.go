package store

import (
	"errors"
	"testing"
)

func openTestBenchmarks(t *testing.T) *BenchmarkStore {
	t.Helper()
	s, err := OpenBenchmarks(":memory:")
	if err != nil {
		t.Fatalf("OpenBenchmarks(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBenchmarkUpsertAndGet(t *testing.T) {
	s := openTestBenchmarks(t)

	b, err := s.Upsert(Benchmark{Metric: "composite", Role: "backend", P50: 0.4, P75: 0.6, P90: 0.8, SampleSize: 120})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if b.ID == "" {
		t.Error("Upsert did not assign an ID")
	}

	got, err := s.Get("composite", "backend")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.P75 != 0.6 || got.SampleSize != 120 {
		t.Errorf("Get returned %+v", got)
	}

	// Second upsert replaces percentiles for the same (metric, role).
	if _, err := s.Upsert(Benchmark{Metric: "composite", Role: "backend", P50: 0.5, P75: 0.7, P90: 0.9, SampleSize: 200}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, err = s.Get("composite", "backend")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.P50 != 0.5 || got.SampleSize != 200 {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestBenchmarkGetMissing(t *testing.T) {
	s := openTestBenchmarks(t)
	if _, err := s.Get("composite", "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}
}

func TestBenchmarkUpsertValidation(t *testing.T) {
	s := openTestBenchmarks(t)
	if _, err := s.Upsert(Benchmark{Metric: "", Role: "backend"}); err == nil {
		t.Error("expected error for empty metric")
	}
}

func TestBenchmarkList(t *testing.T) {
	s := openTestBenchmarks(t)

	for _, b := range []Benchmark{
		{Metric: "velocity", Role: "backend", P50: 0.1, P75: 0.2, P90: 0.3, SampleSize: 10},
		{Metric: "composite", Role: "backend", P50: 0.4, P75: 0.6, P90: 0.8, SampleSize: 10},
	} {
		if _, err := s.Upsert(b); err != nil {
			t.Fatalf("Upsert %s: %v", b.Metric, err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d rows, want 2", len(list))
	}
	if list[0].Metric != "composite" {
		t.Errorf("rows not ordered by metric: %v", list[0].Metric)
	}
}
