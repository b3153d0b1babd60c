package analysis

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kartalabs/tao/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// rec builds a test record at an offset from t0.
func rec(idx int, offset time.Duration, query string, patterns ...string) store.Record {
	return store.Record{
		SequenceIndex: idx,
		Timestamp:     t0.Add(offset),
		Query:         query,
		Response:      "response",
		Source:        store.SourceLLM,
		Confidence:    0.9,
		PatternsUsed:  patterns,
	}
}

func recsAtMinutes(minutes ...int) []store.Record {
	records := make([]store.Record, len(minutes))
	for i, m := range minutes {
		records[i] = rec(i, time.Duration(m)*time.Minute, fmt.Sprintf("question %d", i))
	}
	return records
}

// Records at 0, 5, 10, 40, 45 minutes with a 30-minute threshold split into
// {0,5,10} and {40,45}.
func TestDetectSessionsSplitsOnGap(t *testing.T) {
	records := recsAtMinutes(0, 5, 10, 40, 45)

	sessions, err := DetectSessions(records, 30*time.Minute)
	if err != nil {
		t.Fatalf("DetectSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if len(sessions[0].Records) != 3 || len(sessions[1].Records) != 2 {
		t.Errorf("session sizes = %d,%d, want 3,2", len(sessions[0].Records), len(sessions[1].Records))
	}
	if sessions[1].StartTime != t0.Add(40*time.Minute) {
		t.Errorf("second session starts at %v", sessions[1].StartTime)
	}
}

// Sessions partition the input: every record in exactly one session, order
// preserved, intra-session gaps under the threshold and inter-session gaps
// at or over it.
func TestDetectSessionsPartitionAndGapInvariants(t *testing.T) {
	records := recsAtMinutes(0, 2, 4, 45, 46, 120, 200, 201, 202, 400)
	gap := 30 * time.Minute

	sessions, err := DetectSessions(records, gap)
	if err != nil {
		t.Fatalf("DetectSessions: %v", err)
	}

	var flat []store.Record
	for si, s := range sessions {
		for i := 1; i < len(s.Records); i++ {
			d := s.Records[i].Timestamp.Sub(s.Records[i-1].Timestamp)
			if d >= gap {
				t.Errorf("session %d has intra-session gap %v >= threshold", si, d)
			}
		}
		if si > 0 {
			prev := sessions[si-1].Records
			d := s.Records[0].Timestamp.Sub(prev[len(prev)-1].Timestamp)
			if d < gap {
				t.Errorf("inter-session gap %v < threshold before session %d", d, si)
			}
		}
		flat = append(flat, s.Records...)
	}

	if len(flat) != len(records) {
		t.Fatalf("partition lost records: %d vs %d", len(flat), len(records))
	}
	for i := range flat {
		if flat[i].SequenceIndex != records[i].SequenceIndex {
			t.Fatalf("concatenated sessions differ from input at %d", i)
		}
	}
}

func TestDetectSessionsSingleRecord(t *testing.T) {
	sessions, err := DetectSessions(recsAtMinutes(0), DefaultSessionGap)
	if err != nil {
		t.Fatalf("DetectSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if d := sessions[0].Duration(); d != 0 {
		t.Errorf("single-record session duration = %v, want 0", d)
	}
}

func TestDetectSessionsEmptyInput(t *testing.T) {
	sessions, err := DetectSessions(nil, DefaultSessionGap)
	if err != nil {
		t.Fatalf("DetectSessions on empty input: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("got %d sessions for empty input", len(sessions))
	}
}

func TestDetectSessionsRejectsBadGap(t *testing.T) {
	for _, gap := range []time.Duration{0, -time.Minute} {
		if _, err := DetectSessions(recsAtMinutes(0), gap); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("gap %v: got %v, want ErrInvalidConfig", gap, err)
		}
	}
}

func TestSessionStats(t *testing.T) {
	records := recsAtMinutes(0, 5, 10)
	records[0].Source = store.SourcePattern
	records[0].Confidence = 0.5
	records[1].Confidence = 0.7
	records[2].Confidence = 0.9

	sessions, err := DetectSessions(records, DefaultSessionGap)
	if err != nil {
		t.Fatalf("DetectSessions: %v", err)
	}
	s := sessions[0]

	if d := s.Duration(); d != 10*time.Minute {
		t.Errorf("duration = %v, want 10m", d)
	}
	counts := s.SourceCounts()
	if counts[store.SourcePattern] != 1 || counts[store.SourceLLM] != 2 {
		t.Errorf("source counts = %v", counts)
	}
	if avg := s.AvgConfidence(); avg < 0.699 || avg > 0.701 {
		t.Errorf("avg confidence = %v, want 0.7", avg)
	}
}
