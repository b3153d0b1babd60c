package analysis

import (
	"fmt"
	"time"

	"github.com/kartalabs/tao/internal/store"
)

// DefaultSessionGap separates sessions when no gap is configured.
const DefaultSessionGap = 30 * time.Minute

// Session is a maximal run of records whose consecutive gaps stay below the
// threshold used to detect it.
type Session struct {
	Records      []store.Record
	StartTime    time.Time
	EndTime      time.Time
	GapThreshold time.Duration
}

// Duration is the span from first to last record. A single-record session
// has duration zero.
func (s Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// SourceCounts tallies records per response source.
func (s Session) SourceCounts() map[store.Source]int {
	counts := make(map[store.Source]int)
	for _, r := range s.Records {
		counts[r.Source]++
	}
	return counts
}

// AvgConfidence is the mean confidence across the session's records.
func (s Session) AvgConfidence() float64 {
	if len(s.Records) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range s.Records {
		sum += r.Confidence
	}
	return sum / float64(len(s.Records))
}

// DetectSessions partitions records into sessions: a new session starts
// whenever the gap to the previous record reaches the threshold. The result
// is exhaustive and disjoint: concatenating the sessions in order
// reproduces the input. An empty input yields an empty (non-error) result.
func DetectSessions(records []store.Record, gap time.Duration) ([]Session, error) {
	if gap <= 0 {
		return nil, fmt.Errorf("%w: gap threshold must be positive, got %v", ErrInvalidConfig, gap)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var sessions []Session
	start := 0
	for i := 1; i <= len(records); i++ {
		boundary := i == len(records) ||
			records[i].Timestamp.Sub(records[i-1].Timestamp) >= gap
		if !boundary {
			continue
		}
		chunk := records[start:i]
		sessions = append(sessions, Session{
			Records:      chunk,
			StartTime:    chunk[0].Timestamp,
			EndTime:      chunk[len(chunk)-1].Timestamp,
			GapThreshold: gap,
		})
		start = i
	}
	return sessions, nil
}
