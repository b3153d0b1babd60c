package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kartalabs/tao/internal/analysis"
	"github.com/kartalabs/tao/internal/classify"
	"github.com/kartalabs/tao/internal/config"
	"github.com/kartalabs/tao/internal/store"
)

const maxAppendBodySize = 1 << 20 // 1MB

// Deps wires the handler to storage and analysis components.
type Deps struct {
	Log        *store.Log
	Benchmarks *store.BenchmarkStore
	Classifier *classify.Classifier
	Finder     *analysis.Finder
	Analysis   config.AnalysisConfig
	Index      analysis.IndexConfig
	Token      string
}

// NewHandler builds the HTTP query surface. Every route except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/domains", handleListDomains(deps))
		r.Post("/domains/{domain}/interactions", handleAppend(deps))
		r.Get("/domains/{domain}/history", handleHistory(deps))
		r.Get("/domains/{domain}/sessions", handleSessions(deps))
		r.Get("/domains/{domain}/chain", handleChain(deps))
		r.Get("/domains/{domain}/related", handleRelated(deps))
		r.Get("/domains/{domain}/concepts", handleConcepts(deps))
		r.Get("/domains/{domain}/depth", handleDepth(deps))
		r.Get("/domains/{domain}/index", handleIndex(deps))
		r.Get("/benchmarks", handleListBenchmarks(deps))
		r.Put("/benchmarks/{metric}/{role}", handlePutBenchmark(deps))
	})

	return r
}

// AppendRequest is the write-path body. Sophistication is assigned by the
// classifier at write time and cannot be supplied by the caller.
type AppendRequest struct {
	Query        string    `json:"query"`
	Response     string    `json:"response"`
	Source       string    `json:"source"`
	Confidence   float64   `json:"confidence"`
	PatternsUsed []string  `json:"patterns_used"`
	Timestamp    time.Time `json:"timestamp"`
}

func handleAppend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAppendBodySize)
		defer r.Body.Close()

		var req AppendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.Source == "" {
			req.Source = string(store.SourceLLM)
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now().UTC()
		}

		rec := store.Record{
			Timestamp:      req.Timestamp,
			Query:          req.Query,
			Response:       req.Response,
			Source:         store.Source(req.Source),
			Confidence:     req.Confidence,
			PatternsUsed:   req.PatternsUsed,
			Sophistication: deps.Classifier.Classify(req.Query),
		}
		saved, err := deps.Log.Append(chi.URLParam(r, "domain"), rec)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListDomains(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		domains, err := deps.Log.ListDomains()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		if domains == nil {
			domains = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
	}
}

// HistoryStats is the aggregate view of one domain's log.
type HistoryStats struct {
	Count             int            `json:"count"`
	FirstTimestamp    *time.Time     `json:"first_timestamp,omitempty"`
	LastTimestamp     *time.Time     `json:"last_timestamp,omitempty"`
	Sources           map[string]int `json:"sources"`
	AvgConfidence     float64        `json:"avg_confidence"`
	AvgSophistication float64        `json:"avg_sophistication"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := loadDomain(w, r, deps)
		if !ok {
			return
		}

		if boolParam(r, "stats") {
			stats := HistoryStats{Count: len(records), Sources: make(map[string]int)}
			for _, rec := range records {
				stats.Sources[string(rec.Source)]++
				stats.AvgConfidence += rec.Confidence
				stats.AvgSophistication += rec.Sophistication
			}
			if len(records) > 0 {
				stats.FirstTimestamp = &records[0].Timestamp
				stats.LastTimestamp = &records[len(records)-1].Timestamp
				stats.AvgConfidence /= float64(len(records))
				stats.AvgSophistication /= float64(len(records))
			}
			writeJSON(w, http.StatusOK, stats)
			return
		}

		limit, err := intParam(r, "limit", 0)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if limit > 0 && len(records) > limit {
			records = records[len(records)-limit:]
		}
		if records == nil {
			records = []store.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	}
}

// SessionSummary is the wire form of one detected session.
type SessionSummary struct {
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	Count           int            `json:"count"`
	Sources         map[string]int `json:"sources"`
	AvgConfidence   float64        `json:"avg_confidence"`
	FirstIndex      int            `json:"first_index"`
	LastIndex       int            `json:"last_index"`
}

func handleSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := loadDomain(w, r, deps)
		if !ok {
			return
		}
		gap, err := gapParam(r, "gap_minutes", deps.Analysis.SessionGap())
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		sessions, err := analysis.DetectSessions(records, gap)
		if err != nil {
			analysisError(w, err)
			return
		}

		summaries := make([]SessionSummary, 0, len(sessions))
		for _, s := range sessions {
			sources := make(map[string]int)
			for src, n := range s.SourceCounts() {
				sources[string(src)] = n
			}
			summaries = append(summaries, SessionSummary{
				StartTime:       s.StartTime,
				EndTime:         s.EndTime,
				DurationSeconds: s.Duration().Seconds(),
				Count:           len(s.Records),
				Sources:         sources,
				AvgConfidence:   s.AvgConfidence(),
				FirstIndex:      s.Records[0].SequenceIndex,
				LastIndex:       s.Records[len(s.Records)-1].SequenceIndex,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
	}
}

func handleChain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := loadDomain(w, r, deps)
		if !ok {
			return
		}
		target, err := intParamRequired(r, "index")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		before, err := intParam(r, "before", 3)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		after, err := intParam(r, "after", 5)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		gap, err := gapParam(r, "gap_minutes", deps.Analysis.ChainGap())
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		chain, err := analysis.TraceChain(records, target, before, after, gap)
		if err != nil {
			analysisError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"records":      chain.Records,
			"target_index": chain.TargetIndex,
			"depth":        chain.Len(),
		})
	}
}

func handleRelated(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := loadDomain(w, r, deps)
		if !ok {
			return
		}
		target, err := intParamRequired(r, "index")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		limit, err := intParam(r, "limit", deps.Analysis.RelatedLimit)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		strategy := r.URL.Query().Get("strategy")
		if strategy == "" {
			strategy = analysis.StrategyAll
		}

		results, partial, err := deps.Finder.FindRelated(r.Context(), records, target, strategy, limit)
		if err != nil {
			analysisError(w, err)
			return
		}
		if results == nil {
			results = []analysis.RelatedResult{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "partial": partial})
	}
}

func handleConcepts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := loadDomain(w, r, deps)
		if !ok {
			return
		}

		if concept := r.URL.Query().Get("concept"); concept != "" {
			resp := map[string]any{
				"concept":  strings.ToLower(concept),
				"timeline": analysis.Timeline(records, concept),
			}
			if boolParam(r, "cooccurrence") {
				resp["co_occurring"] = analysis.CoOccurrence(records, concept)
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		top, err := intParam(r, "top", 20)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		stats := analysis.TopConcepts(analysis.ExtractConcepts(records), top)
		writeJSON(w, http.StatusOK, map[string]any{"concepts": stats})
	}
}

// ExplorationSummary is the wire form of one exploration.
type ExplorationSummary struct {
	DominantConcept string  `json:"dominant_concept"`
	Depth           int     `json:"depth"`
	DurationSeconds float64 `json:"duration_seconds"`
	FirstIndex      int     `json:"first_index"`
	LastIndex       int     `json:"last_index"`
}

func handleDepth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := loadDomain(w, r, deps)
		if !ok {
			return
		}
		minDepth, err := intParam(r, "min_depth", deps.Analysis.MinDepth)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		explorations, err := analysis.AnalyzeDepth(records, minDepth, r.URL.Query().Get("concept"), deps.Analysis.ChainGap())
		if err != nil {
			analysisError(w, err)
			return
		}

		summaries := make([]ExplorationSummary, 0, len(explorations))
		for _, e := range explorations {
			summaries = append(summaries, ExplorationSummary{
				DominantConcept: e.DominantConcept,
				Depth:           e.Depth,
				DurationSeconds: e.Duration.Seconds(),
				FirstIndex:      e.Records[0].SequenceIndex,
				LastIndex:       e.Records[len(e.Records)-1].SequenceIndex,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"explorations": summaries})
	}
}

func handleIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := loadDomain(w, r, deps)
		if !ok {
			return
		}

		score, err := analysis.ComputeIndex(records, deps.Index)
		if err != nil {
			analysisError(w, err)
			return
		}

		// Percentile only when a role's benchmark exists and is usable;
		// an unusable benchmark leaves the field null rather than failing
		// the whole request.
		if role := r.URL.Query().Get("role"); role != "" && deps.Benchmarks != nil {
			b, err := deps.Benchmarks.Get("composite", role)
			if err == nil {
				if pct, perr := analysis.Percentile(score.Index, b); perr == nil {
					score.Percentile = &pct
				}
			} else if !errors.Is(err, store.ErrNotFound) {
				httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, score)
	}
}

// BenchmarkRequest is the seeding body for one (metric, role) row.
type BenchmarkRequest struct {
	P50        float64 `json:"p50"`
	P75        float64 `json:"p75"`
	P90        float64 `json:"p90"`
	SampleSize int     `json:"sample_size"`
}

func handlePutBenchmark(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BenchmarkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		b, err := deps.Benchmarks.Upsert(store.Benchmark{
			Metric:     chi.URLParam(r, "metric"),
			Role:       chi.URLParam(r, "role"),
			P50:        req.P50,
			P75:        req.P75,
			P90:        req.P90,
			SampleSize: req.SampleSize,
		})
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"metric": b.Metric, "role": b.Role,
			"p50": b.P50, "p75": b.P75, "p90": b.P90,
			"sample_size": b.SampleSize,
		})
	}
}

func handleListBenchmarks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		list, err := deps.Benchmarks.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		out := make([]map[string]any, 0, len(list))
		for _, b := range list {
			out = append(out, map[string]any{
				"metric": b.Metric, "role": b.Role,
				"p50": b.P50, "p75": b.P75, "p90": b.P90,
				"sample_size": b.SampleSize,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"benchmarks": out})
	}
}

// loadDomain loads a full snapshot of the requested domain. A missing log is
// an empty history; a corrupt one is a data-integrity error. On failure the
// response is already written and ok is false.
func loadDomain(w http.ResponseWriter, r *http.Request, deps Deps) ([]store.Record, bool) {
	records, err := deps.Log.Load(chi.URLParam(r, "domain"))
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			httpError(w, http.StatusInternalServerError, "data_integrity_error", "%v", err)
		} else {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		}
		return nil, false
	}
	return records, true
}

// analysisError maps analysis sentinels onto HTTP status codes.
func analysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidIndex), errors.Is(err, analysis.ErrInvalidConfig):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

func intParamRequired(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

func gapParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	minutes, err := intParam(r, name, 0)
	if err != nil {
		return 0, err
	}
	if minutes == 0 {
		return def, nil
	}
	return time.Duration(minutes) * time.Minute, nil
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
