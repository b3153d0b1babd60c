package api

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kartalabs/tao/internal/analysis"
	"github.com/kartalabs/tao/internal/classify"
	"github.com/kartalabs/tao/internal/config"
	"github.com/kartalabs/tao/internal/store"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) Deps {
	t.Helper()

	log, err := store.OpenLog(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	benchmarks, err := store.OpenBenchmarks(":memory:")
	if err != nil {
		t.Fatalf("OpenBenchmarks failed: %v", err)
	}
	t.Cleanup(func() { benchmarks.Close() })

	finder, err := analysis.NewFinder(time.Hour, nil)
	if err != nil {
		t.Fatalf("NewFinder failed: %v", err)
	}

	return Deps{
		Log:        log,
		Benchmarks: benchmarks,
		Classifier: classify.New(),
		Finder:     finder,
		Analysis: config.AnalysisConfig{
			SessionGapMinutes:     30,
			ChainGapMinutes:       10,
			TemporalWindowMinutes: 60,
			RelatedLimit:          10,
			MinDepth:              3,
		},
		Index: analysis.DefaultIndexConfig(),
	}
}

func seedMCPDomain(t *testing.T, deps Deps, domain string, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := deps.Log.Append(domain, store.Record{
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Query:        fmt.Sprintf("caching eviction policy %d", i),
			Response:     "ok.",
			Source:       store.SourceLLM,
			Confidence:   0.9,
			PatternsUsed: []string{"caching"},
		})
		if err != nil {
			t.Fatalf("seed append %d: %v", i, err)
		}
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_AppendInteraction(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAppendInteraction(deps)

	req := makeCallToolRequest("append_interaction", map[string]interface{}{
		"domain":     "databases",
		"query":      "how does write-ahead logging interact with checkpointing",
		"response":   "it bounds recovery time",
		"source":     "llm",
		"confidence": 0.85,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	records, err := deps.Log.Load("databases")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Sophistication <= 0 {
		t.Errorf("Sophistication = %v, want > 0", records[0].Sophistication)
	}
}

func TestMCPTool_AppendInteraction_MissingQuery(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAppendInteraction(deps)

	req := makeCallToolRequest("append_interaction", map[string]interface{}{
		"domain": "databases",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing query")
	}
}

func TestMCPTool_ShowSessions(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 3)
	handler := mcpShowSessions(deps)

	req := makeCallToolRequest("show_sessions", map[string]interface{}{
		"domain": "databases",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var sessions []SessionSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &sessions); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Count != 3 {
		t.Errorf("session count = %d, want 3", sessions[0].Count)
	}
}

func TestMCPTool_TraceChain(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 5)
	handler := mcpTraceChain(deps)

	req := makeCallToolRequest("trace_chain", map[string]interface{}{
		"domain": "databases",
		"index":  2,
		"before": 1,
		"after":  1,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var resp struct {
		Depth       int `json:"depth"`
		TargetIndex int `json:"target_index"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Depth != 3 || resp.TargetIndex != 2 {
		t.Errorf("depth = %d, target = %d, want 3, 2", resp.Depth, resp.TargetIndex)
	}
}

func TestMCPTool_TraceChain_BadIndex(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 2)
	handler := mcpTraceChain(deps)

	req := makeCallToolRequest("trace_chain", map[string]interface{}{
		"domain": "databases",
		"index":  42,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for out-of-range index")
	}
}

func TestMCPTool_FindRelated(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 4)
	handler := mcpFindRelated(deps)

	req := makeCallToolRequest("find_related", map[string]interface{}{
		"domain":   "databases",
		"index":    0,
		"strategy": "pattern",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var resp struct {
		Results []analysis.RelatedResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
}

func TestMCPTool_ConceptTimeline(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 3)
	handler := mcpConceptTimeline(deps)

	req := makeCallToolRequest("concept_timeline", map[string]interface{}{
		"domain":  "databases",
		"concept": "caching",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var resp struct {
		Timeline []time.Time `json:"timeline"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Timeline) != 3 {
		t.Errorf("timeline entries = %d, want 3", len(resp.Timeline))
	}
}

func TestMCPTool_ConceptTimeline_Overview(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 3)
	handler := mcpConceptTimeline(deps)

	req := makeCallToolRequest("concept_timeline", map[string]interface{}{
		"domain": "databases",
		"top":    5,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Concepts []*analysis.ConceptStat `json:"concepts"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Concepts) == 0 {
		t.Fatal("expected at least one concept")
	}
}

func TestMCPTool_AnalyzeDepth(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 4)
	handler := mcpAnalyzeDepth(deps)

	req := makeCallToolRequest("analyze_depth", map[string]interface{}{
		"domain": "databases",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var explorations []ExplorationSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &explorations); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(explorations) != 1 {
		t.Fatalf("expected 1 exploration, got %d", len(explorations))
	}
	if explorations[0].DominantConcept != "caching" {
		t.Errorf("DominantConcept = %q, want %q", explorations[0].DominantConcept, "caching")
	}
}

func TestMCPTool_Index(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 4)

	if _, err := deps.Benchmarks.Upsert(store.Benchmark{
		Metric: "composite", Role: "sre",
		P50: 0.4, P75: 0.6, P90: 0.8, SampleSize: 50,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	handler := mcpIndex(deps)
	req := makeCallToolRequest("tao_index", map[string]interface{}{
		"domain": "databases",
		"role":   "sre",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var score analysis.CompositeScore
	if err := json.Unmarshal([]byte(toolText(t, result)), &score); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if score.Index < 0 || score.Index > 1 {
		t.Errorf("Index = %v, want within [0,1]", score.Index)
	}
	if score.Percentile == nil {
		t.Error("Percentile = nil, want a value for a seeded role")
	}
}

func TestMCPTool_MissingDomainIsEmpty(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpShowSessions(deps)

	req := makeCallToolRequest("show_sessions", map[string]interface{}{
		"domain": "never-seen",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "[]" {
		t.Errorf("response = %s, want []", text)
	}
}

func TestMCPResource_Domains(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPDomain(t, deps, "databases", 1)
	seedMCPDomain(t, deps, "algorithms", 1)

	handler := mcpResourceDomains(deps)
	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "tao://domains"},
	}

	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var domains []string
	if err := json.Unmarshal([]byte(tc.Text), &domains); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(domains) != 2 || domains[0] != "algorithms" || domains[1] != "databases" {
		t.Errorf("domains = %v, want [algorithms databases]", domains)
	}
}
