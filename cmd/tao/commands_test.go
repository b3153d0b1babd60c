package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kartalabs/tao/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAppendRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /domains/databases/interactions": `{"sequence_index":7,"sophistication_level":2.1,"query":"how do btrees split"}`,
	})

	client := ts.client()

	req := map[string]any{
		"query":         "how do btrees split",
		"source":        "llm",
		"confidence":    0.9,
		"patterns_used": []string{"indexing"},
	}
	resp, err := client.post(ctx, "/domains/databases/interactions", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		SequenceIndex  int     `json:"sequence_index"`
		Sophistication float64 `json:"sophistication_level"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.SequenceIndex != 7 {
		t.Errorf("sequence_index = %d, want 7", result.SequenceIndex)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["query"] != "how do btrees split" {
		t.Errorf("body.query = %v, want the query text", body["query"])
	}
	if body["source"] != "llm" {
		t.Errorf("body.source = %v, want llm", body["source"])
	}
}

func TestAppendCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"append", "databases"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing query argument")
	}
}

func TestDomainPathEscaping(t *testing.T) {
	got := domainPath("machine learning", "/history")
	if strings.Contains(got, " ") {
		t.Errorf("domain not escaped: %q", got)
	}
	if got != "/domains/machine%20learning/history" {
		t.Errorf("path = %q, want escaped domain segment", got)
	}
}

func TestHistoryRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /domains/databases/history": `{"records":[{"sequence_index":0,"timestamp":"2026-03-01T09:00:00Z","query":"what is a btree","source":"llm","sophistication_level":0.8}]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/domains/databases/history?limit=10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Records []struct {
			SequenceIndex int    `json:"sequence_index"`
			Query         string `json:"query"`
		} `json:"records"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result.Records))
	}
	if result.Records[0].Query != "what is a btree" {
		t.Errorf("query = %q, want 'what is a btree'", result.Records[0].Query)
	}
	if !strings.Contains(ts.requests[0].Path, "limit=10") {
		t.Errorf("path = %q, want limit param", ts.requests[0].Path)
	}
}

func TestChainRequestParams(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /domains/databases/chain": `{"records":[],"target_index":5,"depth":0}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/domains/databases/chain?after=2&before=1&index=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	path := ts.requests[0].Path
	for _, param := range []string{"index=5", "before=1", "after=2"} {
		if !strings.Contains(path, param) {
			t.Errorf("path = %q, missing %s", path, param)
		}
	}
}

func TestBenchmarkSetRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /benchmarks/composite/sre": `{"metric":"composite","role":"sre","p50":0.4,"p75":0.6,"p90":0.8,"sample_size":50}`,
	})

	client := ts.client()
	body := map[string]any{"p50": 0.4, "p75": 0.6, "p90": 0.8, "sample_size": 50}
	resp, err := client.put(ctx, "/benchmarks/composite/sre", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["role"] != "sre" {
		t.Errorf("role = %v, want sre", result["role"])
	}
	if ts.requests[0].Method != "PUT" {
		t.Errorf("method = %q, want PUT", ts.requests[0].Method)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/domains")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4600
	cfg.Analysis.SessionGapMinutes = 30

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4600" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4600 in ShowAll output")
	}
}

func TestIndexConfigMapping(t *testing.T) {
	cfg := config.Config{}
	cfg.Index.VelocityWeight = 0.3
	cfg.Index.SophisticationWeight = 0.3
	cfg.Index.ChainDepthWeight = 0.2
	cfg.Index.RetentionWeight = 0.2
	cfg.Index.MasteryQueries = 3
	cfg.Index.RecallQueries = 2
	cfg.Index.RecallGapHours = 24
	cfg.Analysis.ChainGapMinutes = 10

	got := indexConfig(cfg)
	if got.Weights.Velocity != 0.3 || got.Weights.Retention != 0.2 {
		t.Errorf("weights = %+v, want 0.3/0.3/0.2/0.2", got.Weights)
	}
	if got.ChainGap.Minutes() != 10 {
		t.Errorf("ChainGap = %v, want 10m", got.ChainGap)
	}
	if got.RecallGap.Hours() != 24 {
		t.Errorf("RecallGap = %v, want 24h", got.RecallGap)
	}
}
