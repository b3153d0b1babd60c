package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kartalabs/tao/internal/analysis"
	"github.com/kartalabs/tao/internal/store"
)

// NewMCPServer creates an MCP server exposing the interaction log and its
// derived analyses as tools. It shares the HTTP handler's dependencies so
// both surfaces answer from the same log.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"tao",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tao — local interaction history with session, chain, concept, and learning-index analysis per knowledge domain."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("append_interaction",
			mcp.WithDescription("Record a query/response interaction in a domain's history. Sophistication is classified automatically."),
			mcp.WithString("domain", mcp.Description("Knowledge domain name"), mcp.Required()),
			mcp.WithString("query", mcp.Description("The question that was asked"), mcp.Required()),
			mcp.WithString("response", mcp.Description("The answer that was given")),
			mcp.WithString("source", mcp.Description("How the response was produced: pattern, llm, web_search, or echo")),
			mcp.WithNumber("confidence", mcp.Description("Response confidence in [0,1]")),
			mcp.WithArray("patterns_used", mcp.Description("Pattern identifiers that produced the response")),
		),
		mcpAppendInteraction(deps),
	)

	s.AddTool(
		mcp.NewTool("show_sessions",
			mcp.WithDescription("Group a domain's history into sessions separated by gaps of inactivity."),
			mcp.WithString("domain", mcp.Description("Knowledge domain name"), mcp.Required()),
			mcp.WithNumber("gap_minutes", mcp.Description("Inactivity gap that starts a new session (default 30)")),
		),
		mcpShowSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("trace_chain",
			mcp.WithDescription("Trace the reasoning chain of consecutive closely-timed interactions around one entry."),
			mcp.WithString("domain", mcp.Description("Knowledge domain name"), mcp.Required()),
			mcp.WithNumber("index", mcp.Description("Sequence index of the target entry"), mcp.Required()),
			mcp.WithNumber("before", mcp.Description("Maximum entries to include before the target (default 3)")),
			mcp.WithNumber("after", mcp.Description("Maximum entries to include after the target (default 5)")),
		),
		mcpTraceChain(deps),
	)

	s.AddTool(
		mcp.NewTool("find_related",
			mcp.WithDescription("Find entries related to one entry by temporal proximity, shared patterns, or keyword overlap."),
			mcp.WithString("domain", mcp.Description("Knowledge domain name"), mcp.Required()),
			mcp.WithNumber("index", mcp.Description("Sequence index of the target entry"), mcp.Required()),
			mcp.WithString("strategy", mcp.Description("Single strategy name, or 'all' to merge every strategy (default all)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpFindRelated(deps),
	)

	s.AddTool(
		mcp.NewTool("concept_timeline",
			mcp.WithDescription("Show when a concept appears across a domain's history, or the domain's top concepts when no concept is given."),
			mcp.WithString("domain", mcp.Description("Knowledge domain name"), mcp.Required()),
			mcp.WithString("concept", mcp.Description("Concept to trace; omit for the top-concept overview")),
			mcp.WithNumber("top", mcp.Description("Number of top concepts to return in overview mode (default 20)")),
		),
		mcpConceptTimeline(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_depth",
			mcp.WithDescription("Find sustained explorations: runs of closely-timed interactions dominated by one concept."),
			mcp.WithString("domain", mcp.Description("Knowledge domain name"), mcp.Required()),
			mcp.WithNumber("min_depth", mcp.Description("Minimum run length to count as an exploration (default 3)")),
			mcp.WithString("concept", mcp.Description("Only report explorations of this concept")),
		),
		mcpAnalyzeDepth(deps),
	)

	s.AddTool(
		mcp.NewTool("tao_index",
			mcp.WithDescription("Compute the composite learning index for a domain, optionally benchmarked against a role's percentiles."),
			mcp.WithString("domain", mcp.Description("Knowledge domain name"), mcp.Required()),
			mcp.WithString("role", mcp.Description("Benchmark role to compute a percentile against")),
		),
		mcpIndex(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tao://domains",
			"Knowledge Domains",
			mcp.WithResourceDescription("Domains that currently have interaction history"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDomains(deps),
	)

	return s
}

func mcpAppendInteraction(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		domain, err := req.RequireString("domain")
		if err != nil {
			return mcpError("domain is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		source := req.GetString("source", string(store.SourceLLM))
		rec := store.Record{
			Timestamp:      time.Now().UTC(),
			Query:          query,
			Response:       req.GetString("response", ""),
			Source:         store.Source(source),
			Confidence:     req.GetFloat("confidence", 0),
			PatternsUsed:   req.GetStringSlice("patterns_used", nil),
			Sophistication: deps.Classifier.Classify(query),
		}
		saved, err := deps.Log.Append(domain, rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to append: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded interaction %d in %s (sophistication %.2f)", saved.SequenceIndex, domain, saved.Sophistication)), nil
	}
}

func mcpShowSessions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, res := mcpLoadDomain(req, deps)
		if res != nil {
			return res, nil
		}

		gap := deps.Analysis.SessionGap()
		if m := req.GetInt("gap_minutes", 0); m > 0 {
			gap = time.Duration(m) * time.Minute
		}

		sessions, err := analysis.DetectSessions(records, gap)
		if err != nil {
			return mcpError(fmt.Sprintf("session detection failed: %v", err)), nil
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
		return mcpJSON(summaries)
	}
}

func mcpTraceChain(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, res := mcpLoadDomain(req, deps)
		if res != nil {
			return res, nil
		}
		target, err := req.RequireInt("index")
		if err != nil {
			return mcpError("index is required"), nil
		}

		chain, err := analysis.TraceChain(records, target, req.GetInt("before", 3), req.GetInt("after", 5), deps.Analysis.ChainGap())
		if err != nil {
			if errors.Is(err, analysis.ErrInvalidIndex) {
				return mcpError(fmt.Sprintf("no entry at index %d", target)), nil
			}
			return mcpError(fmt.Sprintf("chain trace failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{
			"records":      chain.Records,
			"target_index": chain.TargetIndex,
			"depth":        chain.Len(),
		})
	}
}

func mcpFindRelated(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, res := mcpLoadDomain(req, deps)
		if res != nil {
			return res, nil
		}
		target, err := req.RequireInt("index")
		if err != nil {
			return mcpError("index is required"), nil
		}

		strategy := req.GetString("strategy", analysis.StrategyAll)
		limit := req.GetInt("limit", deps.Analysis.RelatedLimit)

		results, partial, err := deps.Finder.FindRelated(ctx, records, target, strategy, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("related search failed: %v", err)), nil
		}
		if results == nil {
			results = []analysis.RelatedResult{}
		}
		return mcpJSON(map[string]any{"results": results, "partial": partial})
	}
}

func mcpConceptTimeline(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, res := mcpLoadDomain(req, deps)
		if res != nil {
			return res, nil
		}

		if concept := req.GetString("concept", ""); concept != "" {
			return mcpJSON(map[string]any{
				"concept":      concept,
				"timeline":     analysis.Timeline(records, concept),
				"co_occurring": analysis.CoOccurrence(records, concept),
			})
		}
		stats := analysis.TopConcepts(analysis.ExtractConcepts(records), req.GetInt("top", 20))
		return mcpJSON(map[string]any{"concepts": stats})
	}
}

func mcpAnalyzeDepth(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, res := mcpLoadDomain(req, deps)
		if res != nil {
			return res, nil
		}

		explorations, err := analysis.AnalyzeDepth(records, req.GetInt("min_depth", deps.Analysis.MinDepth), req.GetString("concept", ""), deps.Analysis.ChainGap())
		if err != nil {
			return mcpError(fmt.Sprintf("depth analysis failed: %v", err)), nil
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
		return mcpJSON(summaries)
	}
}

func mcpIndex(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, res := mcpLoadDomain(req, deps)
		if res != nil {
			return res, nil
		}

		score, err := analysis.ComputeIndex(records, deps.Index)
		if err != nil {
			return mcpError(fmt.Sprintf("index computation failed: %v", err)), nil
		}

		if role := req.GetString("role", ""); role != "" && deps.Benchmarks != nil {
			b, err := deps.Benchmarks.Get("composite", role)
			if err == nil {
				if pct, perr := analysis.Percentile(score.Index, b); perr == nil {
					score.Percentile = &pct
				}
			}
		}
		return mcpJSON(score)
	}
}

func mcpResourceDomains(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		domains, err := deps.Log.ListDomains()
		if err != nil {
			return nil, fmt.Errorf("failed to list domains: %w", err)
		}
		if domains == nil {
			domains = []string{}
		}

		b, err := json.Marshal(domains)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal domains: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpLoadDomain(req mcp.CallToolRequest, deps Deps) ([]store.Record, *mcp.CallToolResult) {
	domain, err := req.RequireString("domain")
	if err != nil {
		return nil, mcpError("domain is required")
	}
	records, err := deps.Log.Load(domain)
	if err != nil {
		return nil, mcpError(fmt.Sprintf("failed to load %s: %v", domain, err))
	}
	return records, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
