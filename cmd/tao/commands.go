package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartalabs/tao/internal/config"
)

func domainPath(domain, suffix string) string {
	return "/domains/" + url.PathEscape(domain) + suffix
}

// --- append ---

var appendCmd = &cobra.Command{
	Use:   "append <domain> <query>",
	Short: "Record an interaction in a domain's history",
	Long: `Record a query/response interaction in a domain's history.

The sophistication level is classified from the query text at write time.

Examples:
  tao append databases "how do btree indexes handle range scans" --response "..." --source llm
  tao append golang "what is a goroutine" --patterns concurrency,runtime --confidence 0.9`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		query := strings.Join(args[1:], " ")
		response, _ := cmd.Flags().GetString("response")
		source, _ := cmd.Flags().GetString("source")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		patternsStr, _ := cmd.Flags().GetString("patterns")

		req := map[string]any{
			"query":      query,
			"response":   response,
			"source":     source,
			"confidence": confidence,
		}
		if patternsStr != "" {
			patterns := strings.Split(patternsStr, ",")
			for i := range patterns {
				patterns[i] = strings.TrimSpace(patterns[i])
			}
			req["patterns_used"] = patterns
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), domainPath(domain, "/interactions"), req)
		if err != nil {
			return err
		}

		var result struct {
			SequenceIndex  int     `json:"sequence_index"`
			Sophistication float64 `json:"sophistication_level"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded entry %d in %s (sophistication %.2f)", result.SequenceIndex, domain, result.Sophistication)
		return nil
	},
}

func init() {
	appendCmd.Flags().String("response", "", "response text")
	appendCmd.Flags().String("source", "llm", "response source: pattern, llm, web_search, or echo")
	appendCmd.Flags().Float64("confidence", 0, "response confidence in [0,1]")
	appendCmd.Flags().String("patterns", "", "comma-separated pattern identifiers")
}

// --- view-history ---

var historyCmd = &cobra.Command{
	Use:   "view-history <domain>",
	Short: "Show a domain's interaction history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		limit, _ := cmd.Flags().GetInt("limit")
		statsOnly, _ := cmd.Flags().GetBool("stats-only")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if statsOnly {
			resp, err := client.get(cmd.Context(), domainPath(domain, "/history?stats=true"))
			if err != nil {
				return err
			}
			var stats struct {
				Count             int            `json:"count"`
				FirstTimestamp    *time.Time     `json:"first_timestamp"`
				LastTimestamp     *time.Time     `json:"last_timestamp"`
				Sources           map[string]int `json:"sources"`
				AvgConfidence     float64        `json:"avg_confidence"`
				AvgSophistication float64        `json:"avg_sophistication"`
			}
			if err := decodeJSON(resp, &stats); err != nil {
				return err
			}
			printStatus("Entries", "%d", stats.Count)
			if stats.FirstTimestamp != nil {
				printStatus("First", "%s", stats.FirstTimestamp.Format(time.RFC3339))
				printStatus("Last", "%s", stats.LastTimestamp.Format(time.RFC3339))
			}
			for src, n := range stats.Sources {
				printStatus("Source "+src, "%d", n)
			}
			printStatus("Avg confidence", "%.2f", stats.AvgConfidence)
			printStatus("Avg sophistication", "%.2f", stats.AvgSophistication)
			return nil
		}

		path := domainPath(domain, "/history")
		if limit > 0 {
			path += "?limit=" + strconv.Itoa(limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Records []struct {
				SequenceIndex  int       `json:"sequence_index"`
				Timestamp      time.Time `json:"timestamp"`
				Query          string    `json:"query"`
				Source         string    `json:"source"`
				Sophistication float64   `json:"sophistication_level"`
			} `json:"records"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Records) == 0 {
			fmt.Println("No history found.")
			return nil
		}
		for _, r := range result.Records {
			query := r.Query
			if len(query) > 80 {
				query = query[:80] + "..."
			}
			fmt.Printf("%s  %s  [%s %.1f]  %s\n",
				colorize(colorCyan, fmt.Sprintf("%4d", r.SequenceIndex)),
				r.Timestamp.Format("2006-01-02 15:04"),
				r.Source, r.Sophistication, query)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 0, "show only the newest N entries")
	historyCmd.Flags().Bool("stats-only", false, "show aggregate statistics instead of entries")
}

// --- show-sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "show-sessions <domain>",
	Short: "Group a domain's history into activity sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		gap, _ := cmd.Flags().GetInt("gap")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := domainPath(domain, "/sessions")
		if gap > 0 {
			path += "?gap_minutes=" + strconv.Itoa(gap)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Sessions []struct {
				StartTime       time.Time      `json:"start_time"`
				EndTime         time.Time      `json:"end_time"`
				DurationSeconds float64        `json:"duration_seconds"`
				Count           int            `json:"count"`
				Sources         map[string]int `json:"sources"`
				AvgConfidence   float64        `json:"avg_confidence"`
			} `json:"sessions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for i, s := range result.Sessions {
			dur := time.Duration(s.DurationSeconds * float64(time.Second)).Round(time.Second)
			fmt.Printf("\n%s  %s (%s)\n",
				colorize(colorBold, fmt.Sprintf("Session %d", i+1)),
				s.StartTime.Format("2006-01-02 15:04"), dur)
			fmt.Printf("  %d entries, avg confidence %.2f\n", s.Count, s.AvgConfidence)
			for src, n := range s.Sources {
				fmt.Printf("  %s: %d\n", src, n)
			}
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("gap", 0, "session gap in minutes (default from config)")
}

// --- trace-chain ---

var chainCmd = &cobra.Command{
	Use:   "trace-chain <domain> <index>",
	Short: "Trace the reasoning chain around one entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[1])
		}
		before, _ := cmd.Flags().GetInt("before")
		after, _ := cmd.Flags().GetInt("after")
		gap, _ := cmd.Flags().GetInt("gap")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("index", strconv.Itoa(index))
		q.Set("before", strconv.Itoa(before))
		q.Set("after", strconv.Itoa(after))
		if gap > 0 {
			q.Set("gap_minutes", strconv.Itoa(gap))
		}
		resp, err := client.get(cmd.Context(), domainPath(domain, "/chain?"+q.Encode()))
		if err != nil {
			return err
		}

		var result struct {
			Records []struct {
				SequenceIndex int       `json:"sequence_index"`
				Timestamp     time.Time `json:"timestamp"`
				Query         string    `json:"query"`
			} `json:"records"`
			TargetIndex int `json:"target_index"`
			Depth       int `json:"depth"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Printf("Chain of %d entries around %d:\n", result.Depth, result.TargetIndex)
		for _, r := range result.Records {
			marker := "  "
			if r.SequenceIndex == result.TargetIndex {
				marker = colorize(colorGreen, "→ ")
			}
			fmt.Printf("%s%4d  %s  %s\n", marker, r.SequenceIndex,
				r.Timestamp.Format("15:04:05"), r.Query)
		}
		return nil
	},
}

func init() {
	chainCmd.Flags().Int("before", 3, "maximum entries before the target")
	chainCmd.Flags().Int("after", 5, "maximum entries after the target")
	chainCmd.Flags().Int("gap", 0, "chain gap in minutes (default from config)")
}

// --- find-related ---

var relatedCmd = &cobra.Command{
	Use:   "find-related <domain> <index>",
	Short: "Find entries related to one entry",
	Long: `Find entries related to one entry by temporal proximity, shared
patterns, keyword overlap, or (when embedding is enabled) semantic similarity.

Examples:
  tao find-related databases 42
  tao find-related databases 42 --strategy keyword --limit 5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[1])
		}
		strategy, _ := cmd.Flags().GetString("strategy")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("index", strconv.Itoa(index))
		q.Set("strategy", strategy)
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		resp, err := client.get(cmd.Context(), domainPath(domain, "/related?"+q.Encode()))
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				Record struct {
					SequenceIndex int    `json:"sequence_index"`
					Query         string `json:"query"`
				} `json:"record"`
				Strategy string  `json:"strategy"`
				Score    float64 `json:"score"`
				Reason   string  `json:"reason"`
			} `json:"results"`
			Partial bool `json:"partial"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Partial {
			printWarning("Some strategies failed; results are incomplete")
		}
		if len(result.Results) == 0 {
			fmt.Println("No related entries found.")
			return nil
		}
		for _, r := range result.Results {
			query := r.Record.Query
			if len(query) > 70 {
				query = query[:70] + "..."
			}
			fmt.Printf("%s  %.3f  %-8s  %s  (%s)\n",
				colorize(colorCyan, fmt.Sprintf("%4d", r.Record.SequenceIndex)),
				r.Score, r.Strategy, query, r.Reason)
		}
		return nil
	},
}

func init() {
	relatedCmd.Flags().String("strategy", "all", "strategy name, or 'all' to merge every strategy")
	relatedCmd.Flags().Int("limit", 0, "maximum number of results (default from config)")
}

// --- concept-timeline ---

var conceptsCmd = &cobra.Command{
	Use:   "concept-timeline <domain>",
	Short: "Show concept appearances across a domain's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		concept, _ := cmd.Flags().GetString("concept")
		top, _ := cmd.Flags().GetInt("top")
		cooccurrence, _ := cmd.Flags().GetBool("cooccurrence")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if concept != "" {
			q := url.Values{}
			q.Set("concept", concept)
			if cooccurrence {
				q.Set("cooccurrence", "true")
			}
			resp, err := client.get(cmd.Context(), domainPath(domain, "/concepts?"+q.Encode()))
			if err != nil {
				return err
			}

			var result struct {
				Concept     string      `json:"concept"`
				Timeline    []time.Time `json:"timeline"`
				CoOccurring []struct {
					Concept string `json:"concept"`
					Count   int    `json:"count"`
				} `json:"co_occurring"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}

			if len(result.Timeline) == 0 {
				fmt.Printf("Concept %q never appears in %s.\n", concept, domain)
				return nil
			}
			fmt.Printf("%s appears %d times:\n", colorize(colorBold, result.Concept), len(result.Timeline))
			for _, ts := range result.Timeline {
				fmt.Printf("  %s\n", ts.Format("2006-01-02 15:04"))
			}
			if cooccurrence && len(result.CoOccurring) > 0 {
				fmt.Println("\nCo-occurring concepts:")
				for _, c := range result.CoOccurring {
					fmt.Printf("  %-24s %d\n", c.Concept, c.Count)
				}
			}
			return nil
		}

		path := domainPath(domain, "/concepts")
		if top > 0 {
			path += "?top=" + strconv.Itoa(top)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Concepts []struct {
				Concept   string    `json:"concept"`
				Frequency int       `json:"frequency"`
				FirstSeen time.Time `json:"first_seen"`
				LastSeen  time.Time `json:"last_seen"`
			} `json:"concepts"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Concepts) == 0 {
			fmt.Println("No concepts found.")
			return nil
		}
		for _, c := range result.Concepts {
			fmt.Printf("%-24s %4d  %s .. %s\n", c.Concept, c.Frequency,
				c.FirstSeen.Format("2006-01-02"), c.LastSeen.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	conceptsCmd.Flags().String("concept", "", "trace one concept instead of listing top concepts")
	conceptsCmd.Flags().Int("top", 20, "number of top concepts to list")
	conceptsCmd.Flags().Bool("cooccurrence", false, "also list co-occurring concepts (with --concept)")
}

// --- analyze-depth ---

var depthCmd = &cobra.Command{
	Use:   "analyze-depth <domain>",
	Short: "Find sustained explorations of a single concept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		minDepth, _ := cmd.Flags().GetInt("min-depth")
		concept, _ := cmd.Flags().GetString("concept")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if minDepth > 0 {
			q.Set("min_depth", strconv.Itoa(minDepth))
		}
		if concept != "" {
			q.Set("concept", concept)
		}
		path := domainPath(domain, "/depth")
		if enc := q.Encode(); enc != "" {
			path += "?" + enc
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Explorations []struct {
				DominantConcept string  `json:"dominant_concept"`
				Depth           int     `json:"depth"`
				DurationSeconds float64 `json:"duration_seconds"`
				FirstIndex      int     `json:"first_index"`
				LastIndex       int     `json:"last_index"`
			} `json:"explorations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Explorations) == 0 {
			fmt.Println("No deep explorations found.")
			return nil
		}
		for _, e := range result.Explorations {
			dur := time.Duration(e.DurationSeconds * float64(time.Second)).Round(time.Second)
			fmt.Printf("%s  depth %d over %s  (entries %d..%d)\n",
				colorize(colorBold, e.DominantConcept), e.Depth, dur, e.FirstIndex, e.LastIndex)
		}
		return nil
	},
}

func init() {
	depthCmd.Flags().Int("min-depth", 0, "minimum run length (default from config)")
	depthCmd.Flags().String("concept", "", "only report explorations of this concept")
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index <domain>",
	Short: "Compute the composite learning index for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		role, _ := cmd.Flags().GetString("role")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := domainPath(domain, "/index")
		if role != "" {
			path += "?role=" + url.QueryEscape(role)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			LearningVelocity  float64  `json:"learning_velocity"`
			AvgSophistication float64  `json:"avg_sophistication"`
			ChainDepth        float64  `json:"chain_depth"`
			Retention         float64  `json:"retention"`
			Index             float64  `json:"index"`
			Percentile        *float64 `json:"percentile"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Index", "%.3f", result.Index)
		printStatus("Learning velocity", "%.3f levels/day", result.LearningVelocity)
		printStatus("Avg sophistication", "%.2f", result.AvgSophistication)
		printStatus("Chain depth", "%.2f", result.ChainDepth)
		printStatus("Retention", "%.2f", result.Retention)
		if result.Percentile != nil {
			printStatus("Percentile", "p%.1f among %s", *result.Percentile, role)
		} else if role != "" {
			printWarning("No usable benchmark for role %q", role)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().String("role", "", "benchmark role to compute a percentile against")
}

// --- benchmark ---

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Manage benchmark percentile tables",
}

var benchmarkSetCmd = &cobra.Command{
	Use:   "set <metric> <role>",
	Short: "Set the percentile points for a metric and role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		metric, role := args[0], args[1]
		p50, _ := cmd.Flags().GetFloat64("p50")
		p75, _ := cmd.Flags().GetFloat64("p75")
		p90, _ := cmd.Flags().GetFloat64("p90")
		samples, _ := cmd.Flags().GetInt("samples")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"p50": p50, "p75": p75, "p90": p90, "sample_size": samples,
		}
		resp, err := client.put(cmd.Context(),
			"/benchmarks/"+url.PathEscape(metric)+"/"+url.PathEscape(role), body)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s/%s benchmark (p50=%.2f p75=%.2f p90=%.2f, n=%d)", metric, role, p50, p75, p90, samples)
		return nil
	},
}

var benchmarkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored benchmarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/benchmarks")
		if err != nil {
			return err
		}

		var result struct {
			Benchmarks []struct {
				Metric     string  `json:"metric"`
				Role       string  `json:"role"`
				P50        float64 `json:"p50"`
				P75        float64 `json:"p75"`
				P90        float64 `json:"p90"`
				SampleSize int     `json:"sample_size"`
			} `json:"benchmarks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Benchmarks) == 0 {
			fmt.Println("No benchmarks stored.")
			return nil
		}
		for _, b := range result.Benchmarks {
			fmt.Printf("%-12s %-20s p50=%.2f p75=%.2f p90=%.2f n=%d\n",
				b.Metric, b.Role, b.P50, b.P75, b.P90, b.SampleSize)
		}
		return nil
	},
}

func init() {
	benchmarkSetCmd.Flags().Float64("p50", 0, "50th percentile value")
	benchmarkSetCmd.Flags().Float64("p75", 0, "75th percentile value")
	benchmarkSetCmd.Flags().Float64("p90", 0, "90th percentile value")
	benchmarkSetCmd.Flags().Int("samples", 0, "benchmark sample population size")
	benchmarkSetCmd.MarkFlagRequired("p50")
	benchmarkSetCmd.MarkFlagRequired("p75")
	benchmarkSetCmd.MarkFlagRequired("p90")
	benchmarkSetCmd.MarkFlagRequired("samples")
	benchmarkCmd.AddCommand(benchmarkSetCmd)
	benchmarkCmd.AddCommand(benchmarkListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
