package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TAO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TAO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "analysis.session_gap_minutes", typ: kInt, env: "TAO_ANALYSIS_SESSION_GAP_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Analysis.SessionGapMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.SessionGapMinutes },
	},
	{
		key: "analysis.chain_gap_minutes", typ: kInt, env: "TAO_ANALYSIS_CHAIN_GAP_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Analysis.ChainGapMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.ChainGapMinutes },
	},
	{
		key: "analysis.temporal_window_minutes", typ: kInt, env: "TAO_ANALYSIS_TEMPORAL_WINDOW_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Analysis.TemporalWindowMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.TemporalWindowMinutes },
	},
	{
		key: "analysis.related_limit", typ: kInt, env: "TAO_ANALYSIS_RELATED_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Analysis.RelatedLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.RelatedLimit },
	},
	{
		key: "analysis.min_depth", typ: kInt, env: "TAO_ANALYSIS_MIN_DEPTH",
		apply:   func(cfg *Config, v any) { cfg.Analysis.MinDepth = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.MinDepth },
	},
	{
		key: "index.velocity_weight", typ: kFloat, env: "TAO_INDEX_VELOCITY_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Index.VelocityWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Index.VelocityWeight },
	},
	{
		key: "index.sophistication_weight", typ: kFloat, env: "TAO_INDEX_SOPHISTICATION_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Index.SophisticationWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Index.SophisticationWeight },
	},
	{
		key: "index.chain_depth_weight", typ: kFloat, env: "TAO_INDEX_CHAIN_DEPTH_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Index.ChainDepthWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Index.ChainDepthWeight },
	},
	{
		key: "index.retention_weight", typ: kFloat, env: "TAO_INDEX_RETENTION_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Index.RetentionWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Index.RetentionWeight },
	},
	{
		key: "index.mastery_queries", typ: kInt, env: "TAO_INDEX_MASTERY_QUERIES",
		apply:   func(cfg *Config, v any) { cfg.Index.MasteryQueries = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.MasteryQueries },
	},
	{
		key: "index.recall_queries", typ: kInt, env: "TAO_INDEX_RECALL_QUERIES",
		apply:   func(cfg *Config, v any) { cfg.Index.RecallQueries = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.RecallQueries },
	},
	{
		key: "index.recall_gap_hours", typ: kInt, env: "TAO_INDEX_RECALL_GAP_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Index.RecallGapHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.RecallGapHours },
	},
	{
		key: "embed.enabled", typ: kBool, env: "TAO_EMBED_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Embed.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Embed.Enabled },
	},
	{
		key: "embed.base_url", typ: kString, env: "TAO_EMBED_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embed.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.BaseURL },
	},
	{
		key: "embed.model", typ: kString, env: "TAO_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embed.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Model },
	},
	{
		key: "log.level", typ: kString, env: "TAO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
