package config

import (
	"fmt"
	"math"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Analysis AnalysisConfig
	Index    IndexConfig
	Embed    EmbedConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

// AnalysisConfig carries the thresholds shared by the derived analyses.
type AnalysisConfig struct {
	SessionGapMinutes     int
	ChainGapMinutes       int
	TemporalWindowMinutes int
	RelatedLimit          int
	MinDepth              int
}

func (a AnalysisConfig) SessionGap() time.Duration {
	return time.Duration(a.SessionGapMinutes) * time.Minute
}

func (a AnalysisConfig) ChainGap() time.Duration {
	return time.Duration(a.ChainGapMinutes) * time.Minute
}

func (a AnalysisConfig) TemporalWindow() time.Duration {
	return time.Duration(a.TemporalWindowMinutes) * time.Minute
}

// IndexConfig parameterizes the composite learning index.
type IndexConfig struct {
	VelocityWeight       float64
	SophisticationWeight float64
	ChainDepthWeight     float64
	RetentionWeight      float64
	MasteryQueries       int
	RecallQueries        int
	RecallGapHours       int
}

// EmbedConfig wires the optional embedding engine behind the semantic
// related-item strategy. When disabled the strategy is simply not registered.
type EmbedConfig struct {
	Enabled bool
	BaseURL string
	Model   string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Analysis: AnalysisConfig{
			SessionGapMinutes:     30,
			ChainGapMinutes:       10,
			TemporalWindowMinutes: 60,
			RelatedLimit:          10,
			MinDepth:              3,
		},
		Index: IndexConfig{
			VelocityWeight:       0.3,
			SophisticationWeight: 0.3,
			ChainDepthWeight:     0.2,
			RetentionWeight:      0.2,
			MasteryQueries:       3,
			RecallQueries:        2,
			RecallGapHours:       24,
		},
		Embed: EmbedConfig{
			Enabled: false,
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.tao.app); on Linux it is
// a JSON file at $XDG_CONFIG_HOME/tao/config.json. Environment variables
// (TAO_*) override backend values on all platforms. Invalid thresholds or
// weights fail Load outright rather than being silently defaulted.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d", c.Server.Port)
	}
	a := c.Analysis
	if a.SessionGapMinutes <= 0 || a.ChainGapMinutes <= 0 || a.TemporalWindowMinutes <= 0 {
		return fmt.Errorf("invalid config: analysis gaps and window must be positive")
	}
	if a.RelatedLimit <= 0 || a.MinDepth <= 0 {
		return fmt.Errorf("invalid config: analysis.related_limit and analysis.min_depth must be positive")
	}
	i := c.Index
	if i.VelocityWeight <= 0 || i.SophisticationWeight <= 0 || i.ChainDepthWeight <= 0 || i.RetentionWeight <= 0 {
		return fmt.Errorf("invalid config: index weights must be positive")
	}
	sum := i.VelocityWeight + i.SophisticationWeight + i.ChainDepthWeight + i.RetentionWeight
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("invalid config: index weights sum to %v, want 1", sum)
	}
	if i.MasteryQueries <= 0 || i.RecallQueries <= 0 || i.RecallQueries > i.MasteryQueries {
		return fmt.Errorf("invalid config: need 0 < index.recall_queries <= index.mastery_queries")
	}
	if i.RecallGapHours <= 0 {
		return fmt.Errorf("invalid config: index.recall_gap_hours must be positive")
	}
	return nil
}
