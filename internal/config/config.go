// Package config defines all configuration for the surveillance engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via SURV_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Detection DetectionConfig `mapstructure:"detection"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ExchangeConfig points at the exchange's markets API, trade-stream WS, and
// the per-market leader status endpoint.
type ExchangeConfig struct {
	GammaBaseURL     string `mapstructure:"gamma_base_url"`
	WSMarketURL      string `mapstructure:"ws_market_url"`
	LeaderStatusURL  string `mapstructure:"leader_status_url"`
	SubscribeBatch   int    `mapstructure:"subscribe_batch"`
	// StrictSide, when true, drops trade events missing an explicit side
	// instead of defaulting them to BUY.
	StrictSide bool `mapstructure:"strict_side"`
}

// FilterConfig tunes the Market Filter's exclusion/inclusion rules.
type FilterConfig struct {
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
	IncludeKeywords []string `mapstructure:"include_keywords"`
	HotKeywords     []string `mapstructure:"hot_keywords"`
	SoonDays        int      `mapstructure:"soon_days"`
}

// DetectionConfig holds every threshold the Anomaly Engine's four detectors
// and their supporting Baseline/Percentile stores read.
type DetectionConfig struct {
	LargeTradeMin      float64 `mapstructure:"large_trade_min"`
	LargeTradeHigh     float64 `mapstructure:"large_trade_high"`
	LargeTradeCritical float64 `mapstructure:"large_trade_critical"`

	VolumeSpikeWindow   time.Duration `mapstructure:"volume_spike_window"`
	VolumeSpikeLow      float64       `mapstructure:"volume_spike_low"`
	VolumeSpikeHigh     float64       `mapstructure:"volume_spike_high"`
	VolumeSpikeCritical float64       `mapstructure:"volume_spike_critical"`

	PriceWindow         time.Duration `mapstructure:"price_window"`
	PriceChangeLow      float64       `mapstructure:"price_change_low"`
	PriceChangeHigh     float64       `mapstructure:"price_change_high"`
	PriceChangeCritical float64       `mapstructure:"price_change_critical"`

	ZScoreLow      float64 `mapstructure:"z_score_low"`
	ZScoreHigh     float64 `mapstructure:"z_score_high"`
	ZScoreCritical float64 `mapstructure:"z_score_critical"`

	BaselineWindow    time.Duration `mapstructure:"baseline_window"`
	MinSamplesBaseline int          `mapstructure:"min_samples_baseline"`

	LowPriceThreshold float64 `mapstructure:"low_price_threshold"`
	P90               float64 `mapstructure:"p90"`
	P95               float64 `mapstructure:"p95"`
	P99               float64 `mapstructure:"p99"`
	MaxSamples        int     `mapstructure:"max_samples"`
	MinSamplesPctl    int     `mapstructure:"min_samples_percentile"`

	MinSeverity string `mapstructure:"min_severity"`
}

// AlertConfig tunes the Alert Manager and Alert Store.
type AlertConfig struct {
	Cooldown       time.Duration `mapstructure:"cooldown"`
	MaxPerHour     int           `mapstructure:"max_per_hour"`
	MaxStored      int           `mapstructure:"max_stored"`
	SnapshotPath   string        `mapstructure:"snapshot_path"`
	PublishEvery   time.Duration `mapstructure:"publish_every"`
}

// DiscoveryConfig tunes the periodic leader-follower discovery pipeline.
type DiscoveryConfig struct {
	RescanInterval    time.Duration `mapstructure:"rescan_interval"`
	MinTimeGapDays    float64       `mapstructure:"min_time_gap_days"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
	MaxPairsPerCluster int          `mapstructure:"max_pairs_per_cluster"`
	MinMarketVolume   float64       `mapstructure:"min_market_volume"`
	MinDaysToResolve  int           `mapstructure:"min_days_to_resolve"`
	ClusterKMin       int           `mapstructure:"cluster_k_min"`
	ClusterDivisor    int           `mapstructure:"cluster_divisor"`
	KMeansIterations  int           `mapstructure:"kmeans_iterations"`
	KMeansSeed        int64         `mapstructure:"kmeans_seed"`
	EmbeddingURL      string        `mapstructure:"embedding_url"`
	EmbeddingAPIKey   string        `mapstructure:"embedding_api_key"`
	LLMURL            string        `mapstructure:"llm_url"`
	LLMAPIKey         string        `mapstructure:"llm_api_key"`
}

// MonitorConfig tunes the Leader Monitor's polling cadence and thresholds.
type MonitorConfig struct {
	ResolutionCheckInterval time.Duration `mapstructure:"resolution_check_interval"`
	NearCertaintyThreshold  float64       `mapstructure:"near_certainty_threshold"`
	PerMarketDelay          time.Duration `mapstructure:"per_market_delay"`
}

// CacheConfig controls the Opportunity & Cache State's retention policy.
type CacheConfig struct {
	MarketRetentionDays int `mapstructure:"market_retention_days"`
}

// StoreConfig sets where the Opportunity State and Alert Store snapshots live.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// NotifierConfig selects and configures the outbound notifier sink.
type NotifierConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HealthConfig controls the read-only HTTP readout + metrics server.
type HealthConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: SURV_NOTIFIER_WEBHOOK_URL,
// SURV_DISCOVERY_EMBEDDING_API_KEY, SURV_DISCOVERY_LLM_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SURV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if url := os.Getenv("SURV_NOTIFIER_WEBHOOK_URL"); url != "" {
		cfg.Notifier.WebhookURL = url
	}
	if key := os.Getenv("SURV_DISCOVERY_EMBEDDING_API_KEY"); key != "" {
		cfg.Discovery.EmbeddingAPIKey = key
	}
	if key := os.Getenv("SURV_DISCOVERY_LLM_API_KEY"); key != "" {
		cfg.Discovery.LLMAPIKey = key
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.GammaBaseURL == "" {
		return fmt.Errorf("exchange.gamma_base_url is required")
	}
	if c.Exchange.WSMarketURL == "" {
		return fmt.Errorf("exchange.ws_market_url is required")
	}
	if c.Exchange.SubscribeBatch <= 0 {
		return fmt.Errorf("exchange.subscribe_batch must be > 0")
	}
	if c.Detection.LargeTradeMin <= 0 {
		return fmt.Errorf("detection.large_trade_min must be > 0")
	}
	if c.Detection.LowPriceThreshold <= 0 || c.Detection.LowPriceThreshold >= 1 {
		return fmt.Errorf("detection.low_price_threshold must be in (0, 1)")
	}
	if c.Detection.MaxSamples <= 0 {
		return fmt.Errorf("detection.max_samples must be > 0")
	}
	switch strings.ToUpper(c.Detection.MinSeverity) {
	case "LOW", "MEDIUM", "HIGH", "CRITICAL":
	default:
		return fmt.Errorf("detection.min_severity must be one of LOW, MEDIUM, HIGH, CRITICAL")
	}
	if c.Alert.MaxPerHour <= 0 {
		return fmt.Errorf("alert.max_per_hour must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Discovery.MinConfidence < 0 || c.Discovery.MinConfidence > 1 {
		return fmt.Errorf("discovery.min_confidence must be in [0, 1]")
	}
	if c.Monitor.NearCertaintyThreshold <= 0 || c.Monitor.NearCertaintyThreshold > 1 {
		return fmt.Errorf("monitor.near_certainty_threshold must be in (0, 1]")
	}
	return nil
}
