package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutMS     int `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// ScoringConfig defines recommendation weighting.
type ScoringConfig struct {
	WeeklyPNLWeight   float64 `yaml:"weekly_pnl_weight"`
	WeeklyROIWeight   float64 `yaml:"weekly_roi_weight"`
	MonthlyPNLWeight  float64 `yaml:"monthly_pnl_weight"`
	ConsistencyWeight float64 `yaml:"consistency_weight"`
	CapitalWeight     float64 `yaml:"capital_weight"`
	VolumeWeight      float64 `yaml:"volume_weight"`
	PNLScale          float64 `yaml:"pnl_scale"` // normalization denominator for pnl terms
	ROISweetSpotLow   float64 `yaml:"roi_sweet_spot_low"`
	ROISweetSpotHigh  float64 `yaml:"roi_sweet_spot_high"`
	MaxResults        int     `yaml:"max_results"`
}

// CacheConfig defines TTLs for cached reads.
type CacheConfig struct {
	LeaderboardTTLSecs int `yaml:"leaderboard_ttl_seconds"`
	StatsTTLSecs       int `yaml:"stats_ttl_seconds"`
	DetailsTTLSecs     int `yaml:"details_ttl_seconds"`
}

// FeedConfig controls the exchange data-source connection.
type FeedConfig struct {
	InfoURL             string `yaml:"info_url"`
	StatsURL            string `yaml:"stats_url"`
	WebsocketURL        string `yaml:"websocket_url"`
	PollIntervalSecs    int    `yaml:"poll_interval_seconds"`
	RefreshIntervalMins int    `yaml:"refresh_interval_minutes"`
	MaxConcurrentPolls  int    `yaml:"max_concurrent_polls"`
	RequestTimeoutMS    int    `yaml:"request_timeout_ms"`
	RequestsPerSecond   int    `yaml:"requests_per_second"`
	UsePush             bool   `yaml:"use_push"` // websocket fills instead of polling
}

// CopyTradeConfig controls the replication engine.
type CopyTradeConfig struct {
	MaxWorkers        int    `yaml:"max_workers"`
	RetryAttempts     int    `yaml:"retry_attempts"`
	RetryBackoffMS    int    `yaml:"retry_backoff_ms"`
	FailurePauseCount int    `yaml:"failure_pause_count"` // consecutive failures before auto-pause
	DefaultFollowerID string `yaml:"default_follower_id"`
	ExchangeURL       string `yaml:"exchange_url"`
	SubmitTimeoutMS   int    `yaml:"submit_timeout_ms"`
	AggregatorShards  int    `yaml:"aggregator_shards"`
}

// DataConfig contains persistence-related settings.
type DataConfig struct {
	DBPath      string `yaml:"db_path"`
	UsePostgres bool   `yaml:"use_postgres"`
}

// Config aggregates all app configuration knobs.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Cache     CacheConfig     `yaml:"cache"`
	Feed      FeedConfig      `yaml:"feed"`
	CopyTrade CopyTradeConfig `yaml:"copy_trade"`
	Data      DataConfig      `yaml:"data"`
}

// Load reads configuration from disk, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeoutMS:     10000,
			WriteTimeoutMS:    10000,
			ShutdownTimeoutMS: 5000,
		},
		Scoring: ScoringConfig{
			WeeklyPNLWeight:   0.15,
			WeeklyROIWeight:   0.20,
			MonthlyPNLWeight:  0.15,
			ConsistencyWeight: 0.25,
			CapitalWeight:     0.15,
			VolumeWeight:      0.10,
			PNLScale:          100000,
			ROISweetSpotLow:   0.05,
			ROISweetSpotHigh:  0.50,
			MaxResults:        20,
		},
		Cache: CacheConfig{
			LeaderboardTTLSecs: 30,
			StatsTTLSecs:       30,
			DetailsTTLSecs:     15,
		},
		Feed: FeedConfig{
			InfoURL:             "https://api.hyperliquid.xyz/info",
			StatsURL:            "https://stats-data.hyperliquid.xyz/Mainnet/leaderboard",
			WebsocketURL:        "wss://api.hyperliquid.xyz/ws",
			PollIntervalSecs:    5,
			RefreshIntervalMins: 10,
			MaxConcurrentPolls:  3,
			RequestTimeoutMS:    10000,
			RequestsPerSecond:   10,
		},
		CopyTrade: CopyTradeConfig{
			MaxWorkers:        8,
			RetryAttempts:     3,
			RetryBackoffMS:    250,
			FailurePauseCount: 3,
			DefaultFollowerID: "default",
			ExchangeURL:       "https://api.hyperliquid.xyz/exchange",
			SubmitTimeoutMS:   10000,
			AggregatorShards:  16,
		},
		Data: DataConfig{
			DBPath: "data/hyperliquid.db",
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = def.Server.ReadTimeoutMS
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = def.Server.WriteTimeoutMS
	}
	if c.Server.ShutdownTimeoutMS == 0 {
		c.Server.ShutdownTimeoutMS = def.Server.ShutdownTimeoutMS
	}

	if c.Scoring.WeeklyPNLWeight == 0 {
		c.Scoring.WeeklyPNLWeight = def.Scoring.WeeklyPNLWeight
	}
	if c.Scoring.WeeklyROIWeight == 0 {
		c.Scoring.WeeklyROIWeight = def.Scoring.WeeklyROIWeight
	}
	if c.Scoring.MonthlyPNLWeight == 0 {
		c.Scoring.MonthlyPNLWeight = def.Scoring.MonthlyPNLWeight
	}
	if c.Scoring.ConsistencyWeight == 0 {
		c.Scoring.ConsistencyWeight = def.Scoring.ConsistencyWeight
	}
	if c.Scoring.CapitalWeight == 0 {
		c.Scoring.CapitalWeight = def.Scoring.CapitalWeight
	}
	if c.Scoring.VolumeWeight == 0 {
		c.Scoring.VolumeWeight = def.Scoring.VolumeWeight
	}
	if c.Scoring.PNLScale == 0 {
		c.Scoring.PNLScale = def.Scoring.PNLScale
	}
	if c.Scoring.ROISweetSpotLow == 0 {
		c.Scoring.ROISweetSpotLow = def.Scoring.ROISweetSpotLow
	}
	if c.Scoring.ROISweetSpotHigh == 0 {
		c.Scoring.ROISweetSpotHigh = def.Scoring.ROISweetSpotHigh
	}
	if c.Scoring.MaxResults == 0 {
		c.Scoring.MaxResults = def.Scoring.MaxResults
	}

	if c.Cache.LeaderboardTTLSecs == 0 {
		c.Cache.LeaderboardTTLSecs = def.Cache.LeaderboardTTLSecs
	}
	if c.Cache.StatsTTLSecs == 0 {
		c.Cache.StatsTTLSecs = def.Cache.StatsTTLSecs
	}
	if c.Cache.DetailsTTLSecs == 0 {
		c.Cache.DetailsTTLSecs = def.Cache.DetailsTTLSecs
	}

	if c.Feed.InfoURL == "" {
		c.Feed.InfoURL = def.Feed.InfoURL
	}
	if c.Feed.StatsURL == "" {
		c.Feed.StatsURL = def.Feed.StatsURL
	}
	if c.Feed.WebsocketURL == "" {
		c.Feed.WebsocketURL = def.Feed.WebsocketURL
	}
	if c.Feed.PollIntervalSecs == 0 {
		c.Feed.PollIntervalSecs = def.Feed.PollIntervalSecs
	}
	if c.Feed.RefreshIntervalMins == 0 {
		c.Feed.RefreshIntervalMins = def.Feed.RefreshIntervalMins
	}
	if c.Feed.MaxConcurrentPolls == 0 {
		c.Feed.MaxConcurrentPolls = def.Feed.MaxConcurrentPolls
	}
	if c.Feed.RequestTimeoutMS == 0 {
		c.Feed.RequestTimeoutMS = def.Feed.RequestTimeoutMS
	}
	if c.Feed.RequestsPerSecond == 0 {
		c.Feed.RequestsPerSecond = def.Feed.RequestsPerSecond
	}

	if c.CopyTrade.MaxWorkers == 0 {
		c.CopyTrade.MaxWorkers = def.CopyTrade.MaxWorkers
	}
	if c.CopyTrade.RetryAttempts == 0 {
		c.CopyTrade.RetryAttempts = def.CopyTrade.RetryAttempts
	}
	if c.CopyTrade.RetryBackoffMS == 0 {
		c.CopyTrade.RetryBackoffMS = def.CopyTrade.RetryBackoffMS
	}
	if c.CopyTrade.FailurePauseCount == 0 {
		c.CopyTrade.FailurePauseCount = def.CopyTrade.FailurePauseCount
	}
	if c.CopyTrade.DefaultFollowerID == "" {
		c.CopyTrade.DefaultFollowerID = def.CopyTrade.DefaultFollowerID
	}
	if c.CopyTrade.ExchangeURL == "" {
		c.CopyTrade.ExchangeURL = def.CopyTrade.ExchangeURL
	}
	if c.CopyTrade.SubmitTimeoutMS == 0 {
		c.CopyTrade.SubmitTimeoutMS = def.CopyTrade.SubmitTimeoutMS
	}
	if c.CopyTrade.AggregatorShards == 0 {
		c.CopyTrade.AggregatorShards = def.CopyTrade.AggregatorShards
	}

	if c.Data.DBPath == "" {
		c.Data.DBPath = def.Data.DBPath
	}
}
