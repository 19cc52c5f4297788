// Package config loads the service configuration via viper. Every value
// has a sensible default, so the service starts with no config file at
// all; EDRISK_* environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the risk advisor.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Risk      RiskConfig      `mapstructure:"risk"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug       bool          `mapstructure:"debug"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

// ServerConfig contains HTTP server settings. JWTSecret, when set, turns
// on bearer-token verification for the /api group.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ArtifactsConfig points at the offline-built model and index files.
type ArtifactsConfig struct {
	Dir      string `mapstructure:"dir"`
	Model    string `mapstructure:"model"`
	KBChunks string `mapstructure:"kb_chunks"`
	KBDense  string `mapstructure:"kb_dense"`
	Stats    string `mapstructure:"stats"`
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	Backend       string        `mapstructure:"backend"` // inmemory or redis
	TTL           time.Duration `mapstructure:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"` // cron expression
}

func (s SessionConfig) Validate() error {
	if s.Backend != "inmemory" && s.Backend != "redis" {
		return fmt.Errorf("session.backend must be inmemory or redis, got %q", s.Backend)
	}
	if s.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	return nil
}

// StorageConfig contains the optional external stores.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings for the redis session
// backend.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr joins host and port.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// PostgresConfig enables the turn audit log when a URL is set.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// ProviderConfig configures the embedding provider for dense retrieval.
type ProviderConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig tunes knowledge-base queries.
type RetrievalConfig struct {
	TopK              int     `mapstructure:"top_k"`
	MinScoreAsk       float64 `mapstructure:"min_score_ask"`
	MinScoreRecommend float64 `mapstructure:"min_score_recommend"`
}

// RiskConfig is the named, externally configurable scoring policy.
type RiskConfig struct {
	Cutpoints      CutpointsConfig    `mapstructure:"cutpoints"`
	Adjustments    map[string]float64 `mapstructure:"adjustments"`
	TriageDefaults map[string]int     `mapstructure:"triage_defaults"`
}

// CutpointsConfig holds the risk-level bucket boundaries.
type CutpointsConfig struct {
	Low      float64 `mapstructure:"low"`
	Moderate float64 `mapstructure:"moderate"`
	High     float64 `mapstructure:"high"`
}

func (c CutpointsConfig) Validate() error {
	if !(c.Low > 0 && c.Low < c.Moderate && c.Moderate < c.High && c.High < 1) {
		return fmt.Errorf("risk.cutpoints must be strictly ascending within (0,1)")
	}
	return nil
}

// LoadConfig loads configuration from path (or the default search
// locations when empty) and applies defaults and validation.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.debug", false)
	v.SetDefault("general.turn_timeout", 15*time.Second)
	v.SetDefault("server.address", ":10040")
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("artifacts.model", "revisit_model.json")
	v.SetDefault("artifacts.kb_chunks", "kb_chunks.json")
	v.SetDefault("artifacts.kb_dense", "kb_dense.json")
	v.SetDefault("artifacts.stats", "stats.json")
	v.SetDefault("session.backend", "inmemory")
	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("session.sweep_schedule", "*/5 * * * *")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("provider.embedding_model", "text-embedding-3-small")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.min_score_ask", 0.05)
	v.SetDefault("retrieval.min_score_recommend", 0.03)
	v.SetDefault("risk.cutpoints.low", 0.10)
	v.SetDefault("risk.cutpoints.moderate", 0.30)
	v.SetDefault("risk.cutpoints.high", 0.60)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("EDRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file found: defaults plus environment.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if cfg.Session.Backend == "redis" {
		if err := cfg.Storage.Redis.Validate(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Risk.Cutpoints.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
