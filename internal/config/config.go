// Package config provides configuration loading for nwshop.
// Supports YAML files, .env files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the resolver services.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Resolution    ResolutionConfig    `yaml:"resolution"`
	Checkout      CheckoutConfig      `yaml:"checkout"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	APIKey           string        `yaml:"api_key"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver string       `yaml:"driver"` // sqlite only
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	JournalMode  string        `yaml:"journal_mode"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// CacheConfig holds cache settings. The cache backs checkout sessions.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	URL      string `yaml:"url"` // takes precedence over the fields below
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // openai or mock
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// ResolutionConfig holds the tunables of the resolution pipeline.
type ResolutionConfig struct {
	AutoResolveThreshold float64       `yaml:"auto_resolve_threshold"`
	LexicalLimit         int           `yaml:"lexical_limit"`
	SemanticLimit        int           `yaml:"semantic_limit"`
	CandidateLimit       int           `yaml:"candidate_limit"`
	SemanticTimeout      time.Duration `yaml:"semantic_timeout"`
	BatchWorkers         int           `yaml:"batch_workers"`
	Weights              WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the candidate scoring weights.
type WeightsConfig struct {
	ExactGenericName   float64 `yaml:"exact_generic_name"`
	PartialGenericName float64 `yaml:"partial_generic_name"`
	MatchBoth          float64 `yaml:"match_both"`
	MatchLexical       float64 `yaml:"match_lexical"`
	MatchSemantic      float64 `yaml:"match_semantic"`
	OutOfStockPenalty  float64 `yaml:"out_of_stock_penalty"`
	OnSpecialBonus     float64 `yaml:"on_special_bonus"`
	DistanceBonusMax   float64 `yaml:"distance_bonus_max"`
	DistanceBonusSlope float64 `yaml:"distance_bonus_slope"`
	HistoryBoostBase   float64 `yaml:"history_boost_base"`
	HistoryBoostPerBuy float64 `yaml:"history_boost_per_buy"`
	HistoryBoostMax    float64 `yaml:"history_boost_max"`
	HistoryMatchBase   float64 `yaml:"history_match_base"`
	HistoryMatchPerBuy float64 `yaml:"history_match_per_buy"`
	HistoryMatchMax    float64 `yaml:"history_match_max"`
}

// CheckoutConfig holds checkout session settings.
type CheckoutConfig struct {
	SessionTTL            time.Duration `yaml:"session_ttl"`
	AutoConfirmConfidence float64       `yaml:"auto_confirm_confidence"`
	AlternativeLimit      int           `yaml:"alternative_limit"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	ServiceName    string `yaml:"service_name"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Load reads configuration from a YAML file, loads .env files and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	loadDotEnv(path)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env from the working directory and next to the config
// file. Existing environment variables win.
func loadDotEnv(configPath string) {
	_ = godotenv.Load()
	if configPath != "" {
		_ = godotenv.Load(ResolveRelativePath(configPath, ".env"))
	}
}

// DefaultConfig returns a configuration with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "data/nwshop.db",
				MaxOpenConns: 4,
				JournalMode:  "WAL",
				BusyTimeout:  5 * time.Second,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        30 * time.Minute,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "nwshop:",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			BaseURL:           "https://api.openai.com/v1",
			Model:             "text-embedding-3-small",
			Dimension:         1536,
			BatchSize:         100,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
		},
		Resolution: ResolutionConfig{
			AutoResolveThreshold: 0.5,
			LexicalLimit:         10,
			SemanticLimit:        10,
			CandidateLimit:       5,
			SemanticTimeout:      5 * time.Second,
			BatchWorkers:         5,
			Weights:              DefaultWeights(),
		},
		Checkout: CheckoutConfig{
			SessionTTL:            30 * time.Minute,
			AutoConfirmConfidence: 0.7,
			AlternativeLimit:      10,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			ServiceName:    "nwshop",
			MetricsEnabled: true,
		},
	}
}

// DefaultWeights returns the stock scoring weights.
func DefaultWeights() WeightsConfig {
	return WeightsConfig{
		ExactGenericName:   0.4,
		PartialGenericName: 0.2,
		MatchBoth:          0.3,
		MatchLexical:       0.15,
		MatchSemantic:      0.1,
		OutOfStockPenalty:  0.2,
		OnSpecialBonus:     0.05,
		DistanceBonusMax:   0.2,
		DistanceBonusSlope: 0.1,
		HistoryBoostBase:   0.1,
		HistoryBoostPerBuy: 0.04,
		HistoryBoostMax:    0.3,
		HistoryMatchBase:   0.6,
		HistoryMatchPerBuy: 0.04,
		HistoryMatchMax:    0.9,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.SQLite.Path == "" {
		return errors.New("database.sqlite.path is required")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Embedding.Provider != "openai" && c.Embedding.Provider != "mock" {
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}

	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	r := c.Resolution
	if r.AutoResolveThreshold < 0 || r.AutoResolveThreshold > 1 {
		return fmt.Errorf("auto_resolve_threshold must be between 0 and 1")
	}
	if r.LexicalLimit < 1 || r.SemanticLimit < 1 || r.CandidateLimit < 1 {
		return fmt.Errorf("resolution limits must be positive")
	}
	if r.BatchWorkers < 1 {
		return fmt.Errorf("batch_workers must be positive")
	}

	if c.Checkout.AutoConfirmConfidence < 0 || c.Checkout.AutoConfirmConfidence > 1 {
		return fmt.Errorf("auto_confirm_confidence must be between 0 and 1")
	}
	if c.Checkout.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}

	return nil
}

// DatabaseDSN returns the SQLite connection string with pragmas applied.
func (c *Config) DatabaseDSN() string {
	s := c.Database.SQLite
	params := []string{"_foreign_keys=on"}
	if s.JournalMode != "" {
		params = append(params, "_journal_mode="+s.JournalMode)
	}
	if s.BusyTimeout > 0 {
		params = append(params, "_busy_timeout="+strconv.FormatInt(s.BusyTimeout.Milliseconds(), 10))
	}
	return "file:" + s.Path + "?" + strings.Join(params, "&")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("NWSHOP_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.URL = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
