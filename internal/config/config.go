package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Trust      TrustConfig      `yaml:"trust" mapstructure:"trust"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	FastModel string `yaml:"fast_model" mapstructure:"fast_model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ClassifierConfig points at the sentiment and spam model services.
type ClassifierConfig struct {
	SentimentURL     string `yaml:"sentiment_url" mapstructure:"sentiment_url"`
	SpamURL          string `yaml:"spam_url" mapstructure:"spam_url"`
	SentimentVersion string `yaml:"sentiment_version" mapstructure:"sentiment_version"`
	SpamVersion      string `yaml:"spam_version" mapstructure:"spam_version"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CrawlConfig configures marketplace collection.
type CrawlConfig struct {
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxListings   int     `yaml:"max_listings" mapstructure:"max_listings"`
	TikiAPIURL    string  `yaml:"tiki_api_url" mapstructure:"tiki_api_url"`
}

// DiscoveryConfig configures request limits and candidate synthesis.
type DiscoveryConfig struct {
	MaxQueryLength      int  `yaml:"max_query_length" mapstructure:"max_query_length"`
	DefaultMaxProducts  int  `yaml:"default_max_products" mapstructure:"default_max_products"`
	MaxMaxProducts      int  `yaml:"max_max_products" mapstructure:"max_max_products"`
	CandidateMultiplier int  `yaml:"candidate_multiplier" mapstructure:"candidate_multiplier"`
	StrictPlatforms     bool `yaml:"strict_platforms" mapstructure:"strict_platforms"`
}

// TrustConfig configures the trust score formula and recompute workers.
type TrustConfig struct {
	FormulaVersion     string  `yaml:"formula_version" mapstructure:"formula_version"`
	SentimentWeight    float64 `yaml:"sentiment_weight" mapstructure:"sentiment_weight"`
	SpamWeight         float64 `yaml:"spam_weight" mapstructure:"spam_weight"`
	VolumeWeight       float64 `yaml:"volume_weight" mapstructure:"volume_weight"`
	VerificationWeight float64 `yaml:"verification_weight" mapstructure:"verification_weight"`
	VolumeSaturation   int     `yaml:"volume_saturation" mapstructure:"volume_saturation"`
	AsyncWorkers       int     `yaml:"async_workers" mapstructure:"async_workers"`
	AsyncQueueSize     int     `yaml:"async_queue_size" mapstructure:"async_queue_size"`
	LockTTLSecs        int     `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// AnalysisConfig configures review classification batches.
type AnalysisConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
}

// RetryConfig configures retries on transient collaborator failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// RedisConfig enables the distributed trust-score lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// TemporalConfig enables workflow-backed async recompute when Address is set.
type TemporalConfig struct {
	Address   string `yaml:"address" mapstructure:"address"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("classifier.sentiment_version", "1.0")
	v.SetDefault("classifier.spam_version", "1.0")
	v.SetDefault("classifier.timeout_secs", 15)
	v.SetDefault("crawl.user_agent", "product-scout/1.0")
	v.SetDefault("crawl.timeout_secs", 30)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.rate_per_second", 2.0)
	v.SetDefault("crawl.burst", 2)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.max_listings", 40)
	v.SetDefault("crawl.tiki_api_url", "https://tiki.vn/api/v2")
	v.SetDefault("discovery.max_query_length", 2000)
	v.SetDefault("discovery.default_max_products", 20)
	v.SetDefault("discovery.max_max_products", 100)
	v.SetDefault("discovery.candidate_multiplier", 2)
	v.SetDefault("discovery.strict_platforms", false)
	v.SetDefault("trust.formula_version", "1.0")
	v.SetDefault("trust.sentiment_weight", 0.4)
	v.SetDefault("trust.spam_weight", 0.3)
	v.SetDefault("trust.volume_weight", 0.2)
	v.SetDefault("trust.verification_weight", 0.1)
	v.SetDefault("trust.volume_saturation", 1000)
	v.SetDefault("trust.async_workers", 4)
	v.SetDefault("trust.async_queue_size", 256)
	v.SetDefault("trust.lock_ttl_secs", 30)
	v.SetDefault("analysis.concurrency", 8)
	v.SetDefault("analysis.batch_size", 200)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "trust-score")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys required by a command mode are present.
// Modes: discover, serve, trust, analyze, worker.
func (c *Config) Validate(mode string) error {
	var errs []string

	needStore := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
	}
	needTrust := func() {
		weights := []float64{c.Trust.SentimentWeight, c.Trust.SpamWeight, c.Trust.VolumeWeight, c.Trust.VerificationWeight}
		sum := 0.0
		for _, w := range weights {
			if w < 0 {
				errs = append(errs, "trust weights must be >= 0")
				break
			}
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-9 {
			errs = append(errs, fmt.Sprintf("trust weights must sum to 1.0 (got %.4f)", sum))
		}
		if c.Trust.VolumeSaturation <= 0 {
			errs = append(errs, "trust.volume_saturation must be > 0")
		}
	}
	needClassifier := func() {
		if c.Classifier.SentimentURL == "" {
			errs = append(errs, "classifier.sentiment_url is required")
		}
		if c.Classifier.SpamURL == "" {
			errs = append(errs, "classifier.spam_url is required")
		}
	}

	switch mode {
	case "discover":
		needStore()
		needTrust()
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		needStore()
		needTrust()
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
	case "trust":
		needStore()
		needTrust()
	case "analyze":
		needStore()
		needTrust()
		needClassifier()
	case "worker":
		needStore()
		needTrust()
		if c.Temporal.Address == "" {
			errs = append(errs, "temporal.address is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown validation mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
