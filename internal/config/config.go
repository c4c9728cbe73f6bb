package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, populated from the environment.
// Every knob the pipeline recognizes lives here; workers receive an immutable
// copy at startup and never read the environment again.
type Config struct {
	// Postgres / Redis
	PostgresDSN string `env:"PG_DSN" envDefault:"postgres://localhost:5432/tokenpulse?sslmode=disable"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	RedisPass   string `env:"REDIS_PASSWORD"`

	HTTPHost string `env:"HTTP_HOST" envDefault:"127.0.0.1"`
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`

	// Event identity and merge
	EventKeySalt         string `env:"EVENT_KEY_SALT" envDefault:""`
	EventKeyVersion      string `env:"EVENT_KEY_VERSION" envDefault:"v1"`
	EventTimeBucketSec   int64  `env:"EVENT_TIME_BUCKET_SEC" envDefault:"600"`
	EventMergeStrict     bool   `env:"EVENT_MERGE_STRICT" envDefault:"true"`
	EventDeadlockRetries int    `env:"EVENT_DEADLOCK_MAX_RETRY" envDefault:"3"`
	EventTopicTopK       int    `env:"EVENT_TOPIC_TOPK" envDefault:"5"`
	EventHashAlgo        string `env:"EVENT_HASH_ALGO" envDefault:"sha256"`

	// Heat
	ThetaRise             float64       `env:"THETA_RISE" envDefault:"0.5"`
	HeatMinSample         int           `env:"HEAT_MIN_SAMPLE" envDefault:"5"`
	HeatNoiseFloor        int           `env:"HEAT_NOISE_FLOOR" envDefault:"3"`
	HeatEMAAlpha          float64       `env:"HEAT_EMA_ALPHA" envDefault:"0"`
	HeatCacheTTL          time.Duration `env:"HEAT_CACHE_TTL" envDefault:"60s"`
	HeatMaxRows           int           `env:"HEAT_MAX_ROWS" envDefault:"5000"`
	HeatTimeout           time.Duration `env:"HEAT_TIMEOUT_MS" envDefault:"800ms"`
	HeatEnablePersist     bool          `env:"HEAT_ENABLE_PERSIST" envDefault:"false"`
	HeatPersistUpsert     bool          `env:"HEAT_PERSIST_UPSERT" envDefault:"false"`
	HeatPersistStrict     bool          `env:"HEAT_PERSIST_STRICT_MATCH" envDefault:"true"`
	HeatPersistTimeout    time.Duration `env:"HEAT_PERSIST_TIMEOUT_MS" envDefault:"500ms"`

	// Cards / dedup
	DedupTTL              time.Duration `env:"DEDUP_TTL_SEC" envDefault:"86400s"`
	CardsSummaryTimeout   time.Duration `env:"CARDS_SUMMARY_TIMEOUT_MS" envDefault:"1500ms"`
	CardsSummaryMaxChars  int           `env:"CARDS_SUMMARY_MAX_CHARS" envDefault:"280"`
	CardsRiskNoteMaxChars int           `env:"CARDS_RISKNOTE_MAX_CHARS" envDefault:"160"`
	MarketRiskVolumeThr   float64       `env:"MARKET_RISK_VOLUME_THRESHOLD" envDefault:"500000"`
	MarketRiskLiqMin      float64       `env:"MARKET_RISK_LIQ_MIN" envDefault:"10000"`
	MarketRiskLiqRisk     float64       `env:"MARKET_RISK_LIQ_RISK" envDefault:"50000"`

	// Outbox / push
	OutboxBatchSize   int           `env:"OUTBOX_BATCH_SIZE" envDefault:"20"`
	OutboxMaxAttempts int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	OutboxBaseBackoff time.Duration `env:"OUTBOX_BASE_BACKOFF" envDefault:"5s"`
	OutboxMaxBackoff  time.Duration `env:"OUTBOX_MAX_BACKOFF" envDefault:"10m"`
	TelegramToken     string        `env:"TELEGRAM_BOT_TOKEN"`

	// Scheduler / expert view
	BeatStaleSec       int           `env:"BEAT_STALE_SEC" envDefault:"120"`
	ExpertView         string        `env:"EXPERT_VIEW" envDefault:"off"`
	ExpertKey          string        `env:"EXPERT_KEY"`
	ExpertRatePerMin   int           `env:"EXPERT_RATE_LIMIT_PER_MIN" envDefault:"30"`
	ExpertSource       string        `env:"EXPERT_SOURCE" envDefault:"bq"`
	ExpertCacheTTL     time.Duration `env:"EXPERT_CACHE_TTL_SEC" envDefault:"300s"`

	// BigQuery / on-chain
	BQProject          string        `env:"BQ_PROJECT"`
	GCPProject         string        `env:"GCP_PROJECT"`
	BQDataset          string        `env:"BQ_DATASET"`
	BQDatasetRO        string        `env:"BQ_DATASET_RO"`
	BQLocation         string        `env:"BQ_LOCATION" envDefault:"US"`
	BQTimeout          time.Duration `env:"BQ_TIMEOUT_S" envDefault:"30s"`
	BQMaxScannedGB     float64       `env:"BQ_MAX_SCANNED_GB" envDefault:"2.0"`
	BQOnchainView      string        `env:"BQ_ONCHAIN_FEATURES_VIEW"`
	OnchainBackend     string        `env:"ONCHAIN_BACKEND" envDefault:"pg"`
	FreshnessSLO       time.Duration `env:"FRESHNESS_SLO" envDefault:"30m"`
	OnchainRulesPath   string        `env:"ONCHAIN_RULES_PATH" envDefault:"config/onchain_rules.yaml"`
	RulesReloadEvery   time.Duration `env:"RULES_RELOAD_EVERY" envDefault:"60s"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.EventKeyVersion != "v1" && cfg.EventKeyVersion != "v2" {
		return nil, fmt.Errorf("EVENT_KEY_VERSION must be v1 or v2, got %q", cfg.EventKeyVersion)
	}
	return cfg, nil
}

// Project returns the effective GCP project, preferring BQ_PROJECT.
func (c *Config) Project() string {
	if c.BQProject != "" {
		return c.BQProject
	}
	return c.GCPProject
}

// Dataset returns the effective dataset, preferring the read-only one.
func (c *Config) Dataset() string {
	if c.BQDatasetRO != "" {
		return c.BQDatasetRO
	}
	return c.BQDataset
}

// RequireBQ validates the BigQuery settings at startup. Missing project or
// dataset is a contract violation and fails fast.
func (c *Config) RequireBQ() error {
	if c.OnchainBackend != "bq" {
		return nil
	}
	if c.Project() == "" {
		return fmt.Errorf("BQ_PROJECT or GCP_PROJECT is required when ONCHAIN_BACKEND=bq")
	}
	if c.Dataset() == "" {
		return fmt.Errorf("BQ_DATASET or BQ_DATASET_RO is required when ONCHAIN_BACKEND=bq")
	}
	return nil
}
