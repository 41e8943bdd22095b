// Package config loads runtime configuration from the environment, with an
// optional YAML overlay for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface consumed by the core processes.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Chain      ChainConfig
	Worker     WorkerConfig
	Reconciler ReconcilerConfig
	Pricing    PricingConfig
	Auth       AuthConfig
	Redis      RedisConfig
}

// ServerConfig configures the HTTP API process.
type ServerConfig struct {
	Host string `env:"SERVER_HOST,default=0.0.0.0" yaml:"host"`
	Port int    `env:"SERVER_PORT,default=8001" yaml:"port"`

	RateLimitPerSecond int `env:"RATE_LIMIT_RPS,default=10" yaml:"rate_limit_rps"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST,default=20" yaml:"rate_limit_burst"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	Driver          string `env:"DATABASE_DRIVER,default=postgres" yaml:"driver"`
	DSN             string `env:"DATABASE_DSN,default=" yaml:"dsn"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10" yaml:"max_open_conns"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME,default=300" yaml:"conn_max_lifetime"` // seconds
}

// LoggingConfig configures the logger backend.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LOG_FORMAT,default=text" yaml:"format"`
	Output     string `env:"LOG_OUTPUT,default=stdout" yaml:"output"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=redistribution" yaml:"file_prefix"`
}

// ChainConfig selects and configures the ledger backend.
type ChainConfig struct {
	Name       string        `env:"CHAIN,default=algorand" yaml:"name"`
	ChainID    string        `env:"CHAIN_ID,default=testnet" yaml:"chain_id"`
	RPCURL     string        `env:"ALGOD_ADDRESS,default=" yaml:"rpc_url"`
	Token      string        `env:"ALGOD_TOKEN,default=" yaml:"token"`
	IndexerURL string        `env:"ALGO_INDEXER_ADDRESS,default=" yaml:"indexer_url"`
	Timeout    time.Duration `env:"CHAIN_TIMEOUT,default=30s" yaml:"timeout"`
	SignerKey  string        `env:"CHAIN_SIGNER_KEY,default=" yaml:"signer_key"` // hex ed25519 seed
	DemoMode   bool          `env:"DEMO_MODE,default=false" yaml:"demo_mode"`
}

// WorkerConfig configures the command dispatcher.
type WorkerConfig struct {
	PollInterval     time.Duration `env:"WORKER_POLL_INTERVAL,default=5s" yaml:"poll_interval"`
	FulfillmentDelay time.Duration `env:"FULFILLMENT_SIM_DURATION,default=30s" yaml:"fulfillment_delay"`
	MaxInFlight      int           `env:"WORKER_MAX_IN_FLIGHT,default=4" yaml:"max_in_flight"`
	SubmitRetries    int           `env:"SUBMIT_MAX_RETRIES,default=3" yaml:"submit_retries"`
	SubmitBackoff    time.Duration `env:"SUBMIT_RETRY_BACKOFF,default=2s" yaml:"submit_backoff"`
}

// ReconcilerConfig configures the reconciliation loop and timeout sweep.
type ReconcilerConfig struct {
	PollInterval    time.Duration `env:"RECONCILER_POLL_INTERVAL,default=30s" yaml:"poll_interval"`
	TimeoutAge      time.Duration `env:"RECONCILER_TIMEOUT_AGE,default=24h" yaml:"timeout_age"`
	TimeoutSchedule string        `env:"RECONCILER_TIMEOUT_SCHEDULE,default=@every 10m" yaml:"timeout_schedule"`
}

// PricingConfig holds the redistribution pricing ratios.
type PricingConfig struct {
	OversupplyRatio  float64 `env:"PRICE_RATIO_OVER,default=0.85" yaml:"oversupply_ratio"`
	UndersupplyRatio float64 `env:"PRICE_RATIO_UNDER,default=1.05" yaml:"undersupply_ratio"`
}

// AuthConfig configures JWT verification.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET,default=" yaml:"jwt_secret"`
}

// RedisConfig configures the optional idempotency response cache. An empty
// address disables it; the database duplicate check remains authoritative.
type RedisConfig struct {
	Addr           string        `env:"REDIS_ADDR,default=" yaml:"addr"`
	Password       string        `env:"REDIS_PASSWORD,default=" yaml:"password"`
	DB             int           `env:"REDIS_DB,default=0" yaml:"db"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL,default=24h" yaml:"idempotency_ttl"`
}

// Load decodes configuration from the environment. When CONFIG_FILE is set
// the named YAML file is applied on top.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return LoadFromFile(path)
	}
	return loadEnv()
}

func loadEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile applies a YAML file on top of environment defaults. Unset YAML
// fields keep their environment-derived values. Validation runs only after
// the overlay, so the file may supply values the environment left out.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	if c.Reconciler.PollInterval <= 0 {
		return fmt.Errorf("reconciler poll interval must be positive")
	}
	if c.Worker.FulfillmentDelay < 0 {
		return fmt.Errorf("fulfillment delay cannot be negative")
	}
	if c.Pricing.OversupplyRatio <= 0 || c.Pricing.UndersupplyRatio <= 0 {
		return fmt.Errorf("pricing ratios must be positive")
	}
	if !c.Chain.DemoMode && c.Chain.RPCURL == "" {
		return fmt.Errorf("ALGOD_ADDRESS is required outside demo mode")
	}
	return nil
}
