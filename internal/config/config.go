// Package config loads the rollup coordinator's configuration from
// environment variables with typed defaults, plus an optional YAML overlay
// file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the rollup coordinator process.
type Config struct {
	// Layer-1 RPC
	Layer1URL     string
	Layer1ChainID int64

	// Server configuration
	ListenAddr  string
	MetricsAddr string

	// Keypair file env var names (the files themselves are read directly
	// by internal/chain.LoadKeypairFromEnv; Validate only checks that the
	// variable named by Keypair1Env is set, Keypair2Env is not checked).
	Keypair1Env string
	Keypair2Env string

	// Pipeline tuning
	BatchSize      int
	DataDir        string
	ProverScript   string
	RetryInterval  time.Duration
	SettlementBuf  int
	IngressBuf     int
	ReplyTimeout   time.Duration
	ShutdownWindow time.Duration

	LogLevel string
}

func (c *Config) setDefaults() {
	if c.Layer1ChainID == 0 {
		c.Layer1ChainID = 11155111 // Sepolia
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:8080"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "0.0.0.0:9090"
	}
	if c.Keypair1Env == "" {
		c.Keypair1Env = "KEYPAIR1"
	}
	if c.Keypair2Env == "" {
		c.Keypair2Env = "KEYPAIR2"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 3
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.ProverScript == "" {
		c.ProverScript = "./scripts/setup_and_prove.sh"
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 5 * time.Minute
	}
	if c.SettlementBuf == 0 {
		c.SettlementBuf = 64
	}
	if c.IngressBuf == 0 {
		c.IngressBuf = 256
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = 2 * time.Second
	}
	if c.ShutdownWindow == 0 {
		c.ShutdownWindow = 5 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads configuration from environment variables. If CONFIG_FILE names
// a readable YAML file, its values overlay the environment-derived defaults
// (file wins over env).
func Load() (*Config, error) {
	cfg := &Config{
		Layer1URL:     getEnv("LAYER1_RPC_URL", ""),
		Layer1ChainID: getEnvInt64("LAYER1_CHAIN_ID", 11155111),

		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),

		Keypair1Env: getEnv("KEYPAIR1_ENV_NAME", "KEYPAIR1"),
		Keypair2Env: getEnv("KEYPAIR2_ENV_NAME", "KEYPAIR2"),

		BatchSize:      getEnvInt("BATCH_SIZE", 3),
		DataDir:        getEnv("DATA_DIR", "."),
		ProverScript:   getEnv("PROVER_SCRIPT_PATH", "./scripts/setup_and_prove.sh"),
		RetryInterval:  getEnvDuration("RETRY_TICK_INTERVAL", 5*time.Minute),
		SettlementBuf:  getEnvInt("SETTLEMENT_QUEUE_SIZE", 64),
		IngressBuf:     getEnvInt("INGRESS_QUEUE_SIZE", 256),
		ReplyTimeout:   getEnvDuration("REPLY_TIMEOUT", 2*time.Second),
		ShutdownWindow: getEnvDuration("SHUTDOWN_WINDOW", 5*time.Second),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) overlayYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading overlay file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parsing overlay file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the fields required to reach layer-1 and settle
// batches are present.
func (c *Config) Validate() error {
	var errs []string

	if c.Layer1URL == "" {
		errs = append(errs, "LAYER1_RPC_URL is required but not set")
	}
	if os.Getenv(c.Keypair1Env) == "" {
		errs = append(errs, fmt.Sprintf("%s is required but not set", c.Keypair1Env))
	}
	if c.BatchSize < 1 {
		errs = append(errs, "BATCH_SIZE must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
