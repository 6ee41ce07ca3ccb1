package config

import (
	"testing"
)

func clearRollupEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LAYER1_RPC_URL", "LAYER1_CHAIN_ID", "API_HOST", "API_PORT", "METRICS_PORT",
		"KEYPAIR1_ENV_NAME", "KEYPAIR2_ENV_NAME", "KEYPAIR1", "BATCH_SIZE", "DATA_DIR",
		"PROVER_SCRIPT_PATH", "RETRY_TICK_INTERVAL", "CONFIG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearRollupEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BatchSize != 3 {
		t.Fatalf("expected default batch size 3, got %d", cfg.BatchSize)
	}
	if cfg.Layer1ChainID != 11155111 {
		t.Fatalf("expected default chain id 11155111, got %d", cfg.Layer1ChainID)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	clearRollupEnv(t)
	t.Setenv("LAYER1_RPC_URL", "https://example.invalid")
	t.Setenv("BATCH_SIZE", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Layer1URL != "https://example.invalid" {
		t.Fatalf("unexpected layer1 url %q", cfg.Layer1URL)
	}
	if cfg.BatchSize != 5 {
		t.Fatalf("expected batch size 5, got %d", cfg.BatchSize)
	}
}

func TestValidateRequiresLayer1URLAndKeypair(t *testing.T) {
	clearRollupEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when LAYER1_RPC_URL and keypair are unset")
	}

	t.Setenv("LAYER1_RPC_URL", "https://example.invalid")
	t.Setenv("KEYPAIR1", "/tmp/does-not-matter")
	cfg, err = Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
}
