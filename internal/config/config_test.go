package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEMO_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8001 {
		t.Fatalf("expected default port 8001, got %d", cfg.Server.Port)
	}
	if cfg.Worker.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %s", cfg.Worker.PollInterval)
	}
	if cfg.Pricing.OversupplyRatio != 0.85 || cfg.Pricing.UndersupplyRatio != 1.05 {
		t.Fatalf("unexpected pricing defaults: %v %v", cfg.Pricing.OversupplyRatio, cfg.Pricing.UndersupplyRatio)
	}
	if cfg.Chain.Name != "algorand" || cfg.Chain.ChainID != "testnet" {
		t.Fatalf("unexpected chain defaults: %s %s", cfg.Chain.Name, cfg.Chain.ChainID)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEMO_MODE", "true")
	t.Setenv("WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("SUBMIT_MAX_RETRIES", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.SubmitRetries != 7 {
		t.Fatalf("expected 7 retries, got %d", cfg.Worker.SubmitRetries)
	}
}

func TestLoadRequiresRPCURLOutsideDemoMode(t *testing.T) {
	t.Setenv("DEMO_MODE", "false")
	t.Setenv("ALGOD_ADDRESS", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when RPC URL is missing outside demo mode")
	}
}

func TestLoadHonorsConfigFileEnv(t *testing.T) {
	t.Setenv("DEMO_MODE", "true")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Fatalf("expected port from CONFIG_FILE, got %d", cfg.Server.Port)
	}
}

func TestLoadFromFileOverlay(t *testing.T) {
	t.Setenv("DEMO_MODE", "true")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  port: 9090\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load from file: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected overlay port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overlay log level debug, got %s", cfg.Logging.Level)
	}
	// Values absent from the file keep their environment defaults.
	if cfg.Pricing.OversupplyRatio != 0.85 {
		t.Fatalf("expected default oversupply ratio, got %v", cfg.Pricing.OversupplyRatio)
	}
}
