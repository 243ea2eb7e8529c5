package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Profile != "dev" {
		t.Fatalf("expected profile=dev by default, got %q", cfg.Profile)
	}
	if cfg.Engine.MaxWinners != 10 {
		t.Fatalf("expected max_winners=10 by default, got %d", cfg.Engine.MaxWinners)
	}
	if cfg.Engine.RecoveryWindow != 30*24*time.Hour {
		t.Fatalf("expected 30d recovery window by default, got %v", cfg.Engine.RecoveryWindow)
	}
	if cfg.Store.Driver != "memory" || cfg.Chain.Backend != "vault" {
		t.Fatalf("expected memory/vault by default, got %s/%s", cfg.Store.Driver, cfg.Chain.Backend)
	}
	if cfg.API.AuthMaxSkew != 5*time.Minute {
		t.Fatalf("expected 5m auth skew by default, got %v", cfg.API.AuthMaxSkew)
	}
	if cfg.SyncInterval <= 0 {
		t.Fatal("expected positive sync interval")
	}
}

func TestLoadFromYAML(t *testing.T) {
	yaml := `
profile: testnet
log_level: warn
admins:
  - "0x000000000000000000000000000000000000ad01"
engine:
  max_winners: 5
  recovery_window: 72h
attest:
  signer_address: "0x00000000000000000000000000000000000051a1"
store:
  driver: postgres
  database_url: postgres://prizes@localhost/prizes
tokens:
  - address: "0x00000000000000000000000000000000000000dc"
    symbol: USDC
    decimals: 6
    allowed: true
api:
  allowed_origins: ["https://puzzles.example"]
  submit_rps: 2
`
	f, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write([]byte(yaml)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := LoadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Profile != "testnet" || cfg.LogLevel != "warn" {
		t.Fatalf("unexpected profile/log level %q/%q", cfg.Profile, cfg.LogLevel)
	}
	if cfg.Engine.MaxWinners != 5 || cfg.Engine.RecoveryWindow != 72*time.Hour {
		t.Fatalf("unexpected engine config %+v", cfg.Engine)
	}
	if len(cfg.Tokens) != 1 || cfg.Tokens[0].Decimals != 6 || !cfg.Tokens[0].Allowed {
		t.Fatalf("unexpected tokens %+v", cfg.Tokens)
	}
	if cfg.API.SubmitRPS != 2 || cfg.API.SubmitBurst != 10 {
		t.Fatalf("expected yaml to override rps and keep default burst, got %+v", cfg.API)
	}
	if cfg.Chain.PollInterval != 2*time.Second {
		t.Fatalf("expected default poll interval kept, got %v", cfg.Chain.PollInterval)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/prizes.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PRIZES_SIGNER_ADDRESS", "0x00000000000000000000000000000000000051a1")
	t.Setenv("PRIZES_DATABASE_URL", "postgres://env@localhost/prizes")
	t.Setenv("PRIZES_ADMINS", " 0x000000000000000000000000000000000000ad01 , ,0x000000000000000000000000000000000000ad02")
	t.Setenv("PRIZES_CHAIN_ID", "84532")
	t.Setenv("PRIZES_LOG_LEVEL", "DEBUG")
	t.Setenv("TELEGRAM_ENABLED", "1")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Attest.SignerAddress != "0x00000000000000000000000000000000000051a1" {
		t.Fatalf("signer address not applied: %q", cfg.Attest.SignerAddress)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DatabaseURL != "postgres://env@localhost/prizes" {
		t.Fatalf("database url should switch the driver, got %+v", cfg.Store)
	}
	if len(cfg.Admins) != 2 {
		t.Fatalf("expected 2 admins, got %v", cfg.Admins)
	}
	if cfg.Chain.ChainID != 84532 {
		t.Fatalf("expected chain id 84532, got %d", cfg.Chain.ChainID)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lowercased log level, got %q", cfg.LogLevel)
	}
	if !cfg.Telegram.Enabled {
		t.Fatal("expected telegram enabled from env")
	}
}
