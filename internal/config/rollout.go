package config

import (
	"fmt"
	"strings"
	"time"
)

// ApplyProfile applies a deployment preset to the config.
// Supported profiles:
// - dev:      in-memory ledger and vault balances, nothing leaves the process
// - testnet:  postgres ledger and rpc transfers with short recovery windows allowed
// - mainnet:  postgres ledger and rpc transfers, recovery window at least 30 days
func ApplyProfile(cfg *Config, profile string) error {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return nil
	}

	switch p {
	case "dev", "local":
		cfg.Store.Driver = "memory"
		cfg.Chain.Backend = "vault"
		if cfg.LogLevel == "" || cfg.LogLevel == "info" {
			cfg.LogLevel = "debug"
		}
	case "testnet":
		cfg.Store.Driver = "postgres"
		cfg.Chain.Backend = "rpc"
		clampMaxInt(&cfg.Engine.MaxWinners, 10)
		clampMinDuration(&cfg.Engine.RecoveryWindow, time.Hour)
	case "mainnet":
		cfg.Store.Driver = "postgres"
		cfg.Chain.Backend = "rpc"
		clampMaxInt(&cfg.Engine.MaxWinners, 10)
		clampMinDuration(&cfg.Engine.RecoveryWindow, 30*24*time.Hour)
		clampMaxDuration(&cfg.API.AuthMaxSkew, 5*time.Minute)
	default:
		return fmt.Errorf("unknown profile %q (supported: dev|testnet|mainnet)", profile)
	}

	cfg.Profile = p
	return nil
}

func clampMaxInt(v *int, max int) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}

func clampMinDuration(v *time.Duration, min time.Duration) {
	if *v < min {
		*v = min
	}
}

func clampMaxDuration(v *time.Duration, max time.Duration) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}
