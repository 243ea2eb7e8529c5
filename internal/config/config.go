package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log_level"`

	Admins []string `yaml:"admins"`

	SyncInterval   time.Duration `yaml:"sync_interval"`
	DigestInterval time.Duration `yaml:"digest_interval"`

	Engine   EngineConfig   `yaml:"engine"`
	Attest   AttestConfig   `yaml:"attest"`
	Store    StoreConfig    `yaml:"store"`
	Chain    ChainConfig    `yaml:"chain"`
	Vault    VaultConfig    `yaml:"vault"`
	Tokens   []TokenConfig  `yaml:"tokens"`
	Telegram TelegramConfig `yaml:"telegram"`
	API      APIConfig      `yaml:"api"`
}

type EngineConfig struct {
	MaxWinners      int           `yaml:"max_winners"`
	RecoveryWindow  time.Duration `yaml:"recovery_window"`
	RecoveryAddress string        `yaml:"recovery_address"`
	EventJournal    int           `yaml:"event_journal"`
}

type AttestConfig struct {
	SignerAddress   string `yaml:"signer_address"`
	SignerKey       string `yaml:"signer_key"`
	ContractAddress string `yaml:"contract_address"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // memory | postgres
	DatabaseURL string `yaml:"database_url"`
}

type ChainConfig struct {
	Backend        string        `yaml:"backend"` // vault | rpc
	RPCURL         string        `yaml:"rpc_url"`
	ChainID        int64         `yaml:"chain_id"`
	CustodyKey     string        `yaml:"custody_key"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// VaultConfig seeds the in-process balance book used by the vault backend.
type VaultConfig struct {
	Custody string        `yaml:"custody"`
	Seed    []SeedBalance `yaml:"seed"`
}

type SeedBalance struct {
	Holder string `yaml:"holder"`
	Token  string `yaml:"token"` // empty = native coin
	Amount string `yaml:"amount"`
}

type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
	Allowed  bool   `yaml:"allowed"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type APIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SubmitRPS      float64       `yaml:"submit_rps"`
	SubmitBurst    int           `yaml:"submit_burst"`
	AuthMaxSkew    time.Duration `yaml:"auth_max_skew"`
}

func Default() Config {
	return Config{
		Profile:        "dev",
		LogLevel:       "info",
		SyncInterval:   15 * time.Second,
		DigestInterval: 24 * time.Hour,
		Engine: EngineConfig{
			MaxWinners:     10,
			RecoveryWindow: 30 * 24 * time.Hour,
			EventJournal:   1000,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Chain: ChainConfig{
			Backend:        "vault",
			ConfirmTimeout: 2 * time.Minute,
			PollInterval:   2 * time.Second,
		},
		Vault: VaultConfig{
			Custody: "0x000000000000000000000000000000000000c0de",
		},
		API: APIConfig{
			Enabled:     true,
			Addr:        ":8080",
			SubmitRPS:   5,
			SubmitBurst: 10,
			AuthMaxSkew: 5 * time.Minute,
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("PRIZES_SIGNER_PK"); v != "" {
		c.Attest.SignerKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PRIZES_SIGNER_ADDRESS")); v != "" {
		c.Attest.SignerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("PRIZES_CONTRACT_ADDRESS")); v != "" {
		c.Attest.ContractAddress = v
	}
	if v := os.Getenv("PRIZES_DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
		c.Store.Driver = "postgres"
	}
	if v := strings.TrimSpace(os.Getenv("PRIZES_RPC_URL")); v != "" {
		c.Chain.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PRIZES_CHAIN_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Chain.ChainID = id
		}
	}
	if v := os.Getenv("PRIZES_CUSTODY_PK"); v != "" {
		c.Chain.CustodyKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PRIZES_ADMINS")); v != "" {
		c.Admins = splitList(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_ENABLED"); v != "" {
		c.Telegram.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("PRIZES_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("PRIZES_PROFILE")); v != "" {
		c.Profile = strings.ToLower(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
