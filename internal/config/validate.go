package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if len(c.Admins) == 0 {
		return fmt.Errorf("admins must list at least one address")
	}
	for _, a := range c.Admins {
		if err := checkAddress("admins", a); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Attest.SignerAddress) == "" && strings.TrimSpace(c.Attest.SignerKey) == "" {
		return fmt.Errorf("attest.signer_address or attest.signer_key is required")
	}
	if c.Attest.SignerAddress != "" {
		if err := checkAddress("attest.signer_address", c.Attest.SignerAddress); err != nil {
			return err
		}
	}
	if c.Attest.ContractAddress != "" {
		if err := checkAddress("attest.contract_address", c.Attest.ContractAddress); err != nil {
			return err
		}
	}

	if c.Engine.MaxWinners <= 0 {
		return fmt.Errorf("engine.max_winners must be > 0, got %d", c.Engine.MaxWinners)
	}
	if c.Engine.RecoveryWindow <= 0 {
		return fmt.Errorf("engine.recovery_window must be > 0, got %s", c.Engine.RecoveryWindow)
	}
	if c.Engine.RecoveryAddress != "" {
		if err := checkAddress("engine.recovery_address", c.Engine.RecoveryAddress); err != nil {
			return err
		}
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be 'memory' or 'postgres', got %q", c.Store.Driver)
	}

	switch c.Chain.Backend {
	case "vault":
		if err := checkAddress("vault.custody", c.Vault.Custody); err != nil {
			return err
		}
		for i, s := range c.Vault.Seed {
			if err := checkAddress(fmt.Sprintf("vault.seed[%d].holder", i), s.Holder); err != nil {
				return err
			}
			if s.Token != "" {
				if err := checkAddress(fmt.Sprintf("vault.seed[%d].token", i), s.Token); err != nil {
					return err
				}
			}
			if v, ok := new(big.Int).SetString(s.Amount, 10); !ok || v.Sign() <= 0 {
				return fmt.Errorf("vault.seed[%d].amount must be a positive integer, got %q", i, s.Amount)
			}
		}
	case "rpc":
		if strings.TrimSpace(c.Chain.RPCURL) == "" {
			return fmt.Errorf("chain.rpc_url is required for the rpc backend")
		}
		if strings.TrimSpace(c.Chain.CustodyKey) == "" {
			return fmt.Errorf("chain.custody_key is required for the rpc backend")
		}
		if c.Chain.ChainID <= 0 {
			return fmt.Errorf("chain.chain_id must be > 0, got %d", c.Chain.ChainID)
		}
		if c.Chain.PollInterval <= 0 || c.Chain.ConfirmTimeout <= 0 {
			return fmt.Errorf("chain.poll_interval and chain.confirm_timeout must be > 0")
		}
	default:
		return fmt.Errorf("chain.backend must be 'vault' or 'rpc', got %q", c.Chain.Backend)
	}

	for i, tok := range c.Tokens {
		if err := checkAddress(fmt.Sprintf("tokens[%d].address", i), tok.Address); err != nil {
			return err
		}
		if tok.Decimals < 0 || tok.Decimals > 36 {
			return fmt.Errorf("tokens[%d].decimals must be within [0,36], got %d", i, tok.Decimals)
		}
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}

	if c.API.SubmitRPS < 0 || c.API.SubmitBurst < 0 {
		return fmt.Errorf("api.submit_rps and api.submit_burst must be >= 0")
	}
	if c.API.AuthMaxSkew <= 0 {
		return fmt.Errorf("api.auth_max_skew must be > 0, got %s", c.API.AuthMaxSkew)
	}

	return nil
}

func checkAddress(field, v string) error {
	if !common.IsHexAddress(strings.TrimSpace(v)) {
		return fmt.Errorf("%s: %q is not a hex address", field, v)
	}
	return nil
}
