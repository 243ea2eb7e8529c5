package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/GoPolymarket/puzzle-prizes/internal/api"
	"github.com/GoPolymarket/puzzle-prizes/internal/attest"
)

const keyEnv = "PRIZES_SIGNER_PK"

// NewRootCmd returns the prizectl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prizectl",
		Short:         "Operator tooling for the puzzle prize service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("key", "", "hex private key (defaults to $"+keyEnv+")")

	root.AddCommand(
		newKeygenCmd(),
		newAddressCmd(),
		newAttestCmd(),
		newVerifyCmd(),
		newSignRequestCmd(),
	)
	return root
}

func loadSigner(cmd *cobra.Command) (*attest.Signer, error) {
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = os.Getenv(keyEnv)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("no key: pass --key or set %s", keyEnv)
	}
	return attest.NewSigner(key)
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key",
		Long: `Generate a secp256k1 key for the attestation signer, an admin or the custody wallet.

Example:
  $ prizectl keygen`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
			fmt.Fprintf(out, "export %s=\"0x%s\"\n", keyEnv, hex.EncodeToString(crypto.FromECDSA(key)))
			return nil
		},
	}
}

func newAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSigner(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.Address().Hex())
			return nil
		},
	}
}

type attestArgs struct {
	user     string
	puzzle   string
	duration uint64
	contract string
}

func (a *attestArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.user, "user", "", "player address")
	cmd.Flags().StringVar(&a.puzzle, "puzzle", "", "32-byte puzzle id (hex)")
	cmd.Flags().Uint64Var(&a.duration, "duration-ms", 0, "solve time in milliseconds")
	cmd.Flags().StringVar(&a.contract, "contract", "", "contract address bound into the attestation")
	for _, f := range []string{"user", "puzzle", "contract"} {
		_ = cmd.MarkFlagRequired(f)
	}
}

func (a *attestArgs) parse() (common.Address, common.Hash, common.Address, error) {
	if !common.IsHexAddress(a.user) {
		return common.Address{}, common.Hash{}, common.Address{}, fmt.Errorf("--user %q is not an address", a.user)
	}
	if !common.IsHexAddress(a.contract) {
		return common.Address{}, common.Hash{}, common.Address{}, fmt.Errorf("--contract %q is not an address", a.contract)
	}
	id, err := hexutil.Decode(a.puzzle)
	if err != nil || len(id) != common.HashLength {
		return common.Address{}, common.Hash{}, common.Address{}, fmt.Errorf("--puzzle %q is not a 32-byte hex id", a.puzzle)
	}
	return common.HexToAddress(a.user), common.BytesToHash(id), common.HexToAddress(a.contract), nil
}

func newAttestCmd() *cobra.Command {
	var args attestArgs
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Sign a completion attestation",
		Long: `Sign the attestation a player submits with a completion.

Example:
  $ prizectl attest --user 0xabc... --puzzle 0x01... --duration-ms 42000 --contract 0xc0...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSigner(cmd)
			if err != nil {
				return err
			}
			user, id, contract, err := args.parse()
			if err != nil {
				return err
			}
			sig, err := s.Sign(user, id, args.duration, contract)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(sig))
			return nil
		},
	}
	args.bind(cmd)
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		args attestArgs
		sig  string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recover the signer of a completion attestation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, id, contract, err := args.parse()
			if err != nil {
				return err
			}
			raw, err := hexutil.Decode(sig)
			if err != nil {
				return fmt.Errorf("--sig: %w", err)
			}
			signer, err := attest.Recover(attest.PrefixedDigest(user, id, args.duration, contract), raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Hex())
			return nil
		},
	}
	args.bind(cmd)
	cmd.Flags().StringVar(&sig, "sig", "", "65-byte attestation (hex)")
	_ = cmd.MarkFlagRequired("sig")
	return cmd
}

func newSignRequestCmd() *cobra.Command {
	var (
		method string
		body   string
		ts     int64
	)
	cmd := &cobra.Command{
		Use:   "sign-request [path]",
		Short: "Print authentication headers for an API call",
		Long: `Print the X-Caller, X-Timestamp and X-Signature headers for an admin or claim call.

Example:
  $ prizectl sign-request /api/escrows/0x01.../activate --method POST`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSigner(cmd)
			if err != nil {
				return err
			}
			raw := []byte(body)
			if strings.HasPrefix(body, "@") {
				if raw, err = os.ReadFile(strings.TrimPrefix(body, "@")); err != nil {
					return err
				}
			}
			if ts == 0 {
				ts = time.Now().Unix()
			}
			headers, err := api.SignRequest(s, method, args[0], ts, raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, h := range []string{api.HeaderCaller, api.HeaderTimestamp, api.HeaderSignature} {
				fmt.Fprintf(out, "%s: %s\n", h, headers.Get(h))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method")
	cmd.Flags().StringVar(&body, "body", "", "request body, or @file")
	cmd.Flags().Int64Var(&ts, "timestamp", 0, "unix timestamp (defaults to now)")
	return cmd
}
