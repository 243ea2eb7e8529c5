package app

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GoPolymarket/puzzle-prizes/internal/attest"
	"github.com/GoPolymarket/puzzle-prizes/internal/config"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
	"github.com/GoPolymarket/puzzle-prizes/internal/prize"
)

var (
	admin    = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	player   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	puzzle   = common.HexToHash("0xd16e57")
)

func testConfig(t *testing.T) (config.Config, *attest.Signer) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := attest.NewSignerFromKey(key)

	cfg := config.Default()
	cfg.Admins = []string{admin.Hex()}
	cfg.Attest.SignerAddress = signer.Address().Hex()
	cfg.Attest.ContractAddress = contract.Hex()
	cfg.API.Enabled = false
	cfg.Vault.Seed = []config.SeedBalance{{Holder: admin.Hex(), Amount: "1000"}}
	return cfg, signer
}

func TestNewApp(t *testing.T) {
	cfg, _ := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Engine() == nil {
		t.Fatal("expected engine")
	}
	if a.Vault() == nil {
		t.Fatal("expected vault backend by default")
	}
	if got := a.Vault().BalanceOf(ledger.NativeToken, admin).Int64(); got != 1000 {
		t.Fatalf("expected seeded admin balance 1000, got %d", got)
	}
	if a.IsRunning() {
		t.Fatal("should not be running before Run")
	}
	if got := a.Engine().Settings().Signer; got.Hex() != cfg.Attest.SignerAddress {
		t.Fatalf("expected signer %s, got %s", cfg.Attest.SignerAddress, got.Hex())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"store driver", func(c *config.Config) { c.Store.Driver = "sqlite" }},
		{"chain backend", func(c *config.Config) { c.Chain.Backend = "carrier-pigeon" }},
		{"seed amount", func(c *config.Config) { c.Vault.Seed[0].Amount = "lots" }},
		{"admin", func(c *config.Config) { c.Admins = []string{"nope"} }},
		{"signer key", func(c *config.Config) { c.Attest.SignerAddress = ""; c.Attest.SignerKey = "zz" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := testConfig(t)
			tt.mutate(&cfg)
			if _, err := New(context.Background(), cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAllowedTokensFromConfig(t *testing.T) {
	cfg, _ := testConfig(t)
	usdc := common.HexToAddress("0x00000000000000000000000000000000000000dc")
	cfg.Tokens = []config.TokenConfig{
		{Address: usdc.Hex(), Symbol: "USDC", Decimals: 6, Allowed: true},
		{Address: "0x00000000000000000000000000000000000000ee", Symbol: "OFF", Allowed: false},
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	tokens := a.Engine().Settings().AllowedTokens
	if len(tokens) != 2 || tokens[0] != ledger.NativeToken || tokens[1] != usdc {
		t.Fatalf("expected native and USDC, got %v", tokens)
	}
}

func TestDigestReportsFailedPayout(t *testing.T) {
	cfg, signer := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	eng := a.Engine()
	if _, err := eng.CreateEscrow(ctx, admin, prize.CreateParams{
		PuzzleID:     puzzle,
		TotalPool:    big.NewInt(100),
		WinnerShares: []uint32{7000, 3000},
	}); err != nil {
		t.Fatal(err)
	}
	if err := eng.ActivateEscrow(ctx, admin, puzzle); err != nil {
		t.Fatal(err)
	}

	a.Vault().Reject(player, true)
	sig, err := signer.Sign(player, puzzle, 9_000, contract)
	if err != nil {
		t.Fatal(err)
	}
	receipt, err := eng.SubmitCompletion(ctx, prize.Claim{PuzzleID: puzzle, User: player, DurationMs: 9_000, Signature: sig})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Paid {
		t.Fatal("expected payout to fail")
	}

	text, err := a.Digest(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Daily Prize Digest",
		"Completions: 1",
		"Transfer Failures: 1",
		"1 ranks await a claim retry.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("digest missing %q:\n%s", want, text)
		}
	}
}

func TestSyncRecordsLastSync(t *testing.T) {
	cfg, _ := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !a.LastSync().IsZero() {
		t.Fatal("expected zero last sync")
	}
	a.sync(context.Background())
	if a.LastSync().IsZero() {
		t.Fatal("expected last sync to be set")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg, _ := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !a.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("app never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	if a.IsRunning() {
		t.Fatal("expected running=false after Run returns")
	}
	a.Shutdown(context.Background())
}

func TestHintInput(t *testing.T) {
	now := time.Unix(2_000_000, 0)
	window := time.Hour
	list := []*ledger.Escrow{
		{
			PuzzleID:    common.HexToHash("0x01"),
			State:       ledger.StateComplete,
			TotalPool:   big.NewInt(10),
			Distributed: big.NewInt(4),
			CompletedAt: now.Add(-2 * time.Hour).Unix(),
		},
		{
			PuzzleID:    common.HexToHash("0x02"),
			State:       ledger.StateComplete,
			TotalPool:   big.NewInt(10),
			Distributed: big.NewInt(4),
			CompletedAt: now.Add(-time.Minute).Unix(),
		},
		{
			PuzzleID:    common.HexToHash("0x03"),
			State:       ledger.StateActive,
			TotalPool:   big.NewInt(10),
			Distributed: big.NewInt(0),
			EndTime:     now.Add(30 * time.Minute).Unix(),
			Completions: []ledger.Completion{{User: player, Rank: 1, Prize: big.NewInt(5)}},
		},
		{
			PuzzleID:    common.HexToHash("0x04"),
			State:       ledger.StateActive,
			TotalPool:   big.NewInt(10),
			Distributed: big.NewInt(0),
		},
	}
	in := hintInput(list, window, now)
	if len(in.RecoverableNow) != 1 || in.RecoverableNow[0] != common.HexToHash("0x01").Hex()[:10] {
		t.Fatalf("unexpected recoverable list %v", in.RecoverableNow)
	}
	if in.UnclaimedRanks != 1 {
		t.Fatalf("expected 1 unclaimed rank, got %d", in.UnclaimedRanks)
	}
	if in.ActiveNoDeadline != 1 {
		t.Fatalf("expected 1 open-ended escrow, got %d", in.ActiveNoDeadline)
	}
	if in.NextDeadlineIn != 30*time.Minute {
		t.Fatalf("expected next deadline in 30m, got %s", in.NextDeadlineIn)
	}
}

func TestNativeCommitments(t *testing.T) {
	usdc := common.HexToAddress("0x00000000000000000000000000000000000000dc")
	ref := common.HexToHash("0xbeef").Hex()
	list := []*ledger.Escrow{
		{
			PuzzleID:    common.HexToHash("0x01"),
			TotalPool:   big.NewInt(100),
			Distributed: big.NewInt(70),
			Completions: []ledger.Completion{
				{User: player, Rank: 1, Prize: big.NewInt(50), Claimed: true, PaidAt: 1, PayoutRef: "0x01"},
				{User: admin, Rank: 2, Prize: big.NewInt(20), Claimed: true, PayoutRef: ref},
			},
		},
		{
			PuzzleID:    common.HexToHash("0x02"),
			TotalPool:   big.NewInt(40),
			Distributed: big.NewInt(0),
		},
		{
			PuzzleID:    common.HexToHash("0x03"),
			TotalPool:   big.NewInt(40),
			Distributed: big.NewInt(0),
			Recovered:   big.NewInt(40),
			RecoveredAt: 1,
		},
		{
			PuzzleID:    common.HexToHash("0x04"),
			Token:       usdc,
			TotalPool:   big.NewInt(500),
			Distributed: big.NewInt(0),
		},
	}
	owed, pending := nativeCommitments(list)
	if owed.Int64() != 70 {
		t.Fatalf("expected 30 + 40 owed, got %s", owed)
	}
	if len(pending) != 1 || pending[ref].Int64() != 20 {
		t.Fatalf("unexpected pending payouts %v", pending)
	}
}

func TestTopReason(t *testing.T) {
	got := topReason(map[string]int{"prize/9": 2, "prize/4": 2, "api/3": 1})
	if got != "prize/4" {
		t.Fatalf("expected prize/4, got %q", got)
	}
	if topReason(nil) != "" {
		t.Fatal("expected empty reason")
	}
}

func TestTimeUntilMidnightUTC(t *testing.T) {
	now := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)
	if got := timeUntilMidnightUTC(now); got != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", got)
	}
}
