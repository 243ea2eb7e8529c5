package ledger

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Runs against a real database when PRIZES_TEST_DATABASE_URL is set.
func newTestPGStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("PRIZES_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRIZES_TEST_DATABASE_URL not set")
	}
	s, err := NewPGStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPGStoreRoundTrip(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()
	e := testEscrow(0)
	id := uuid.New()
	e.PuzzleID = common.BytesToHash(id[:])
	if err := s.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, e); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	err := s.Update(ctx, e.PuzzleID, func(es *Escrow) error {
		es.State = StateActive
		es.Completions = append(es.Completions, Completion{
			SchemaVersion: CompletionSchemaVersion,
			User:          common.HexToAddress("0x01"),
			Rank:          1,
			DurationMs:    1200,
			Prize:         big.NewInt(6),
			Claimed:       true,
			Metadata:      Metadata{DisplayName: "ada"},
		})
		es.Distributed = big.NewInt(6)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, e.PuzzleID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateActive || len(got.Completions) != 1 || got.Distributed.Int64() != 6 {
		t.Fatalf("unexpected escrow %+v", got)
	}
	if got.Completions[0].Metadata.DisplayName != "ada" || got.Completions[0].Prize.Int64() != 6 {
		t.Fatalf("unexpected completion %+v", got.Completions[0])
	}
}

func TestPGStoreRejectedUpdateLeavesNoTrace(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()
	e := testEscrow(0)
	id := uuid.New()
	e.PuzzleID = common.BytesToHash(id[:])
	if err := s.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := s.Update(ctx, e.PuzzleID, func(es *Escrow) error {
		es.State = StateComplete
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := s.Get(ctx, e.PuzzleID)
	if got.State != StateInactive {
		t.Fatalf("rejected update persisted state %s", got.State)
	}
}
