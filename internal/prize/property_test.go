package prize

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
)

// TestPayoutProperties drives random submissions, failing recipients and
// retries against one escrow and checks conservation, exactly-once ranks and
// no double payment.
func TestPayoutProperties(t *testing.T) {
	users := make([]common.Address, 8)
	for i := range users {
		users[i] = common.BigToAddress(big.NewInt(int64(0x100 + i)))
	}

	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()

		ranks := rapid.IntRange(1, 6).Draw(t, "ranks")
		shares := make([]uint32, ranks)
		left := uint32(ledger.BasisPoints)
		for i := range shares {
			shares[i] = rapid.Uint32Range(0, left).Draw(t, "share")
			left -= shares[i]
		}
		pool := rapid.Int64Range(1, 1_000_000).Draw(t, "pool")
		f.create(t, puzzleX, pool, shares, 0)

		submitted := map[common.Address]bool{}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			u := users[rapid.IntRange(0, len(users)-1).Draw(t, "user")]
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				_, err := f.submit(t, puzzleX, u, 1000)
				switch {
				case err == nil:
					if submitted[u] {
						t.Fatalf("%s accepted twice", u.Hex())
					}
					submitted[u] = true
				case errors.Is(err, ErrAlreadyCompleted):
					if !submitted[u] {
						t.Fatalf("%s rejected as duplicate before submitting", u.Hex())
					}
				case errors.Is(err, ErrNotActive):
					if len(submitted) != ranks {
						t.Fatalf("not active with %d of %d ranks filled", len(submitted), ranks)
					}
				default:
					t.Fatalf("submit: %v", err)
				}
			case 1:
				f.vault.Reject(u, rapid.Bool().Draw(t, "reject"))
			case 2:
				_, err := f.eng.ClaimPrize(ctx, puzzleX, u)
				if err != nil && !errors.Is(err, ErrAlreadyClaimed) && !errors.Is(err, ErrNoCompletion) && !errors.Is(err, ErrTransferFailed) {
					t.Fatalf("claim: %v", err)
				}
			}
		}

		es, err := f.eng.EscrowDetails(ctx, puzzleX)
		if err != nil {
			t.Fatal(err)
		}
		paid := new(big.Int)
		for i, c := range es.Completions {
			if c.Rank != i+1 {
				t.Fatalf("completion %d has rank %d", i, c.Rank)
			}
			got := f.vault.BalanceOf(ledger.NativeToken, c.User)
			want := new(big.Int)
			if c.Claimed {
				want.Set(c.Prize)
			}
			if got.Cmp(want) != 0 {
				t.Fatalf("rank %d: balance %s, claimed=%t prize %s", c.Rank, got, c.Claimed, c.Prize)
			}
			paid.Add(paid, got)
		}
		if paid.Cmp(es.Distributed) != 0 {
			t.Fatalf("paid %s, ledger says %s", paid, es.Distributed)
		}
		if paid.Cmp(es.TotalPool) > 0 {
			t.Fatalf("paid %s exceeds pool %s", paid, es.TotalPool)
		}
		custodyHeld := f.vault.BalanceOf(ledger.NativeToken, custody)
		if sum := new(big.Int).Add(custodyHeld, paid); sum.Cmp(es.TotalPool) != 0 {
			t.Fatalf("custody %s + paid %s != pool %s", custodyHeld, paid, es.TotalPool)
		}
	})
}
