package prize

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
)

// Claim is a completion submission with its server-issued attestation.
type Claim struct {
	PuzzleID   common.Hash
	User       common.Address
	DurationMs uint64
	Metadata   ledger.Metadata
	Signature  []byte
}

// Receipt reports the outcome of an accepted completion.
type Receipt struct {
	Completion ledger.Completion `json:"completion"`
	Paid       bool              `json:"paid"`
	Pending    bool              `json:"pending,omitempty"`
	PayoutErr  string            `json:"payout_error,omitempty"`
	Finalized  bool              `json:"finalized"`
}

// SubmitCompletion assigns the next rank to the user and pays it.
//
// The rank, the claim flag and the distributed total are committed in one
// write before the transfer. If the transfer fails the claim is reopened and
// the receipt carries the failure; the rank stays granted and ClaimPrize
// retries the payment. A transfer still awaiting confirmation keeps the claim
// and ClaimPrize confirms it later.
func (e *Engine) SubmitCompletion(ctx context.Context, c Claim) (*Receipt, error) {
	now := e.now()
	verifier, contract := e.attestation()

	var (
		rec       ledger.Completion
		token     common.Address
		finalized bool
	)
	err := e.write(ctx, c.PuzzleID, func(es *ledger.Escrow) error {
		if es.State != ledger.StateActive || es.Full() {
			return ErrNotActive.Wrapf("puzzle %s is %s", c.PuzzleID.Hex(), es.State)
		}
		if es.DeadlinePassed(now.Unix()) {
			return ErrDeadlineElapsed.Wrapf("puzzle %s ended at %d", c.PuzzleID.Hex(), es.EndTime)
		}
		if !verifier.Verify(c.User, c.PuzzleID, c.DurationMs, contract, c.Signature) {
			return ErrInvalidSignature
		}
		if es.CompletionOf(c.User) >= 0 {
			return ErrAlreadyCompleted.Wrapf("user %s", c.User.Hex())
		}

		rank := len(es.Completions) + 1
		rec = ledger.Completion{
			SchemaVersion: ledger.CompletionSchemaVersion,
			User:          c.User,
			Rank:          rank,
			DurationMs:    c.DurationMs,
			CompletedAt:   now.Unix(),
			Metadata:      c.Metadata,
			Prize:         prizeFor(es, rank),
			Claimed:       true,
		}
		if rec.Prize.Sign() == 0 {
			rec.PaidAt = now.Unix()
		}
		es.Completions = append(es.Completions, rec)
		es.Distributed = new(big.Int).Add(es.Distributed, rec.Prize)
		if rank == len(es.WinnerShares) {
			finalize(es, now.Unix())
			finalized = true
		}
		token = es.Token
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := events.New(events.CompletionRecorded, c.PuzzleID, now)
	ev.Actor = c.User
	ev.Rank = rec.Rank
	e.sink.Publish(ctx, ev)
	if finalized {
		done := events.New(events.EscrowFinalized, c.PuzzleID, now)
		done.Detail = "all ranks filled"
		e.sink.Publish(ctx, done)
	}

	receipt := &Receipt{Completion: rec, Finalized: finalized}
	if rec.Prize.Sign() == 0 {
		receipt.Paid = true
		return receipt, nil
	}
	paid, err := e.settle(ctx, c.PuzzleID, token, rec)
	receipt.Completion = paid
	switch {
	case err == nil:
		receipt.Paid = true
	case errors.Is(err, ErrTransferPending):
		receipt.Pending = true
		receipt.PayoutErr = err.Error()
	default:
		receipt.Completion.Claimed = false
		receipt.PayoutErr = err.Error()
	}
	return receipt, nil
}
