package prize

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/GoPolymarket/puzzle-prizes/internal/asset"
	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
)

// CreateParams are the immutable reward terms of a new escrow.
type CreateParams struct {
	PuzzleID     common.Hash
	Token        common.Address
	TotalPool    *big.Int
	WinnerShares []uint32 // basis points per rank
	EndTime      int64    // unix seconds, 0 = no deadline
}

func (e *Engine) validateCreate(p CreateParams, now int64) error {
	if p.PuzzleID == (common.Hash{}) {
		return ErrInvalidParam.Wrap("puzzle id must not be zero")
	}
	if !e.tokenAllowed(p.Token) {
		return ErrTokenNotAllowed.Wrapf("token %s", p.Token.Hex())
	}
	if len(p.WinnerShares) == 0 {
		return ErrEmptyShares
	}
	if max := e.maxWinnerCount(); len(p.WinnerShares) > max {
		return ErrTooManyWinners.Wrapf("%d ranks, max %d", len(p.WinnerShares), max)
	}
	if sum := ledger.ShareSum(p.WinnerShares); sum > ledger.BasisPoints {
		return ErrShareSum.Wrapf("sum is %d", sum)
	}
	if p.TotalPool == nil || p.TotalPool.Sign() <= 0 {
		return ErrZeroPool
	}
	if p.EndTime < 0 || (p.EndTime != 0 && p.EndTime <= now) {
		return ErrInvalidDeadline.Wrapf("end time %d is not in the future", p.EndTime)
	}
	return nil
}

// CreateEscrow locks the pool from caller and stores an Inactive escrow.
// A concurrent create for the same id loses at Store.Create and is refunded.
func (e *Engine) CreateEscrow(ctx context.Context, caller common.Address, p CreateParams) (*ledger.Escrow, error) {
	if err := e.roles.Require(caller); err != nil {
		return nil, err
	}

	now := e.now()
	if err := e.validateCreate(p, now.Unix()); err != nil {
		return nil, err
	}
	if _, err := e.store.Get(ctx, p.PuzzleID); err == nil {
		return nil, ErrEscrowExists.Wrapf("puzzle %s", p.PuzzleID.Hex())
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	es := &ledger.Escrow{
		PuzzleID:     p.PuzzleID,
		Token:        p.Token,
		TotalPool:    new(big.Int).Set(p.TotalPool),
		WinnerShares: append([]uint32(nil), p.WinnerShares...),
		State:        ledger.StateInactive,
		CreatedBy:    caller,
		CreatedAt:    now.Unix(),
		EndTime:      p.EndTime,
		Distributed:  new(big.Int),
	}

	ref, err := e.transferer.Pull(ctx, p.Token, caller, es.TotalPool)
	if errors.Is(err, asset.ErrPending) {
		// No escrow is recorded for an unconfirmed pull.
		log.WithFields(log.Fields{
			"puzzle": p.PuzzleID.Hex(),
			"funder": caller.Hex(),
			"amount": es.TotalPool.String(),
			"ref":    ref,
		}).Error("escrow funding unconfirmed, reconcile the transfer before retrying")
	}
	if err != nil {
		return nil, transferErr(err)
	}
	e.mu.Lock()
	err = e.store.Create(ctx, es)
	e.mu.Unlock()
	if err != nil {
		// Give the pool back; the escrow never existed.
		if _, rerr := e.transferer.Send(context.WithoutCancel(ctx), p.Token, caller, es.TotalPool); rerr != nil {
			log.WithFields(log.Fields{
				"puzzle": p.PuzzleID.Hex(),
				"funder": caller.Hex(),
				"amount": es.TotalPool.String(),
			}).WithError(rerr).Error("refund after failed escrow create")
		}
		return nil, storeErr(p.PuzzleID, err)
	}

	ev := events.New(events.EscrowCreated, p.PuzzleID, now)
	ev.Actor = caller
	ev.Token = p.Token
	ev.Amount = new(big.Int).Set(es.TotalPool)
	ev.Detail = ref
	e.sink.Publish(ctx, ev)
	return es.Clone(), nil
}

// ActivateEscrow opens an Inactive escrow for completions.
func (e *Engine) ActivateEscrow(ctx context.Context, caller common.Address, id common.Hash) error {
	if err := e.roles.Require(caller); err != nil {
		return err
	}
	now := e.now()
	err := e.write(ctx, id, func(es *ledger.Escrow) error {
		if es.State != ledger.StateInactive {
			return ErrInvalidState.Wrapf("puzzle %s is %s", id.Hex(), es.State)
		}
		if es.DeadlinePassed(now.Unix()) {
			return ErrDeadlineElapsed.Wrapf("puzzle %s ended at %d", id.Hex(), es.EndTime)
		}
		es.State = ledger.StateActive
		es.ActivationTime = now.Unix()
		return nil
	})
	if err != nil {
		return err
	}

	ev := events.New(events.EscrowActivated, id, now)
	ev.Actor = caller
	e.sink.Publish(ctx, ev)
	return nil
}

// FinalizeEscrow closes an escrow whose deadline has passed. Escrows whose
// ranks all filled are finalized automatically and are rejected here.
func (e *Engine) FinalizeEscrow(ctx context.Context, caller common.Address, id common.Hash) error {
	if err := e.roles.Require(caller); err != nil {
		return err
	}
	now := e.now()
	err := e.write(ctx, id, func(es *ledger.Escrow) error {
		if es.State == ledger.StateComplete {
			return ErrInvalidState.Wrapf("puzzle %s already complete", id.Hex())
		}
		if !es.DeadlinePassed(now.Unix()) {
			return ErrInvalidState.Wrapf("puzzle %s deadline not reached", id.Hex())
		}
		finalize(es, es.EndTime)
		return nil
	})
	if err != nil {
		return err
	}

	ev := events.New(events.EscrowFinalized, id, now)
	ev.Actor = caller
	ev.Detail = "deadline"
	e.sink.Publish(ctx, ev)
	return nil
}

func finalize(es *ledger.Escrow, at int64) {
	es.State = ledger.StateComplete
	es.CompletedAt = at
}
