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

// settle pays a completion whose claim is already committed. On transfer
// failure the claim is reopened so ClaimPrize can retry it. A transfer that
// was submitted but not confirmed keeps the claim and records its ref.
func (e *Engine) settle(ctx context.Context, id common.Hash, token common.Address, rec ledger.Completion) (ledger.Completion, error) {
	ref, err := e.transferer.Send(ctx, token, rec.User, rec.Prize)
	switch {
	case errors.Is(err, asset.ErrPending):
		return e.holdPending(ctx, id, token, rec, ref, err)
	case err != nil:
		e.reopen(ctx, id, token, rec, err)
		return rec, transferErr(err)
	}
	return e.markPaid(ctx, id, token, rec, ref)
}

// reopen undoes a claim whose transfer failed with nothing moved.
func (e *Engine) reopen(ctx context.Context, id common.Hash, token common.Address, rec ledger.Completion, cause error) {
	// The undo must land even when the caller has gone away.
	if err := e.write(context.WithoutCancel(ctx), id, func(es *ledger.Escrow) error {
		i := es.CompletionOf(rec.User)
		if i < 0 {
			return ErrNoCompletion.Wrapf("user %s", rec.User.Hex())
		}
		c := &es.Completions[i]
		if !c.Claimed || c.PaidAt != 0 {
			return ErrAlreadyClaimed.Wrapf("user %s rank %d", rec.User.Hex(), c.Rank)
		}
		c.Claimed = false
		c.PayoutRef = ""
		es.Distributed = new(big.Int).Sub(es.Distributed, c.Prize)
		return nil
	}); err != nil {
		e.logTransferBookkeeping(id, rec.User, err)
	}
	ev := events.New(events.PrizeTransferFailed, id, e.now())
	ev.Actor = rec.User
	ev.Token = token
	ev.Amount = new(big.Int).Set(rec.Prize)
	ev.Rank = rec.Rank
	ev.Detail = cause.Error()
	e.sink.Publish(ctx, ev)
}

// holdPending keeps the claim of a submitted transfer and stores its ref so
// ClaimPrize confirms it instead of paying again.
func (e *Engine) holdPending(ctx context.Context, id common.Hash, token common.Address, rec ledger.Completion, ref string, cause error) (ledger.Completion, error) {
	rec.PayoutRef = ref
	if err := e.write(context.WithoutCancel(ctx), id, func(es *ledger.Escrow) error {
		i := es.CompletionOf(rec.User)
		if i < 0 {
			return ErrNoCompletion.Wrapf("user %s", rec.User.Hex())
		}
		es.Completions[i].PayoutRef = ref
		return nil
	}); err != nil {
		e.logTransferBookkeeping(id, rec.User, err)
	}
	ev := events.New(events.PrizeTransferPending, id, e.now())
	ev.Actor = rec.User
	ev.Token = token
	ev.Amount = new(big.Int).Set(rec.Prize)
	ev.Rank = rec.Rank
	ev.Detail = ref
	e.sink.Publish(ctx, ev)
	return rec, ErrTransferPending.Wrapf("%v", cause)
}

// markPaid records a confirmed transfer. It publishes PrizeDistributed once
// per completion.
func (e *Engine) markPaid(ctx context.Context, id common.Hash, token common.Address, rec ledger.Completion, ref string) (ledger.Completion, error) {
	now := e.now()
	rec.PaidAt = now.Unix()
	rec.PayoutRef = ref
	seen := false
	if err := e.write(context.WithoutCancel(ctx), id, func(es *ledger.Escrow) error {
		i := es.CompletionOf(rec.User)
		if i < 0 {
			return ErrNoCompletion.Wrapf("user %s", rec.User.Hex())
		}
		c := &es.Completions[i]
		if c.PaidAt != 0 {
			rec.PaidAt = c.PaidAt
			seen = true
			return nil
		}
		c.PaidAt = rec.PaidAt
		c.PayoutRef = ref
		return nil
	}); err != nil {
		// Funds moved and the claim flag is set; only the receipt fields are lost.
		e.logTransferBookkeeping(id, rec.User, err)
	}
	if seen {
		return rec, nil
	}

	ev := events.New(events.PrizeDistributed, id, now)
	ev.Actor = rec.User
	ev.Token = token
	ev.Amount = new(big.Int).Set(rec.Prize)
	ev.Rank = rec.Rank
	ev.Detail = ref
	e.sink.Publish(ctx, ev)
	return rec, nil
}

// awaitingConfirmation reports a claim whose transfer was submitted but not
// yet confirmed.
func awaitingConfirmation(c ledger.Completion) bool {
	return c.Claimed && c.PaidAt == 0 && c.PayoutRef != ""
}

// ClaimPrize retries the payment of a completion whose automatic transfer
// failed, or confirms one still pending. It never pays a rank twice.
func (e *Engine) ClaimPrize(ctx context.Context, id common.Hash, user common.Address) (*ledger.Completion, error) {
	var (
		rec     ledger.Completion
		token   common.Address
		pending bool
	)
	err := e.write(ctx, id, func(es *ledger.Escrow) error {
		i := es.CompletionOf(user)
		if es.RecoveredAt != 0 && (i < 0 || !awaitingConfirmation(es.Completions[i])) {
			return ErrRecovered.Wrapf("puzzle %s", id.Hex())
		}
		if i < 0 {
			return ErrNoCompletion.Wrapf("user %s", user.Hex())
		}
		c := &es.Completions[i]
		switch {
		case awaitingConfirmation(*c):
			pending = true
		case c.Claimed:
			return ErrAlreadyClaimed.Wrapf("user %s rank %d", user.Hex(), c.Rank)
		default:
			c.Claimed = true
			es.Distributed = new(big.Int).Add(es.Distributed, c.Prize)
		}
		rec = *c
		rec.Prize = new(big.Int).Set(c.Prize)
		token = es.Token
		return nil
	})
	if err != nil {
		return nil, err
	}
	var paid ledger.Completion
	if pending {
		paid, err = e.confirmPending(ctx, id, token, rec)
	} else {
		paid, err = e.settle(ctx, id, token, rec)
	}
	if err != nil {
		return nil, err
	}
	return &paid, nil
}

// confirmPending resolves a submitted transfer. A confirmed one is recorded
// as paid; a rejected one is sent again by exactly one caller.
func (e *Engine) confirmPending(ctx context.Context, id common.Hash, token common.Address, rec ledger.Completion) (ledger.Completion, error) {
	ref := rec.PayoutRef
	confirmer, ok := e.transferer.(asset.Confirmer)
	if !ok {
		return rec, ErrTransferPending.Wrapf("transfer %s", ref)
	}
	err := confirmer.Confirm(ctx, ref)
	switch {
	case err == nil:
		return e.markPaid(ctx, id, token, rec, ref)
	case !errors.Is(err, asset.ErrRejected):
		return rec, ErrTransferPending.Wrapf("%v", err)
	}

	if err := e.write(ctx, id, func(es *ledger.Escrow) error {
		i := es.CompletionOf(rec.User)
		if i < 0 {
			return ErrNoCompletion.Wrapf("user %s", rec.User.Hex())
		}
		c := &es.Completions[i]
		if !awaitingConfirmation(*c) || c.PayoutRef != ref {
			return ErrAlreadyClaimed.Wrapf("user %s rank %d", rec.User.Hex(), c.Rank)
		}
		c.PayoutRef = ""
		return nil
	}); err != nil {
		return rec, err
	}
	log.WithFields(log.Fields{
		"puzzle": id.Hex(),
		"user":   rec.User.Hex(),
		"ref":    ref,
	}).Warn("pending prize transfer rejected, sending again")
	rec.PayoutRef = ""
	return e.settle(ctx, id, token, rec)
}

// RecoverUnclaimed sweeps the residual pool to the recovery address once the
// recovery window has elapsed since finalization. An Active escrow past its
// deadline is finalized in the same write.
func (e *Engine) RecoverUnclaimed(ctx context.Context, caller common.Address, id common.Hash) (*big.Int, error) {
	if err := e.roles.Require(caller); err != nil {
		return nil, err
	}
	window, to := e.recoveryPolicy()
	if to == (common.Address{}) {
		to = caller
	}

	now := e.now()
	var (
		amount    *big.Int
		token     common.Address
		finalized bool
	)
	err := e.write(ctx, id, func(es *ledger.Escrow) error {
		if es.RecoveredAt != 0 {
			return ErrRecovered.Wrapf("puzzle %s", id.Hex())
		}
		if es.State != ledger.StateComplete {
			if !es.DeadlinePassed(now.Unix()) {
				return ErrInvalidState.Wrapf("puzzle %s is %s", id.Hex(), es.State)
			}
			finalize(es, es.EndTime)
			finalized = true
		}
		if ready := es.CompletedAt + int64(window.Seconds()); now.Unix() < ready {
			return ErrRecoveryWindow.Wrapf("puzzle %s recoverable at %d", id.Hex(), ready)
		}
		amount = es.Residual()
		es.Recovered = new(big.Int).Set(amount)
		es.RecoveredAt = now.Unix()
		token = es.Token
		return nil
	})
	if err != nil {
		return nil, err
	}

	ref := ""
	if amount.Sign() > 0 {
		ref, err = e.transferer.Send(ctx, token, to, amount)
		if errors.Is(err, asset.ErrPending) {
			// The sweep is on its way; keep the escrow marked recovered.
			log.WithFields(log.Fields{
				"puzzle": id.Hex(),
				"to":     to.Hex(),
				"ref":    ref,
			}).WithError(err).Warn("recovery transfer pending")
			err = nil
		}
		if err != nil {
			if rerr := e.write(context.WithoutCancel(ctx), id, func(es *ledger.Escrow) error {
				es.Recovered = nil
				es.RecoveredAt = 0
				return nil
			}); rerr != nil {
				e.logTransferBookkeeping(id, to, rerr)
			}
			return nil, transferErr(err)
		}
	}

	if finalized {
		done := events.New(events.EscrowFinalized, id, now)
		done.Actor = caller
		done.Detail = "deadline"
		e.sink.Publish(ctx, done)
	}
	ev := events.New(events.UnclaimedRecovered, id, now)
	ev.Actor = to
	ev.Token = token
	ev.Amount = new(big.Int).Set(amount)
	ev.Detail = ref
	e.sink.Publish(ctx, ev)
	return amount, nil
}
