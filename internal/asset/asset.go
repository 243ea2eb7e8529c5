// Package asset moves prize value in and out of escrow custody.
package asset

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejected          = errors.New("recipient rejected transfer")
	ErrInvalidAmount     = errors.New("invalid amount")
	// ErrPending reports a transfer that was submitted but not yet confirmed.
	// The accompanying ref identifies it; value may still move.
	ErrPending = errors.New("transfer pending")
)

// Transferer is the asset transfer primitive used by the prize engine.
// Each call either fully succeeds, returns ErrPending with the ref of a
// submitted transfer, or returns another error with nothing moved.
// The returned ref identifies the transfer (a tx hash on chain).
type Transferer interface {
	// Pull locks amount of token from the funder into escrow custody.
	Pull(ctx context.Context, token, from common.Address, amount *big.Int) (ref string, err error)
	// Send pays amount of token from escrow custody to the recipient.
	Send(ctx context.Context, token, to common.Address, amount *big.Int) (ref string, err error)
}

// Confirmer resolves a transfer previously reported as ErrPending. Confirm
// returns nil once it succeeded, ErrPending while unresolved, and ErrRejected
// if it failed with nothing moved.
type Confirmer interface {
	Confirm(ctx context.Context, ref string) error
}
