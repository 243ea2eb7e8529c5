package prize

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace of prize engine errors.
const Codespace = "prize"

// Prize engine sentinel errors. Every rejection aborts the call with no
// state change.
var (
	ErrEscrowNotFound   = errorsmod.Register(Codespace, 2, "escrow not found")
	ErrEscrowExists     = errorsmod.Register(Codespace, 3, "escrow already exists")
	ErrInvalidState     = errorsmod.Register(Codespace, 4, "invalid escrow state")
	ErrNotActive        = errorsmod.Register(Codespace, 5, "puzzle not active")
	ErrAlreadyCompleted = errorsmod.Register(Codespace, 6, "already completed by user")
	ErrInvalidSignature = errorsmod.Register(Codespace, 7, "invalid signature")
	ErrDeadlineElapsed  = errorsmod.Register(Codespace, 8, "deadline elapsed")
	ErrAlreadyClaimed   = errorsmod.Register(Codespace, 9, "already claimed")
	ErrNoCompletion     = errorsmod.Register(Codespace, 10, "no completion for user")
	ErrShareSum         = errorsmod.Register(Codespace, 11, "winner shares exceed 10000 basis points")
	ErrTokenNotAllowed  = errorsmod.Register(Codespace, 12, "token not allowed")
	ErrEmptyShares      = errorsmod.Register(Codespace, 13, "winner shares empty")
	ErrTooManyWinners   = errorsmod.Register(Codespace, 14, "too many winners")
	ErrZeroPool         = errorsmod.Register(Codespace, 15, "pool must be positive")
	ErrRecoveryWindow   = errorsmod.Register(Codespace, 16, "recovery window not elapsed")
	ErrRecovered        = errorsmod.Register(Codespace, 17, "unclaimed funds already recovered")
	ErrInvalidDeadline  = errorsmod.Register(Codespace, 18, "invalid deadline")
	ErrTransferFailed   = errorsmod.Register(Codespace, 19, "transfer failed")
	ErrInvalidParam     = errorsmod.Register(Codespace, 20, "invalid parameter")
	ErrTransferPending  = errorsmod.Register(Codespace, 21, "transfer pending confirmation")
)
