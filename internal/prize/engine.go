// Package prize is the puzzle prize ranking and distribution engine.
//
// Ledger writes are serialized by the engine and are all-or-nothing against
// the store. The only external effect, the asset transfer, runs outside the
// engine lock and after the claim has been committed, so a transfer that
// calls back into the engine sees the claim and can never be paid twice.
package prize

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/GoPolymarket/puzzle-prizes/internal/asset"
	"github.com/GoPolymarket/puzzle-prizes/internal/attest"
	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/gate"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
)

// DefaultRecoveryWindow is the wait after finalization before unclaimed funds can be swept.
const DefaultRecoveryWindow = 30 * 24 * time.Hour

// Roles is the admin capability consumed by the engine.
type Roles interface {
	gate.Authorizer
	Grant(caller, who common.Address) error
	Revoke(caller, who common.Address) error
	Members() []common.Address
}

// Config seeds the engine's admin-controlled settings.
type Config struct {
	Contract        common.Address   // bound into every attestation
	Signer          common.Address   // trusted attestation signer
	AllowedTokens   []common.Address // the native coin is always allowed
	MaxWinners      int
	RecoveryWindow  time.Duration
	RecoveryAddress common.Address // zero sends recoveries to the calling admin
}

// Settings is a snapshot of the current engine configuration.
type Settings struct {
	Contract        common.Address   `json:"contract"`
	Signer          common.Address   `json:"signer"`
	AllowedTokens   []common.Address `json:"allowed_tokens"`
	MaxWinners      int              `json:"max_winners"`
	RecoveryWindow  time.Duration    `json:"recovery_window"`
	RecoveryAddress common.Address   `json:"recovery_address"`
	Admins          []common.Address `json:"admins"`
}

// Engine coordinates the ledger, verifier, role gate and transfers.
type Engine struct {
	mu sync.Mutex // serializes ledger writes; never held across a transfer

	store      ledger.Store
	roles      Roles
	transferer asset.Transferer
	sink       events.Sink
	now        func() time.Time

	cfgMu           sync.RWMutex
	contract        common.Address
	verifier        *attest.Verifier
	allowed         map[common.Address]bool
	maxWinners      int
	recoveryWindow  time.Duration
	recoveryAddress common.Address
}

// New creates an Engine. A nil sink discards events.
func New(cfg Config, store ledger.Store, roles Roles, transferer asset.Transferer, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Multi{}
	}
	maxWinners := cfg.MaxWinners
	if maxWinners <= 0 {
		maxWinners = 10
	}
	window := cfg.RecoveryWindow
	if window <= 0 {
		window = DefaultRecoveryWindow
	}
	allowed := map[common.Address]bool{ledger.NativeToken: true}
	for _, t := range cfg.AllowedTokens {
		allowed[t] = true
	}
	return &Engine{
		store:           store,
		roles:           roles,
		transferer:      transferer,
		sink:            sink,
		now:             time.Now,
		contract:        cfg.Contract,
		verifier:        attest.NewVerifier(cfg.Signer),
		allowed:         allowed,
		maxWinners:      maxWinners,
		recoveryWindow:  window,
		recoveryAddress: cfg.RecoveryAddress,
	}
}

// Settings returns the current configuration.
func (e *Engine) Settings() Settings {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	tokens := make([]common.Address, 0, len(e.allowed))
	for t, ok := range e.allowed {
		if ok {
			tokens = append(tokens, t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Cmp(tokens[j]) < 0 })
	return Settings{
		Contract:        e.contract,
		Signer:          e.verifier.Signer(),
		AllowedTokens:   tokens,
		MaxWinners:      e.maxWinners,
		RecoveryWindow:  e.recoveryWindow,
		RecoveryAddress: e.recoveryAddress,
		Admins:          e.roles.Members(),
	}
}

// SetTokenAllowed adds or removes a token from the allowlist.
func (e *Engine) SetTokenAllowed(ctx context.Context, caller, token common.Address, allowed bool) error {
	if err := e.roles.Require(caller); err != nil {
		return err
	}
	e.cfgMu.Lock()
	if allowed {
		e.allowed[token] = true
	} else {
		delete(e.allowed, token)
	}
	e.cfgMu.Unlock()
	e.configChanged(ctx, caller, fmt.Sprintf("token %s allowed=%t", token.Hex(), allowed))
	return nil
}

// SetMaxWinners changes the rank limit for escrows created afterwards.
func (e *Engine) SetMaxWinners(ctx context.Context, caller common.Address, n int) error {
	if err := e.roles.Require(caller); err != nil {
		return err
	}
	if n <= 0 {
		return ErrInvalidParam.Wrapf("max winners must be > 0, got %d", n)
	}
	e.cfgMu.Lock()
	e.maxWinners = n
	e.cfgMu.Unlock()
	e.configChanged(ctx, caller, fmt.Sprintf("max_winners=%d", n))
	return nil
}

// SetRecoveryWindow changes the delay before unclaimed funds can be swept.
func (e *Engine) SetRecoveryWindow(ctx context.Context, caller common.Address, d time.Duration) error {
	if err := e.roles.Require(caller); err != nil {
		return err
	}
	if d <= 0 {
		return ErrInvalidParam.Wrapf("recovery window must be > 0, got %s", d)
	}
	e.cfgMu.Lock()
	e.recoveryWindow = d
	e.cfgMu.Unlock()
	e.configChanged(ctx, caller, fmt.Sprintf("recovery_window=%s", d))
	return nil
}

// SetSigner rotates the trusted attestation signer.
func (e *Engine) SetSigner(ctx context.Context, caller, signer common.Address) error {
	if err := e.roles.Require(caller); err != nil {
		return err
	}
	if signer == (common.Address{}) {
		return ErrInvalidParam.Wrap("signer must not be the zero address")
	}
	e.cfgMu.Lock()
	e.verifier = attest.NewVerifier(signer)
	e.cfgMu.Unlock()
	e.configChanged(ctx, caller, "signer="+signer.Hex())
	return nil
}

// SetRecoveryAddress sets where recovered funds are sent.
func (e *Engine) SetRecoveryAddress(ctx context.Context, caller, addr common.Address) error {
	if err := e.roles.Require(caller); err != nil {
		return err
	}
	e.cfgMu.Lock()
	e.recoveryAddress = addr
	e.cfgMu.Unlock()
	e.configChanged(ctx, caller, "recovery_address="+addr.Hex())
	return nil
}

// GrantAdmin adds an admin.
func (e *Engine) GrantAdmin(ctx context.Context, caller, who common.Address) error {
	if err := e.roles.Grant(caller, who); err != nil {
		return err
	}
	e.configChanged(ctx, caller, "grant admin "+who.Hex())
	return nil
}

// RevokeAdmin removes an admin.
func (e *Engine) RevokeAdmin(ctx context.Context, caller, who common.Address) error {
	if err := e.roles.Revoke(caller, who); err != nil {
		return err
	}
	e.configChanged(ctx, caller, "revoke admin "+who.Hex())
	return nil
}

func (e *Engine) configChanged(ctx context.Context, caller common.Address, detail string) {
	ev := events.New(events.ConfigChanged, common.Hash{}, e.now())
	ev.Actor = caller
	ev.Detail = detail
	e.sink.Publish(ctx, ev)
}

func (e *Engine) tokenAllowed(token common.Address) bool {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.allowed[token]
}

func (e *Engine) attestation() (*attest.Verifier, common.Address) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.verifier, e.contract
}

func (e *Engine) recoveryPolicy() (time.Duration, common.Address) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.recoveryWindow, e.recoveryAddress
}

func (e *Engine) maxWinnerCount() int {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.maxWinners
}

// write applies fn to the escrow under the engine lock.
func (e *Engine) write(ctx context.Context, id common.Hash, fn func(*ledger.Escrow) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return storeErr(id, e.store.Update(ctx, id, fn))
}

// prizeFor is the rank's floor share of the pool.
func prizeFor(es *ledger.Escrow, rank int) *big.Int {
	if rank < 1 || rank > len(es.WinnerShares) {
		return new(big.Int)
	}
	amount := new(big.Int).Mul(es.TotalPool, big.NewInt(int64(es.WinnerShares[rank-1])))
	return amount.Div(amount, big.NewInt(ledger.BasisPoints))
}

// storeErr maps ledger errors onto the engine's registry.
func storeErr(id common.Hash, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrNotFound):
		return ErrEscrowNotFound.Wrapf("puzzle %s", id.Hex())
	case errors.Is(err, ledger.ErrExists):
		return ErrEscrowExists.Wrapf("puzzle %s", id.Hex())
	}
	return err
}

func (e *Engine) logTransferBookkeeping(id common.Hash, user common.Address, err error) {
	log.WithFields(log.Fields{
		"puzzle": id.Hex(),
		"user":   user.Hex(),
	}).WithError(err).Error("prize bookkeeping after transfer failed")
}

// transferErr wraps a transfer failure keeping the cause in the message.
func transferErr(err error) error {
	return errorsmod.Wrap(ErrTransferFailed, err.Error())
}
