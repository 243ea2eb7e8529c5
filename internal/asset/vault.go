package asset

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Vault is an in-process balance book. The custody account holds escrowed
// pools; every other address is an ordinary holder.
type Vault struct {
	mu       sync.Mutex
	custody  common.Address
	sequence int64
	balances map[common.Address]map[common.Address]*big.Int // token -> holder -> balance
	rejects  map[common.Address]bool
}

// NewVault creates a Vault whose escrow custody account is custody.
func NewVault(custody common.Address) *Vault {
	return &Vault{
		custody:  custody,
		balances: make(map[common.Address]map[common.Address]*big.Int),
		rejects:  make(map[common.Address]bool),
	}
}

// Custody is the escrow custody account.
func (v *Vault) Custody() common.Address { return v.custody }

// Deposit credits holder with amount of token.
func (v *Vault) Deposit(token, holder common.Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b := v.balanceLocked(token, holder)
	b.Add(b, amount)
}

// BalanceOf returns holder's balance of token.
func (v *Vault) BalanceOf(token, holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balanceLocked(token, holder))
}

// Reject makes transfers to addr fail, modelling a recipient that refuses funds.
func (v *Vault) Reject(addr common.Address, reject bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if reject {
		v.rejects[addr] = true
	} else {
		delete(v.rejects, addr)
	}
}

func (v *Vault) Pull(_ context.Context, token, from common.Address, amount *big.Int) (string, error) {
	return v.move(token, from, v.custody, amount)
}

func (v *Vault) Send(_ context.Context, token, to common.Address, amount *big.Int) (string, error) {
	return v.move(token, v.custody, to, amount)
}

func (v *Vault) move(token, from, to common.Address, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rejects[to] {
		return "", fmt.Errorf("%w: %s", ErrRejected, to.Hex())
	}
	src := v.balanceLocked(token, from)
	if src.Cmp(amount) < 0 {
		return "", fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), src, amount)
	}
	src.Sub(src, amount)
	dst := v.balanceLocked(token, to)
	dst.Add(dst, amount)
	v.sequence++
	return fmt.Sprintf("vault-%d", v.sequence), nil
}

// balanceLocked returns the live balance pointer. Caller must hold v.mu.
func (v *Vault) balanceLocked(token, holder common.Address) *big.Int {
	byHolder, ok := v.balances[token]
	if !ok {
		byHolder = make(map[common.Address]*big.Int)
		v.balances[token] = byHolder
	}
	b, ok := byHolder[holder]
	if !ok {
		b = new(big.Int)
		byHolder[holder] = b
	}
	return b
}
