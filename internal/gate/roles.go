package gate

import (
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
)

const codespace = "gate"

var (
	ErrNotAuthorized = errorsmod.Register(codespace, 2, "not authorized")
	ErrLastAdmin     = errorsmod.Register(codespace, 3, "cannot revoke the last admin")
	ErrInvalidMember = errorsmod.Register(codespace, 4, "invalid admin address")
)

// Authorizer is the capability check run at the top of every gated operation.
type Authorizer interface {
	Require(caller common.Address) error
}

// Roles is the admin membership set.
type Roles struct {
	mu     sync.RWMutex
	admins map[common.Address]struct{}
}

// New creates a Roles set seeded with admins. Zero addresses are ignored.
func New(admins ...common.Address) *Roles {
	r := &Roles{admins: make(map[common.Address]struct{}, len(admins))}
	for _, a := range admins {
		if a != (common.Address{}) {
			r.admins[a] = struct{}{}
		}
	}
	return r
}

// Require rejects callers that are not admins.
func (r *Roles) Require(caller common.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.admins[caller]; !ok {
		return ErrNotAuthorized.Wrapf("%s is not an admin", caller.Hex())
	}
	return nil
}

// IsAdmin reports membership.
func (r *Roles) IsAdmin(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[addr]
	return ok
}

// Grant adds who to the admin set. caller must be an admin.
func (r *Roles) Grant(caller, who common.Address) error {
	if who == (common.Address{}) {
		return ErrInvalidMember
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.admins[caller]; !ok {
		return ErrNotAuthorized.Wrapf("%s is not an admin", caller.Hex())
	}
	r.admins[who] = struct{}{}
	return nil
}

// Revoke removes who from the admin set. caller must be an admin and at
// least one admin must remain.
func (r *Roles) Revoke(caller, who common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.admins[caller]; !ok {
		return ErrNotAuthorized.Wrapf("%s is not an admin", caller.Hex())
	}
	if _, ok := r.admins[who]; !ok {
		return nil
	}
	if len(r.admins) == 1 {
		return ErrLastAdmin
	}
	delete(r.admins, who)
	return nil
}

// Members returns the admin set sorted by address.
func (r *Roles) Members() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.admins))
	for a := range r.admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
