package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound = errors.New("escrow not found")
	ErrExists   = errors.New("escrow already exists")
)

// Store persists escrow records keyed by puzzle id.
//
// Update hands fn a private copy of the record; the copy is written back
// only when fn returns nil, so a rejected mutation leaves no trace.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id common.Hash) (*Escrow, error)
	Update(ctx context.Context, id common.Hash, fn func(*Escrow) error) error
	List(ctx context.Context) ([]*Escrow, error)
	Close() error
}
