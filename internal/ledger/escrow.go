package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the token sentinel for the chain's native coin.
var NativeToken = common.Address{}

// BasisPoints is the denominator for winner shares.
const BasisPoints = 10000

// CompletionSchemaVersion is written into every new Completion.
const CompletionSchemaVersion = 1

// State is the lifecycle position of an escrow.
type State uint8

const (
	StateInactive State = iota
	StateActive
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive":
		return StateInactive, nil
	case "active":
		return StateActive, nil
	case "complete":
		return StateComplete, nil
	default:
		return 0, fmt.Errorf("unknown escrow state %q", s)
	}
}

// Metadata is opaque profile data attached to a completion.
type Metadata struct {
	DisplayName string `json:"display_name,omitempty"`
	Username    string `json:"username,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Completion is one ranked finish. Rank is 1-based.
type Completion struct {
	SchemaVersion int            `json:"schema_version"`
	User          common.Address `json:"user"`
	Rank          int            `json:"rank"`
	DurationMs    uint64         `json:"duration_ms"`
	CompletedAt   int64          `json:"completed_at"`
	Metadata      Metadata       `json:"metadata"`
	Prize         *big.Int       `json:"prize"`
	Claimed       bool           `json:"claimed"`
	PaidAt        int64          `json:"paid_at,omitempty"`
	PayoutRef     string         `json:"payout_ref,omitempty"`
}

// Escrow locks a prize pool against a puzzle id.
type Escrow struct {
	PuzzleID       common.Hash    `json:"puzzle_id"`
	Token          common.Address `json:"token"`
	TotalPool      *big.Int       `json:"total_pool"`
	WinnerShares   []uint32       `json:"winner_shares"`
	State          State          `json:"state"`
	CreatedBy      common.Address `json:"created_by"`
	CreatedAt      int64          `json:"created_at"`
	ActivationTime int64          `json:"activation_time"`
	EndTime        int64          `json:"end_time"`
	CompletedAt    int64          `json:"completed_at"`
	Completions    []Completion   `json:"completions"`
	Distributed    *big.Int       `json:"distributed"`
	Recovered      *big.Int       `json:"recovered,omitempty"`
	RecoveredAt    int64          `json:"recovered_at,omitempty"`
}

// IsNative reports whether the escrow pays in the native coin.
func (e *Escrow) IsNative() bool { return e.Token == NativeToken }

// MaxWinners is the number of ranks the escrow pays.
func (e *Escrow) MaxWinners() int { return len(e.WinnerShares) }

// Full reports whether every rank has been assigned.
func (e *Escrow) Full() bool { return len(e.Completions) >= len(e.WinnerShares) }

// DeadlinePassed reports whether the escrow has a deadline at or before now.
func (e *Escrow) DeadlinePassed(now int64) bool {
	return e.EndTime != 0 && now >= e.EndTime
}

// CompletionOf returns the index of user's completion, or -1.
func (e *Escrow) CompletionOf(user common.Address) int {
	for i := range e.Completions {
		if e.Completions[i].User == user {
			return i
		}
	}
	return -1
}

// Residual is the pool value neither paid out nor recovered.
func (e *Escrow) Residual() *big.Int {
	out := new(big.Int).Set(e.TotalPool)
	if e.Distributed != nil {
		out.Sub(out, e.Distributed)
	}
	if e.Recovered != nil {
		out.Sub(out, e.Recovered)
	}
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

// ShareSum returns the sum of WinnerShares in basis points.
func ShareSum(shares []uint32) uint64 {
	var sum uint64
	for _, s := range shares {
		sum += uint64(s)
	}
	return sum
}

// Clone returns a deep copy.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	cp := *e
	cp.TotalPool = cloneInt(e.TotalPool)
	cp.Distributed = cloneInt(e.Distributed)
	cp.Recovered = cloneInt(e.Recovered)
	cp.WinnerShares = append([]uint32(nil), e.WinnerShares...)
	if e.Completions != nil {
		cp.Completions = make([]Completion, len(e.Completions))
		for i, c := range e.Completions {
			c.Prize = cloneInt(c.Prize)
			cp.Completions[i] = c
		}
	}
	return &cp
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
