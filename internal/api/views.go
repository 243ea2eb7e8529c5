package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
	"github.com/GoPolymarket/puzzle-prizes/internal/prize"
)

// Amounts are decimal strings of token base units.

type completionView struct {
	SchemaVersion int             `json:"schema_version"`
	PuzzleID      string          `json:"puzzle_id,omitempty"`
	User          common.Address  `json:"user"`
	Rank          int             `json:"rank"`
	DurationMs    uint64          `json:"duration_ms"`
	CompletedAt   int64           `json:"completed_at"`
	Metadata      ledger.Metadata `json:"metadata"`
	Prize         string          `json:"prize"`
	Claimed       bool            `json:"claimed"`
	PaidAt        int64           `json:"paid_at,omitempty"`
	PayoutRef     string          `json:"payout_ref,omitempty"`
}

type escrowView struct {
	PuzzleID       common.Hash      `json:"puzzle_id"`
	Token          common.Address   `json:"token"`
	Native         bool             `json:"native"`
	TotalPool      string           `json:"total_pool"`
	WinnerShares   []uint32         `json:"winner_shares"`
	State          string           `json:"state"`
	CreatedBy      common.Address   `json:"created_by"`
	CreatedAt      int64            `json:"created_at"`
	ActivationTime int64            `json:"activation_time"`
	EndTime        int64            `json:"end_time"`
	CompletedAt    int64            `json:"completed_at"`
	Distributed    string           `json:"distributed"`
	Residual       string           `json:"residual"`
	Recovered      string           `json:"recovered,omitempty"`
	RecoveredAt    int64            `json:"recovered_at,omitempty"`
	Completions    []completionView `json:"completions"`
}

type eventView struct {
	ID       string         `json:"id"`
	Kind     events.Kind    `json:"kind"`
	PuzzleID string         `json:"puzzle_id,omitempty"`
	Actor    string         `json:"actor,omitempty"`
	Token    common.Address `json:"token"`
	Amount   string         `json:"amount,omitempty"`
	Rank     int            `json:"rank,omitempty"`
	Detail   string         `json:"detail,omitempty"`
	At       int64          `json:"at"`
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func viewCompletion(puzzle string, c ledger.Completion) completionView {
	return completionView{
		SchemaVersion: c.SchemaVersion,
		PuzzleID:      puzzle,
		User:          c.User,
		Rank:          c.Rank,
		DurationMs:    c.DurationMs,
		CompletedAt:   c.CompletedAt,
		Metadata:      c.Metadata,
		Prize:         amount(c.Prize),
		Claimed:       c.Claimed,
		PaidAt:        c.PaidAt,
		PayoutRef:     c.PayoutRef,
	}
}

func viewCompletions(list []ledger.Completion) []completionView {
	out := make([]completionView, 0, len(list))
	for _, c := range list {
		out = append(out, viewCompletion("", c))
	}
	return out
}

func viewStandings(list []prize.Standing) []completionView {
	out := make([]completionView, 0, len(list))
	for _, s := range list {
		out = append(out, viewCompletion(s.PuzzleID.Hex(), s.Completion))
	}
	return out
}

func viewEscrow(es *ledger.Escrow) escrowView {
	v := escrowView{
		PuzzleID:       es.PuzzleID,
		Token:          es.Token,
		Native:         es.IsNative(),
		TotalPool:      amount(es.TotalPool),
		WinnerShares:   es.WinnerShares,
		State:          es.State.String(),
		CreatedBy:      es.CreatedBy,
		CreatedAt:      es.CreatedAt,
		ActivationTime: es.ActivationTime,
		EndTime:        es.EndTime,
		CompletedAt:    es.CompletedAt,
		Distributed:    amount(es.Distributed),
		Residual:       amount(es.Residual()),
		RecoveredAt:    es.RecoveredAt,
		Completions:    viewCompletions(es.Completions),
	}
	if es.Recovered != nil {
		v.Recovered = es.Recovered.String()
	}
	return v
}

func viewEvent(ev events.Event) eventView {
	v := eventView{
		ID:     ev.ID.String(),
		Kind:   ev.Kind,
		Token:  ev.Token,
		Rank:   ev.Rank,
		Detail: ev.Detail,
		At:     ev.At.Unix(),
	}
	if ev.PuzzleID != (common.Hash{}) {
		v.PuzzleID = ev.PuzzleID.Hex()
	}
	if ev.Actor != (common.Address{}) {
		v.Actor = ev.Actor.Hex()
	}
	if ev.Amount != nil {
		v.Amount = ev.Amount.String()
	}
	return v
}
