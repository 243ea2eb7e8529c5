// Package events carries the prize engine's outbound notifications.
package events

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Kind string

const (
	EscrowCreated        Kind = "escrow_created"
	EscrowActivated      Kind = "escrow_activated"
	CompletionRecorded   Kind = "completion_recorded"
	PrizeDistributed     Kind = "prize_distributed"
	PrizeTransferFailed  Kind = "prize_transfer_failed"
	PrizeTransferPending Kind = "prize_transfer_pending"
	EscrowFinalized      Kind = "escrow_finalized"
	UnclaimedRecovered   Kind = "unclaimed_recovered"
	ConfigChanged        Kind = "config_changed"
)

// Event is one indexed notification.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Kind     Kind           `json:"kind"`
	PuzzleID common.Hash    `json:"puzzle_id,omitempty"`
	Actor    common.Address `json:"actor,omitempty"`
	Token    common.Address `json:"token,omitempty"`
	Amount   *big.Int       `json:"amount,omitempty"`
	Rank     int            `json:"rank,omitempty"`
	Detail   string         `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}

// New stamps a fresh event.
func New(kind Kind, puzzleID common.Hash, at time.Time) Event {
	return Event{ID: uuid.New(), Kind: kind, PuzzleID: puzzleID, At: at}
}

// Sink receives events. Implementations must not block for long.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Multi fans out to every sink.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// Journal keeps the most recent events for indexers polling the API.
type Journal struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewJournal keeps at most limit events (default 1000).
func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = 1000
	}
	return &Journal{limit: limit}
}

func (j *Journal) Publish(_ context.Context, ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	if over := len(j.events) - j.limit; over > 0 {
		j.events = append([]Event(nil), j.events[over:]...)
	}
}

// Recent returns the last n events, most recent first.
func (j *Journal) Recent(n int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	total := len(j.events)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = j.events[total-1-i]
	}
	return out
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, ev Event) {
	fields := log.Fields{
		"event":  ev.Kind,
		"id":     ev.ID.String(),
		"puzzle": ev.PuzzleID.Hex(),
	}
	if ev.Actor != (common.Address{}) {
		fields["actor"] = ev.Actor.Hex()
	}
	if ev.Amount != nil {
		fields["amount"] = ev.Amount.String()
		fields["token"] = ev.Token.Hex()
	}
	if ev.Rank > 0 {
		fields["rank"] = ev.Rank
	}
	if ev.Detail != "" {
		fields["detail"] = ev.Detail
	}
	entry := log.WithFields(fields)
	if ev.Kind == PrizeTransferFailed || ev.Kind == PrizeTransferPending {
		entry.Warn("prize event")
		return
	}
	entry.Info("prize event")
}
