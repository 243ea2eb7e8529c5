package prize

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
)

// Standing is one leaderboard row.
type Standing struct {
	PuzzleID common.Hash `json:"puzzle_id"`
	ledger.Completion
}

// EscrowDetails returns the escrow with its effective state: an Active escrow
// whose deadline has passed reads as Complete without being rewritten.
func (e *Engine) EscrowDetails(ctx context.Context, id common.Hash) (*ledger.Escrow, error) {
	es, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(id, err)
	}
	e.effective(es)
	return es, nil
}

// Escrows lists every escrow in creation order with effective states.
func (e *Engine) Escrows(ctx context.Context) ([]*ledger.Escrow, error) {
	list, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, es := range list {
		e.effective(es)
	}
	return list, nil
}

func (e *Engine) effective(es *ledger.Escrow) {
	if es.State != ledger.StateComplete && es.DeadlinePassed(e.now().Unix()) {
		finalize(es, es.EndTime)
	}
}

// IsClaimed reports whether user's rank on the puzzle has been paid.
func (e *Engine) IsClaimed(ctx context.Context, id common.Hash, user common.Address) (bool, error) {
	es, err := e.store.Get(ctx, id)
	if err != nil {
		return false, storeErr(id, err)
	}
	i := es.CompletionOf(user)
	if i < 0 {
		return false, nil
	}
	return es.Completions[i].Claimed, nil
}

// Completions returns the puzzle's completions in rank order.
func (e *Engine) Completions(ctx context.Context, id common.Hash) ([]ledger.Completion, error) {
	es, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(id, err)
	}
	if es.Completions == nil {
		return []ledger.Completion{}, nil
	}
	return es.Completions, nil
}

// Leaderboard orders the puzzle's completions by solve time, ties broken by
// rank. Prize amounts stay with the arrival rank.
func (e *Engine) Leaderboard(ctx context.Context, id common.Hash) ([]Standing, error) {
	list, err := e.Completions(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Standing, 0, len(list))
	for _, c := range list {
		out = append(out, Standing{PuzzleID: id, Completion: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DurationMs != out[j].DurationMs {
			return out[i].DurationMs < out[j].DurationMs
		}
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

// UserHistory returns every completion of user across puzzles, oldest first.
func (e *Engine) UserHistory(ctx context.Context, user common.Address) ([]Standing, error) {
	list, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []Standing{}
	for _, es := range list {
		if i := es.CompletionOf(user); i >= 0 {
			out = append(out, Standing{PuzzleID: es.PuzzleID, Completion: es.Completions[i]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt < out[j].CompletedAt })
	return out, nil
}
