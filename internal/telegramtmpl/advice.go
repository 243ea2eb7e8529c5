package telegramtmpl

import (
	"fmt"
	"strings"
	"time"
)

// HintInput describes the escrow book state used for operator hints.
type HintInput struct {
	TransferFailures int
	Distributions    int
	UnclaimedRanks   int
	RecoverableNow   []string // puzzle ids past their recovery window
	ActiveNoDeadline int
	NextDeadlineIn   time.Duration
	TopRejection     string
}

// BuildOperatorHints generates prioritized hints shared by the API and the digest.
func BuildOperatorHints(in HintInput) []string {
	hints := make([]string, 0, 4)
	if attempts := in.TransferFailures + in.Distributions; attempts > 0 && in.TransferFailures*5 >= attempts {
		hints = append(hints, fmt.Sprintf("Transfer failures are high (%d of %d); check the custody wallet.", in.TransferFailures, attempts))
	}
	if in.UnclaimedRanks > 0 {
		hints = append(hints, fmt.Sprintf("%d ranks await a claim retry.", in.UnclaimedRanks))
	}
	if len(in.RecoverableNow) > 0 {
		hints = append(hints, "Recoverable now: "+strings.Join(in.RecoverableNow, ","))
	}
	if in.NextDeadlineIn > 0 && in.NextDeadlineIn < 24*time.Hour {
		hints = append(hints, fmt.Sprintf("Next deadline in %.0fm.", in.NextDeadlineIn.Minutes()))
	}
	if in.ActiveNoDeadline > 0 {
		hints = append(hints, fmt.Sprintf("%d active puzzles have no deadline.", in.ActiveNoDeadline))
	}
	if strings.TrimSpace(in.TopRejection) != "" {
		hints = append(hints, "Most frequent rejection: "+in.TopRejection+".")
	}
	if len(hints) > 3 {
		hints = hints[:3]
	}
	return hints
}
