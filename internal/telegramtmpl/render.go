package telegramtmpl

import (
	"fmt"
	"html"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
)

// Token describes how a token's base units are displayed.
type Token struct {
	Symbol   string
	Decimals int32
}

// Tokens maps token addresses to display units. The native coin defaults to
// 18-decimal ETH.
type Tokens map[common.Address]Token

// Lookup returns the display unit of addr.
func (t Tokens) Lookup(addr common.Address) Token {
	if tok, ok := t[addr]; ok {
		return tok
	}
	if addr == ledger.NativeToken {
		return Token{Symbol: "ETH", Decimals: 18}
	}
	return Token{Symbol: shortAddr(addr), Decimals: 0}
}

// FormatAmount renders base units as a token amount, e.g. "1.5 USDC".
func (t Tokens) FormatAmount(addr common.Address, v *big.Int) string {
	tok := t.Lookup(addr)
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -tok.Decimals).String() + " " + tok.Symbol
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

// WinnerRow is one rank line of a puzzle summary.
type WinnerRow struct {
	Rank     int
	User     string
	Prize    string
	Status   string
	Duration string
}

// PuzzleData describes the data required to render a puzzle summary.
type PuzzleData struct {
	PuzzleID    string
	State       string
	Pool        string
	Distributed string
	Residual    string
	Filled      int
	Ranks       int
	Winners     []WinnerRow
}

// BuildPuzzleData normalizes an escrow into a renderable payload.
func BuildPuzzleData(es *ledger.Escrow, tokens Tokens) PuzzleData {
	d := PuzzleData{
		PuzzleID:    es.PuzzleID.Hex(),
		State:       strings.ToUpper(es.State.String()),
		Pool:        tokens.FormatAmount(es.Token, es.TotalPool),
		Distributed: tokens.FormatAmount(es.Token, es.Distributed),
		Residual:    tokens.FormatAmount(es.Token, es.Residual()),
		Filled:      len(es.Completions),
		Ranks:       len(es.WinnerShares),
	}
	for _, c := range es.Completions {
		status := "PAID"
		if !c.Claimed {
			status = "UNCLAIMED"
		}
		user := c.Metadata.Username
		if user == "" {
			user = shortAddr(c.User)
		}
		d.Winners = append(d.Winners, WinnerRow{
			Rank:     c.Rank,
			User:     user,
			Prize:    tokens.FormatAmount(es.Token, c.Prize),
			Status:   status,
			Duration: formatDuration(c.DurationMs),
		})
	}
	return d
}

func formatDuration(ms uint64) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d.%03d", s/60, s%60, ms%1000)
}

// RenderPuzzleHTML renders a puzzle summary in HTML parse mode.
func RenderPuzzleHTML(d PuzzleData) string {
	var b strings.Builder
	b.WriteString("<b>Puzzle Prizes</b>\n")
	b.WriteString(fmt.Sprintf("Puzzle: <code>%s</code>\nState: %s\n", d.PuzzleID, d.State))
	b.WriteString(fmt.Sprintf("Pool: %s\nDistributed: %s\nResidual: %s\n", d.Pool, d.Distributed, d.Residual))
	b.WriteString(fmt.Sprintf("Ranks Filled: %d/%d\n", d.Filled, d.Ranks))
	if len(d.Winners) > 0 {
		b.WriteString("\n<b>Winners</b>\n")
		for _, w := range d.Winners {
			b.WriteString(fmt.Sprintf("#%d %s %s %s (%s)\n", w.Rank, html.EscapeString(w.User), w.Duration, w.Prize, w.Status))
		}
	}
	return strings.TrimSpace(b.String())
}

// DailyData describes the operator's daily activity digest.
type DailyData struct {
	Day              string
	Completions      int
	Distributions    int
	TransferFailures int
	Rejections       int
	Hints            []string
}

// BuildDailyData normalizes daily digest inputs into a renderable payload.
func BuildDailyData(day string, completions, distributions, failures, rejections int, hints []string) DailyData {
	if len(hints) > 3 {
		hints = hints[:3]
	}
	return DailyData{
		Day:              strings.TrimSpace(day),
		Completions:      completions,
		Distributions:    distributions,
		TransferFailures: failures,
		Rejections:       rejections,
		Hints:            hints,
	}
}

// RenderDailyHTML renders the daily digest in HTML parse mode.
func RenderDailyHTML(d DailyData) string {
	var b strings.Builder
	b.WriteString("<b>Daily Prize Digest</b>\n")
	if d.Day != "" {
		b.WriteString(fmt.Sprintf("Day: %s\n", d.Day))
	}
	b.WriteString(fmt.Sprintf("Completions: %d\nPrizes Paid: %d\n", d.Completions, d.Distributions))
	b.WriteString(fmt.Sprintf("Transfer Failures: %d\nRejected Calls: %d\n", d.TransferFailures, d.Rejections))
	if len(d.Hints) > 0 {
		b.WriteString("\n<b>Operator Hints</b>\n")
		for _, h := range d.Hints {
			b.WriteString("- " + h + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
