package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/telegramtmpl"
)

// Notifier sends prize alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
	tokens     telegramtmpl.Tokens
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string, tokens telegramtmpl.Tokens) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
		tokens:     tokens,
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// Publish alerts on the events an operator acts on. Completions and config
// changes are left to the log.
func (n *Notifier) Publish(ctx context.Context, ev events.Event) {
	if !n.enabled {
		return
	}
	msg := n.Format(ev)
	if msg == "" {
		return
	}
	if err := n.Send(ctx, msg); err != nil {
		log.WithField("event", ev.Kind).WithError(err).Warn("telegram notify failed")
	}
}

// Format renders ev as an HTML message, or "" for kinds that are not alerted.
func (n *Notifier) Format(ev events.Event) string {
	puzzle := ev.PuzzleID.Hex()
	switch ev.Kind {
	case events.EscrowCreated:
		return fmt.Sprintf("<b>Prize Pool Created</b>\nPuzzle: <code>%s</code>\nPool: %s",
			puzzle, n.tokens.FormatAmount(ev.Token, ev.Amount))
	case events.EscrowActivated:
		return fmt.Sprintf("<b>Puzzle Live</b>\nPuzzle: <code>%s</code>", puzzle)
	case events.PrizeDistributed:
		return fmt.Sprintf("<b>Prize Paid</b>\nPuzzle: <code>%s</code>\nRank: #%d\nWinner: <code>%s</code>\nAmount: %s",
			puzzle, ev.Rank, ev.Actor.Hex(), n.tokens.FormatAmount(ev.Token, ev.Amount))
	case events.PrizeTransferFailed:
		return fmt.Sprintf("<b>Prize Transfer Failed</b>\nPuzzle: <code>%s</code>\nRank: #%d\nWinner: <code>%s</code>\nAmount: %s\nCause: %s",
			puzzle, ev.Rank, ev.Actor.Hex(), n.tokens.FormatAmount(ev.Token, ev.Amount), ev.Detail)
	case events.EscrowFinalized:
		return fmt.Sprintf("<b>Puzzle Finalized</b>\nPuzzle: <code>%s</code>\nReason: %s", puzzle, ev.Detail)
	case events.UnclaimedRecovered:
		return fmt.Sprintf("<b>Unclaimed Funds Recovered</b>\nPuzzle: <code>%s</code>\nAmount: %s\nTo: <code>%s</code>",
			puzzle, n.tokens.FormatAmount(ev.Token, ev.Amount), ev.Actor.Hex())
	}
	return ""
}

// NotifyDailyDigest sends a pre-rendered daily digest.
func (n *Notifier) NotifyDailyDigest(ctx context.Context, textHTML string) error {
	return n.Send(ctx, textHTML)
}
