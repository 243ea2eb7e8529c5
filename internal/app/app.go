package app

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/GoPolymarket/puzzle-prizes/internal/api"
	"github.com/GoPolymarket/puzzle-prizes/internal/asset"
	"github.com/GoPolymarket/puzzle-prizes/internal/attest"
	"github.com/GoPolymarket/puzzle-prizes/internal/config"
	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/gate"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
	"github.com/GoPolymarket/puzzle-prizes/internal/metrics"
	"github.com/GoPolymarket/puzzle-prizes/internal/notify"
	"github.com/GoPolymarket/puzzle-prizes/internal/prize"
	"github.com/GoPolymarket/puzzle-prizes/internal/telegramtmpl"
)

// App wires the prize engine to its store, transfer backend, sinks and API.
type App struct {
	cfg config.Config

	store      ledger.Store
	transferer asset.Transferer
	vault      *asset.Vault // nil unless chain.backend is vault
	chain      *ethclient.Client

	engine   *prize.Engine
	journal  *events.Journal
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	notifier *notify.Notifier
	tokens   telegramtmpl.Tokens
	api      *api.Server

	mu       sync.RWMutex
	running  bool
	lastSync time.Time
}

// New builds the application from a validated config.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{
		cfg:      cfg,
		journal:  events.NewJournal(cfg.Engine.EventJournal),
		registry: prometheus.NewRegistry(),
		tokens:   buildTokens(cfg.Tokens),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	admins, err := addresses(cfg.Admins)
	if err != nil {
		return nil, fmt.Errorf("admins: %w", err)
	}
	signer, err := signerAddress(cfg.Attest)
	if err != nil {
		return nil, err
	}

	if a.store, err = openStore(ctx, cfg.Store); err != nil {
		return nil, err
	}
	if err := a.openTransferer(ctx); err != nil {
		_ = a.store.Close()
		return nil, err
	}

	sinks := events.Multi{events.LogSink{}, a.journal, a.metrics}
	if cfg.Telegram.Enabled {
		a.notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, a.tokens)
		sinks = append(sinks, a.notifier)
	}

	a.engine = prize.New(prize.Config{
		Contract:        common.HexToAddress(cfg.Attest.ContractAddress),
		Signer:          signer,
		AllowedTokens:   allowedTokens(cfg.Tokens),
		MaxWinners:      cfg.Engine.MaxWinners,
		RecoveryWindow:  cfg.Engine.RecoveryWindow,
		RecoveryAddress: optionalAddress(cfg.Engine.RecoveryAddress),
	}, a.store, gate.New(admins...), a.transferer, sinks)

	if cfg.API.Enabled {
		a.api = api.NewServer(api.Options{
			Addr:           cfg.API.Addr,
			AllowedOrigins: cfg.API.AllowedOrigins,
			SubmitRPS:      cfg.API.SubmitRPS,
			SubmitBurst:    cfg.API.SubmitBurst,
			AuthMaxSkew:    cfg.API.AuthMaxSkew,
			Gatherer:       a.registry,
		}, a.engine, a.journal, a.metrics)
		a.api.SetReady(a.IsRunning)
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return ledger.NewMemoryStore(), nil
	case "postgres":
		st, err := ledger.NewPGStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) openTransferer(ctx context.Context) error {
	switch strings.ToLower(a.cfg.Chain.Backend) {
	case "", "vault":
		v := asset.NewVault(common.HexToAddress(a.cfg.Vault.Custody))
		for _, seed := range a.cfg.Vault.Seed {
			amount, ok := new(big.Int).SetString(seed.Amount, 10)
			if !ok {
				return fmt.Errorf("vault seed for %s: bad amount %q", seed.Holder, seed.Amount)
			}
			v.Deposit(optionalAddress(seed.Token), common.HexToAddress(seed.Holder), amount)
		}
		a.vault = v
		a.transferer = v
		log.WithField("custody", v.Custody().Hex()).Info("using in-process vault")
		return nil
	case "rpc":
		client, err := ethclient.DialContext(ctx, a.cfg.Chain.RPCURL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		chainID := big.NewInt(a.cfg.Chain.ChainID)
		if a.cfg.Chain.ChainID == 0 {
			if chainID, err = client.ChainID(ctx); err != nil {
				client.Close()
				return fmt.Errorf("chain id: %w", err)
			}
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(a.cfg.Chain.CustodyKey), "0x"))
		if err != nil {
			client.Close()
			return fmt.Errorf("custody key: %w", err)
		}
		ct := asset.NewChainTransferer(client, chainID, key)
		ct.SetConfirmation(a.cfg.Chain.PollInterval, a.cfg.Chain.ConfirmTimeout)
		list, err := a.store.List(ctx)
		if err != nil {
			client.Close()
			return fmt.Errorf("load escrows: %w", err)
		}
		owed, pending := nativeCommitments(list)
		ct.Reserve(owed)
		for ref, amount := range pending {
			ct.Track(ref, amount)
			owed.Add(owed, amount)
		}
		a.chain = client
		a.transferer = ct
		log.WithFields(log.Fields{
			"custody":  ct.Custody().Hex(),
			"chain_id": chainID,
			"reserved": owed.String(),
		}).Info("using rpc transfers")
		return nil
	default:
		return fmt.Errorf("unknown chain backend %q", a.cfg.Chain.Backend)
	}
}

// nativeCommitments is the native value custody still owes: the residual of
// every unrecovered native escrow, and the payouts still awaiting
// confirmation keyed by transfer ref.
func nativeCommitments(list []*ledger.Escrow) (*big.Int, map[string]*big.Int) {
	owed := new(big.Int)
	pending := make(map[string]*big.Int)
	for _, es := range list {
		if es.Token != ledger.NativeToken {
			continue
		}
		if es.RecoveredAt == 0 {
			owed.Add(owed, es.Residual())
		}
		for _, c := range es.Completions {
			if c.Claimed && c.PaidAt == 0 && c.PayoutRef != "" && c.Prize != nil {
				pending[c.PayoutRef] = new(big.Int).Set(c.Prize)
			}
		}
	}
	return owed, pending
}

// Run starts the API and the background sync loops. It blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	a.sync(ctx)

	syncEvery := a.cfg.SyncInterval
	if syncEvery <= 0 {
		syncEvery = 15 * time.Second
	}
	syncTicker := time.NewTicker(syncEvery)
	defer syncTicker.Stop()

	digestTimer := time.NewTimer(a.nextDigest(time.Now()))
	defer digestTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-syncTicker.C:
			a.sync(ctx)
		case <-digestTimer.C:
			a.sendDigest(ctx, time.Now())
			digestTimer.Reset(a.nextDigest(time.Now()))
		}
	}
}

// nextDigest waits for UTC midnight on the default daily cadence and for
// the configured interval otherwise.
func (a *App) nextDigest(now time.Time) time.Duration {
	every := a.cfg.DigestInterval
	if every <= 0 || every == 24*time.Hour {
		return timeUntilMidnightUTC(now)
	}
	return every
}

func (a *App) sync(ctx context.Context) {
	list, err := a.engine.Escrows(ctx)
	if err != nil {
		log.WithError(err).Warn("escrow sync failed")
		return
	}
	a.metrics.ObserveEscrows(list)
	a.mu.Lock()
	a.lastSync = time.Now()
	a.mu.Unlock()
}

func (a *App) sendDigest(ctx context.Context, now time.Time) {
	if a.notifier == nil || !a.notifier.Enabled() {
		return
	}
	text, err := a.Digest(ctx, now)
	if err != nil {
		log.WithError(err).Warn("build daily digest")
		return
	}
	if err := a.notifier.NotifyDailyDigest(ctx, text); err != nil {
		log.WithError(err).Warn("send daily digest")
	}
}

// Digest renders the operator digest for the day containing now.
func (a *App) Digest(ctx context.Context, now time.Time) (string, error) {
	list, err := a.engine.Escrows(ctx)
	if err != nil {
		return "", err
	}
	daily := a.metrics.Daily(now)
	in := hintInput(list, a.engine.Settings().RecoveryWindow, now)
	in.TransferFailures = intOf(daily["transfer_failures_daily"])
	in.Distributions = intOf(daily["distributions_daily"])
	if byReason, ok := daily["rejections_daily_by_reason"].(map[string]int); ok {
		in.TopRejection = topReason(byReason)
	}

	data := telegramtmpl.BuildDailyData(
		now.UTC().Format("2006-01-02"),
		intOf(daily["completions_daily"]),
		in.Distributions,
		in.TransferFailures,
		intOf(daily["rejections_daily"]),
		telegramtmpl.BuildOperatorHints(in),
	)
	return telegramtmpl.RenderDailyHTML(data), nil
}

func hintInput(list []*ledger.Escrow, window time.Duration, now time.Time) telegramtmpl.HintInput {
	var in telegramtmpl.HintInput
	unix := now.Unix()
	for _, es := range list {
		if es.RecoveredAt != 0 {
			continue
		}
		for _, c := range es.Completions {
			if !c.Claimed && c.Prize != nil && c.Prize.Sign() > 0 {
				in.UnclaimedRanks++
			}
		}
		switch es.State {
		case ledger.StateComplete:
			if es.Residual().Sign() > 0 && unix >= es.CompletedAt+int64(window/time.Second) {
				in.RecoverableNow = append(in.RecoverableNow, es.PuzzleID.Hex()[:10])
			}
		case ledger.StateActive:
			if es.EndTime == 0 {
				in.ActiveNoDeadline++
			} else if left := time.Unix(es.EndTime, 0).Sub(now); left > 0 && (in.NextDeadlineIn == 0 || left < in.NextDeadlineIn) {
				in.NextDeadlineIn = left
			}
		}
	}
	sort.Strings(in.RecoverableNow)
	return in
}

func topReason(byReason map[string]int) string {
	var best string
	for reason, n := range byReason {
		if n > byReason[best] || (n == byReason[best] && reason < best) {
			best = reason
		}
	}
	return best
}

func intOf(v interface{}) int {
	n, _ := v.(int)
	return n
}

// Shutdown stops the API and releases the store and chain client.
func (a *App) Shutdown(ctx context.Context) {
	log.Info("shutting down...")
	if a.api != nil {
		if err := a.api.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("api shutdown")
		}
	}
	if err := a.store.Close(); err != nil {
		log.WithError(err).Warn("close ledger")
	}
	if a.chain != nil {
		a.chain.Close()
	}
	list, err := a.engine.Escrows(ctx)
	if err == nil {
		log.WithField("escrows", len(list)).Info("session complete")
	}
}

// Engine returns the prize engine.
func (a *App) Engine() *prize.Engine { return a.engine }

// Vault returns the in-process vault, or nil on the rpc backend.
func (a *App) Vault() *asset.Vault { return a.vault }

// IsRunning reports whether Run is active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// LastSync is the time of the last successful escrow sync.
func (a *App) LastSync() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastSync
}

func signerAddress(cfg config.AttestConfig) (common.Address, error) {
	if v := strings.TrimSpace(cfg.SignerAddress); v != "" {
		return common.HexToAddress(v), nil
	}
	s, err := attest.NewSigner(cfg.SignerKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer key: %w", err)
	}
	return s.Address(), nil
}

func addresses(list []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(list))
	for _, v := range list {
		v = strings.TrimSpace(v)
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("%q is not a hex address", v)
		}
		out = append(out, common.HexToAddress(v))
	}
	return out, nil
}

func optionalAddress(v string) common.Address {
	v = strings.TrimSpace(v)
	if v == "" {
		return common.Address{}
	}
	return common.HexToAddress(v)
}

func buildTokens(list []config.TokenConfig) telegramtmpl.Tokens {
	out := make(telegramtmpl.Tokens, len(list))
	for _, t := range list {
		out[optionalAddress(t.Address)] = telegramtmpl.Token{Symbol: t.Symbol, Decimals: t.Decimals}
	}
	return out
}

func allowedTokens(list []config.TokenConfig) []common.Address {
	var out []common.Address
	for _, t := range list {
		if t.Allowed {
			out = append(out, optionalAddress(t.Address))
		}
	}
	return out
}

func timeUntilMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(now)
}
