package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
	"github.com/GoPolymarket/puzzle-prizes/internal/prize"
)

// Engine is the prize engine surface served over HTTP.
type Engine interface {
	CreateEscrow(ctx context.Context, caller common.Address, p prize.CreateParams) (*ledger.Escrow, error)
	ActivateEscrow(ctx context.Context, caller common.Address, id common.Hash) error
	FinalizeEscrow(ctx context.Context, caller common.Address, id common.Hash) error
	SubmitCompletion(ctx context.Context, c prize.Claim) (*prize.Receipt, error)
	ClaimPrize(ctx context.Context, id common.Hash, user common.Address) (*ledger.Completion, error)
	RecoverUnclaimed(ctx context.Context, caller common.Address, id common.Hash) (*big.Int, error)

	EscrowDetails(ctx context.Context, id common.Hash) (*ledger.Escrow, error)
	Escrows(ctx context.Context) ([]*ledger.Escrow, error)
	IsClaimed(ctx context.Context, id common.Hash, user common.Address) (bool, error)
	Completions(ctx context.Context, id common.Hash) ([]ledger.Completion, error)
	Leaderboard(ctx context.Context, id common.Hash) ([]prize.Standing, error)
	UserHistory(ctx context.Context, user common.Address) ([]prize.Standing, error)
	Settings() prize.Settings

	SetTokenAllowed(ctx context.Context, caller, token common.Address, allowed bool) error
	SetMaxWinners(ctx context.Context, caller common.Address, n int) error
	SetRecoveryWindow(ctx context.Context, caller common.Address, d time.Duration) error
	SetSigner(ctx context.Context, caller, signer common.Address) error
	SetRecoveryAddress(ctx context.Context, caller, addr common.Address) error
	GrantAdmin(ctx context.Context, caller, who common.Address) error
	RevokeAdmin(ctx context.Context, caller, who common.Address) error
}

// EventSource exposes recently published events (nil if unavailable).
type EventSource interface {
	Recent(n int) []events.Event
}

// Recorder receives rejected calls and serves the daily summary (nil if unavailable).
type Recorder interface {
	RecordRejection(err error)
	Daily(now time.Time) map[string]interface{}
}

// Options configures the HTTP surface.
type Options struct {
	Addr           string
	AllowedOrigins []string
	SubmitRPS      float64
	SubmitBurst    int
	AuthMaxSkew    time.Duration
	Gatherer       prometheus.Gatherer
}

// Server is the HTTP API for the prize engine.
type Server struct {
	httpServer *http.Server
	engine     Engine
	events     EventSource
	rejections Recorder
	auth       authenticator
	limiter    *clientLimiter
	startedAt  time.Time
	ready      func() bool
}

// NewServer creates a new API server bound to opts.Addr.
func NewServer(opts Options, engine Engine, source EventSource, rec Recorder) *Server {
	skew := opts.AuthMaxSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	s := &Server{
		engine:     engine,
		events:     source,
		rejections: rec,
		auth:       authenticator{maxSkew: skew, now: time.Now, seen: newSeenRequests()},
		limiter:    newClientLimiter(opts.SubmitRPS, opts.SubmitBurst),
		startedAt:  time.Now(),
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleSettings).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/users/{user}/history", s.handleUserHistory).Methods(http.MethodGet)

	api.HandleFunc("/escrows", s.handleListEscrows).Methods(http.MethodGet)
	api.HandleFunc("/escrows", s.handleCreateEscrow).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{id}", s.handleEscrow).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{id}/completions", s.handleCompletions).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{id}/completions", s.handleSubmitCompletion).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{id}/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{id}/claimed/{user}", s.handleIsClaimed).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{id}/claim", s.handleClaim).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{id}/activate", s.handleActivate).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{id}/finalize", s.handleFinalize).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{id}/recover", s.handleRecover).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/tokens/{token}", s.handleSetToken).Methods(http.MethodPut)
	admin.HandleFunc("/max-winners", s.handleSetMaxWinners).Methods(http.MethodPut)
	admin.HandleFunc("/recovery-window", s.handleSetRecoveryWindow).Methods(http.MethodPut)
	admin.HandleFunc("/signer", s.handleSetSigner).Methods(http.MethodPut)
	admin.HandleFunc("/recovery-address", s.handleSetRecoveryAddress).Methods(http.MethodPut)
	admin.HandleFunc("/admins/{addr}", s.handleGrantAdmin).Methods(http.MethodPost)
	admin.HandleFunc("/admins/{addr}", s.handleRevokeAdmin).Methods(http.MethodDelete)

	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", HeaderCaller, HeaderTimestamp, HeaderSignature},
	})

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// SetReady installs the readiness probe.
func (s *Server) SetReady(fn func() bool) { s.ready = fn }

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.WithField("addr", s.httpServer.Addr).Info("api server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("api server stopped")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	s.writeJSONStatus(w, http.StatusOK, v)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("api encode response")
	}
}

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/ready — readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.ready == nil || s.ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSONStatus(w, status, map[string]interface{}{"ready": ready})
}

// GET /api/settings — engine configuration.
func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Settings()
	s.writeJSON(w, map[string]interface{}{
		"contract":         st.Contract,
		"signer":           st.Signer,
		"allowed_tokens":   st.AllowedTokens,
		"max_winners":      st.MaxWinners,
		"recovery_window":  st.RecoveryWindow.String(),
		"recovery_address": st.RecoveryAddress,
		"admins":           st.Admins,
	})
}

// GET /api/stats — today's activity.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.rejections == nil {
		s.writeJSON(w, map[string]interface{}{})
		return
	}
	s.writeJSON(w, s.rejections.Daily(time.Now()))
}

// GET /api/events?limit=N — most recent events first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, ErrBadRequest.Wrapf("limit must be a positive integer, got %q", v))
			return
		}
		limit = n
	}
	out := []eventView{}
	if s.events != nil {
		for _, ev := range s.events.Recent(limit) {
			out = append(out, viewEvent(ev))
		}
	}
	s.writeJSON(w, out)
}

// GET /api/escrows
func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Escrows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]escrowView, 0, len(list))
	for _, es := range list {
		if state := r.URL.Query().Get("state"); state != "" && es.State.String() != strings.ToLower(state) {
			continue
		}
		out = append(out, viewEscrow(es))
	}
	s.writeJSON(w, out)
}

// GET /api/escrows/{id}
func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	es, err := s.engine.EscrowDetails(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, viewEscrow(es))
}

// GET /api/escrows/{id}/completions
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	list, err := s.engine.Completions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, viewCompletions(list))
}

// GET /api/escrows/{id}/leaderboard
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	board, err := s.engine.Leaderboard(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, viewStandings(board))
}

// GET /api/escrows/{id}/claimed/{user}
func (s *Server) handleIsClaimed(w http.ResponseWriter, r *http.Request) {
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	user, err := parseAddress(mux.Vars(r)["user"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	claimed, err := s.engine.IsClaimed(r.Context(), id, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"puzzle_id": id, "user": user, "claimed": claimed})
}

// GET /api/users/{user}/history
func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(mux.Vars(r)["user"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hist, err := s.engine.UserHistory(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, viewStandings(hist))
}

type completionRequest struct {
	User       string          `json:"user"`
	DurationMs uint64          `json:"duration_ms"`
	Metadata   ledger.Metadata `json:"metadata"`
	Signature  string          `json:"signature"`
}

// POST /api/escrows/{id}/completions — submit a signed completion.
func (s *Server) handleSubmitCompletion(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientKey(r)) {
		s.writeError(w, r, ErrRateLimited)
		return
	}
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	var req completionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		s.writeError(w, r, ErrBadRequest.Wrapf("signature: %v", err))
		return
	}
	receipt, err := s.engine.SubmitCompletion(r.Context(), prize.Claim{
		PuzzleID:   id,
		User:       user,
		DurationMs: req.DurationMs,
		Metadata:   req.Metadata,
		Signature:  sig,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, map[string]interface{}{
		"completion":   viewCompletion(id.Hex(), receipt.Completion),
		"paid":         receipt.Paid,
		"payout_error": receipt.PayoutErr,
		"finalized":    receipt.Finalized,
	})
}

// POST /api/escrows/{id}/claim — the authenticated caller retries its own payout.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	c, err := s.engine.ClaimPrize(r.Context(), id, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, viewCompletion(id.Hex(), *c))
}

type createRequest struct {
	PuzzleID     string   `json:"puzzle_id"`
	Token        string   `json:"token"`
	TotalPool    string   `json:"total_pool"`
	WinnerShares []uint32 `json:"winner_shares"`
	EndTime      int64    `json:"end_time"`
}

// POST /api/escrows — admin creates and funds an escrow.
func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, ErrBadRequest.Wrapf("decode body: %v", err))
		return
	}
	id, err := parseHash(req.PuzzleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token := ledger.NativeToken
	if req.Token != "" {
		if token, err = parseAddress(req.Token); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	pool, ok := new(big.Int).SetString(req.TotalPool, 10)
	if !ok {
		s.writeError(w, r, ErrBadRequest.Wrapf("total_pool %q is not an integer", req.TotalPool))
		return
	}
	es, err := s.engine.CreateEscrow(r.Context(), caller, prize.CreateParams{
		PuzzleID:     id,
		Token:        token,
		TotalPool:    pool,
		WinnerShares: req.WinnerShares,
		EndTime:      req.EndTime,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, viewEscrow(es))
}

// POST /api/escrows/{id}/activate
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.adminTransition(w, r, s.engine.ActivateEscrow)
}

// POST /api/escrows/{id}/finalize
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.adminTransition(w, r, s.engine.FinalizeEscrow)
}

func (s *Server) adminTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, common.Address, common.Hash) error) {
	caller, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	es, err := s.engine.EscrowDetails(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, viewEscrow(es))
}

// POST /api/escrows/{id}/recover — admin sweeps the unclaimed residual.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := s.puzzleID(w, r)
	if !ok {
		return
	}
	amt, err := s.engine.RecoverUnclaimed(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"puzzle_id": id, "recovered": amt.String()})
}

// PUT /api/admin/tokens/{token} {"allowed": bool}
func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	token, err := parseAddress(mux.Vars(r)["token"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, ErrBadRequest.Wrapf("decode body: %v", err))
		return
	}
	s.adminResult(w, r, s.engine.SetTokenAllowed(r.Context(), caller, token, req.Allowed))
}

// PUT /api/admin/max-winners {"max_winners": n}
func (s *Server) handleSetMaxWinners(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		MaxWinners int `json:"max_winners"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, ErrBadRequest.Wrapf("decode body: %v", err))
		return
	}
	s.adminResult(w, r, s.engine.SetMaxWinners(r.Context(), caller, req.MaxWinners))
}

// PUT /api/admin/recovery-window {"recovery_window": "720h"}
func (s *Server) handleSetRecoveryWindow(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		RecoveryWindow string `json:"recovery_window"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, ErrBadRequest.Wrapf("decode body: %v", err))
		return
	}
	d, err := time.ParseDuration(req.RecoveryWindow)
	if err != nil {
		s.writeError(w, r, ErrBadRequest.Wrapf("recovery_window: %v", err))
		return
	}
	s.adminResult(w, r, s.engine.SetRecoveryWindow(r.Context(), caller, d))
}

// PUT /api/admin/signer {"address": "0x.."}
func (s *Server) handleSetSigner(w http.ResponseWriter, r *http.Request) {
	s.adminAddress(w, r, s.engine.SetSigner)
}

// PUT /api/admin/recovery-address {"address": "0x.."}
func (s *Server) handleSetRecoveryAddress(w http.ResponseWriter, r *http.Request) {
	s.adminAddress(w, r, s.engine.SetRecoveryAddress)
}

func (s *Server) adminAddress(w http.ResponseWriter, r *http.Request, fn func(context.Context, common.Address, common.Address) error) {
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, ErrBadRequest.Wrapf("decode body: %v", err))
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.adminResult(w, r, fn(r.Context(), caller, addr))
}

// POST /api/admin/admins/{addr}
func (s *Server) handleGrantAdmin(w http.ResponseWriter, r *http.Request) {
	s.adminMember(w, r, s.engine.GrantAdmin)
}

// DELETE /api/admin/admins/{addr}
func (s *Server) handleRevokeAdmin(w http.ResponseWriter, r *http.Request) {
	s.adminMember(w, r, s.engine.RevokeAdmin)
}

func (s *Server) adminMember(w http.ResponseWriter, r *http.Request, fn func(context.Context, common.Address, common.Address) error) {
	caller, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	who, err := parseAddress(mux.Vars(r)["addr"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.adminResult(w, r, fn(r.Context(), caller, who))
}

func (s *Server) adminResult(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleSettings(w, r)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (common.Address, []byte, bool) {
	caller, body, err := s.auth.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return common.Address{}, nil, false
	}
	return caller, body, true
}

func (s *Server) puzzleID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	id, err := parseHash(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return common.Hash{}, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return ErrBadRequest.Wrapf("decode body: %v", err)
	}
	return nil
}

func parseAddress(v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, ErrBadRequest.Wrapf("%q is not a hex address", v)
	}
	return common.HexToAddress(v), nil
}

func parseHash(v string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(v))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, ErrBadRequest.Wrapf("%q is not a 32-byte hex id", v)
	}
	return common.BytesToHash(b), nil
}

// clientLimiter rate limits completion submissions per client address.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (l *clientLimiter) allow(key string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) > 10000 {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
