// Package metrics exposes prize engine activity as Prometheus collectors and
// a rolling UTC-day summary.
package metrics

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GoPolymarket/puzzle-prizes/internal/events"
	"github.com/GoPolymarket/puzzle-prizes/internal/ledger"
)

const (
	namespace = "puzzle"
	subsystem = "prizes"
)

// Metrics implements events.Sink.
type Metrics struct {
	completions      prometheus.Counter
	distributions    *prometheus.CounterVec
	distributedValue *prometheus.CounterVec
	transferFailures *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	recoveries       *prometheus.CounterVec
	escrows          *prometheus.GaugeVec
	pooled           *prometheus.GaugeVec

	daily *dailyCollector
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		completions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "completions_total",
			Help: "Accepted puzzle completions",
		}),
		distributions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "distributions_total",
			Help: "Prize transfers that succeeded, by token",
		}, []string{"token"}),
		distributedValue: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "distributed_base_units_total",
			Help: "Prize value paid out in token base units",
		}, []string{"token"}),
		transferFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "transfer_failures_total",
			Help: "Prize transfers that failed and were reopened for claim",
		}, []string{"token"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "rejections_total",
			Help: "Rejected engine calls by error code",
		}, []string{"reason"}),
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "recoveries_total",
			Help: "Unclaimed fund sweeps, by token",
		}, []string{"token"}),
		escrows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "escrows",
			Help: "Escrows by effective state",
		}, []string{"state"}),
		pooled: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pooled_base_units",
			Help: "Undistributed, unrecovered value held in escrow by token",
		}, []string{"token"}),
		daily: newDailyCollector(time.Now()),
	}
}

// Publish counts one engine event.
func (m *Metrics) Publish(_ context.Context, ev events.Event) {
	token := ev.Token.Hex()
	switch ev.Kind {
	case events.CompletionRecorded:
		m.completions.Inc()
		m.daily.recordCompletion(ev.At)
	case events.PrizeDistributed:
		m.distributions.WithLabelValues(token).Inc()
		m.distributedValue.WithLabelValues(token).Add(toFloat(ev.Amount))
		m.daily.recordDistribution(ev.At)
	case events.PrizeTransferFailed:
		m.transferFailures.WithLabelValues(token).Inc()
		m.daily.recordTransferFailure(ev.At)
	case events.UnclaimedRecovered:
		m.recoveries.WithLabelValues(token).Inc()
	}
}

// RecordRejection tags a rejected call by its registered error code.
func (m *Metrics) RecordRejection(err error) {
	if err == nil {
		return
	}
	reason := Reason(err)
	m.rejections.WithLabelValues(reason).Inc()
	m.daily.recordRejection(time.Now(), reason)
}

// Reason is the codespace/code label of err; unregistered errors map to
// "undefined/1".
func Reason(err error) string {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	return fmt.Sprintf("%s/%d", codespace, code)
}

// ObserveEscrows refreshes the state and pooled-value gauges.
func (m *Metrics) ObserveEscrows(list []*ledger.Escrow) {
	counts := map[ledger.State]int{
		ledger.StateInactive: 0,
		ledger.StateActive:   0,
		ledger.StateComplete: 0,
	}
	pooled := map[string]*big.Int{}
	for _, es := range list {
		counts[es.State]++
		key := es.Token.Hex()
		if pooled[key] == nil {
			pooled[key] = new(big.Int)
		}
		pooled[key].Add(pooled[key], es.Residual())
	}
	for state, n := range counts {
		m.escrows.WithLabelValues(state.String()).Set(float64(n))
	}
	m.pooled.Reset()
	for token, v := range pooled {
		m.pooled.WithLabelValues(token).Set(toFloat(v))
	}
}

// Daily returns today's activity summary.
func (m *Metrics) Daily(now time.Time) map[string]interface{} {
	return m.daily.snapshot(now)
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

type dailyCollector struct {
	mu sync.RWMutex

	dayStartUTC time.Time
	lastUpdated time.Time

	completionsDaily      int
	distributionsDaily    int
	transferFailuresDaily int
	rejectionsDaily       int
	rejectionsByReason    map[string]int
	lastRejectionReason   string
}

func newDailyCollector(now time.Time) *dailyCollector {
	return &dailyCollector{
		dayStartUTC:        startOfUTCDay(now),
		lastUpdated:        now.UTC(),
		rejectionsByReason: make(map[string]int),
	}
}

func startOfUTCDay(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func (c *dailyCollector) ensureDayLocked(now time.Time) {
	day := startOfUTCDay(now)
	if !day.After(c.dayStartUTC) {
		return
	}
	c.dayStartUTC = day
	c.completionsDaily = 0
	c.distributionsDaily = 0
	c.transferFailuresDaily = 0
	c.rejectionsDaily = 0
	c.rejectionsByReason = make(map[string]int)
	c.lastRejectionReason = ""
}

func (c *dailyCollector) record(now time.Time, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	fn()
	c.lastUpdated = now.UTC()
}

func (c *dailyCollector) recordCompletion(now time.Time) {
	c.record(now, func() { c.completionsDaily++ })
}

func (c *dailyCollector) recordDistribution(now time.Time) {
	c.record(now, func() { c.distributionsDaily++ })
}

func (c *dailyCollector) recordTransferFailure(now time.Time) {
	c.record(now, func() { c.transferFailuresDaily++ })
}

func (c *dailyCollector) recordRejection(now time.Time, reason string) {
	c.record(now, func() {
		c.rejectionsDaily++
		c.rejectionsByReason[reason]++
		c.lastRejectionReason = reason
	})
}

func (c *dailyCollector) snapshot(now time.Time) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)

	byReason := make(map[string]int, len(c.rejectionsByReason))
	for k, v := range c.rejectionsByReason {
		byReason[k] = v
	}
	failureRate := 0.0
	if attempts := c.distributionsDaily + c.transferFailuresDaily; attempts > 0 {
		failureRate = float64(c.transferFailuresDaily) / float64(attempts)
	}
	return map[string]interface{}{
		"day_start_utc":             c.dayStartUTC.Format(time.RFC3339),
		"last_updated_utc":          c.lastUpdated.Format(time.RFC3339),
		"completions_daily":         c.completionsDaily,
		"distributions_daily":       c.distributionsDaily,
		"transfer_failures_daily":   c.transferFailuresDaily,
		"transfer_failure_rate":     failureRate,
		"rejections_daily":          c.rejectionsDaily,
		"rejections_daily_by_reason": byReason,
		"last_rejection_reason":     c.lastRejectionReason,
	}
}
