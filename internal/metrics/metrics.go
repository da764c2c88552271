// Package metrics exposes pool and prover metrics through a Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shieldedpool/internal/transactions/withdraw"
)

const namespace = "shieldedpool"

// Metrics implements pool.Recorder and withdraw.Observer.
type Metrics struct {
	reg prometheus.Gatherer

	Deposits        *prometheus.CounterVec
	Withdrawals     *prometheus.CounterVec
	TreeLeaves      *prometheus.GaugeVec
	SimulatedMode   *prometheus.GaugeVec
	ProveDuration   *prometheus.HistogramVec
	VerifyDuration  *prometheus.HistogramVec
	ProofFailures   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPRateLimited prometheus.Counter
}

// New registers every collector on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Deposits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Accepted deposits",
		}, []string{"token"}),
		Withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawal attempts by outcome",
		}, []string{"token", "outcome"}),
		TreeLeaves: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_leaves",
			Help:      "Commitments in the pool tree",
		}, []string{"token"}),
		SimulatedMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulated_mode",
			Help:      "1 when the pool runs the simulated prover",
		}, []string{"token"}),
		ProveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prove_duration_seconds",
			Help:      "Withdrawal proof generation time",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		VerifyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Withdrawal proof verification time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode", "result"}),
		ProofFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proof_failures_total",
			Help:      "Proof generation or verification errors",
		}, []string{"stage", "mode"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Deposit(token string) {
	m.Deposits.WithLabelValues(token).Inc()
}

func (m *Metrics) Withdrawal(token, outcome string) {
	m.Withdrawals.WithLabelValues(token, outcome).Inc()
}

func (m *Metrics) TreeSize(token string, leaves uint64) {
	m.TreeLeaves.WithLabelValues(token).Set(float64(leaves))
}

func (m *Metrics) ProverMode(token, mode string) {
	v := 0.0
	if mode == withdraw.ModeSimulated {
		v = 1
	}
	m.SimulatedMode.WithLabelValues(token).Set(v)
}

func (m *Metrics) ObserveProve(mode string, took time.Duration, err error) {
	if err != nil {
		m.ProofFailures.WithLabelValues("prove", mode).Inc()
		return
	}
	m.ProveDuration.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) ObserveVerify(mode string, took time.Duration, ok bool, err error) {
	if err != nil {
		m.ProofFailures.WithLabelValues("verify", mode).Inc()
		return
	}
	result := "valid"
	if !ok {
		result = "invalid"
	}
	m.VerifyDuration.WithLabelValues(mode, result).Observe(took.Seconds())
}
