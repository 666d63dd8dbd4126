// Package metrics exposes a node's Prometheus surface, adapted from the
// teacher's HealthLogger (core/system_health_logging.go) from a fixed
// block-height/peer-count gauge set to the epoch-report fields spec.md §6
// names: distfs challenge results, settlement report, committed height,
// and sandbox trap counts.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector owns a private Prometheus registry; there is no
// prometheus.DefaultRegisterer use, matching §9's no-package-singleton rule.
type Collector struct {
	registry *prometheus.Registry
	log      *logrus.Logger

	committedHeight        prometheus.Gauge
	networkCommittedHeight prometheus.Gauge
	distfsChecksTotal      prometheus.Gauge
	distfsFailedChecks     prometheus.Gauge
	settlementMintedPoints prometheus.Gauge
	settlementApplyAttempts prometheus.Counter
	sandboxTrapsTotal      *prometheus.CounterVec
}

// NewCollector builds a Collector with its own registry and registers every
// gauge/counter the epoch report consumes.
func NewCollector(logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg, log: logger}

	c.committedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentworld_committed_height",
		Help: "Last consensus height to reach quorum on this node.",
	})
	c.networkCommittedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentworld_network_committed_height",
		Help: "Highest committed height observed across the gossiped validator set.",
	})
	c.distfsChecksTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentworld_distfs_challenge_checks_total",
		Help: "Artifact hashes checked in the most recent DistFS challenge pass.",
	})
	c.distfsFailedChecks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentworld_distfs_challenge_failed_checks",
		Help: "Artifact hashes that failed integrity verification in the most recent pass.",
	})
	c.settlementMintedPoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentworld_settlement_minted_points",
		Help: "Reward points minted at the most recent epoch close.",
	})
	c.settlementApplyAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentworld_settlement_apply_attempts_total",
		Help: "Number of epoch-close settlement applications attempted.",
	})
	c.sandboxTrapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentworld_sandbox_traps_total",
		Help: "Sandbox hook invocations that ended in a trap, quota exceeded, or timeout error, by kind.",
	}, []string{"kind"})

	reg.MustRegister(
		c.committedHeight,
		c.networkCommittedHeight,
		c.distfsChecksTotal,
		c.distfsFailedChecks,
		c.settlementMintedPoints,
		c.settlementApplyAttempts,
		c.sandboxTrapsTotal,
	)
	return c
}

// SetCommittedHeight records this node's locally committed height.
func (c *Collector) SetCommittedHeight(height uint64) { c.committedHeight.Set(float64(height)) }

// SetNetworkCommittedHeight records the highest height seen gossiped across
// the validator set, distinct from this node's own committed height.
func (c *Collector) SetNetworkCommittedHeight(height uint64) {
	c.networkCommittedHeight.Set(float64(height))
}

// RecordDistfsChallenge records one ChallengeAll pass's result counts.
func (c *Collector) RecordDistfsChallenge(totalChecks, failedChecks int) {
	c.distfsChecksTotal.Set(float64(totalChecks))
	c.distfsFailedChecks.Set(float64(failedChecks))
}

// RecordSettlement records one epoch close's minted points and counts the
// attempt, matching §8's `settlement_apply_attempts >= 1` invariant.
func (c *Collector) RecordSettlement(mintedPoints int64) {
	c.settlementMintedPoints.Set(float64(mintedPoints))
	c.settlementApplyAttempts.Inc()
}

// RecordSandboxTrap increments the trap counter for the given error kind
// (trap, quota_exceeded, timeout), swallowed at the lifecycle boundary per
// §7's "sandbox errors are surfaced as counters in the epoch report".
func (c *Collector) RecordSandboxTrap(kind string) {
	c.sandboxTrapsTotal.WithLabelValues(kind).Inc()
}

// StartServer exposes /metrics on addr and returns the underlying server so
// the caller manages its lifecycle alongside the node's other listeners.
func (c *Collector) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.WithError(err).Error("metrics: server stopped")
		}
	}()
	return srv
}

// Shutdown gracefully stops a server started by StartServer.
func (c *Collector) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
