// Package metrics defines the agent's Prometheus instrumentation and the
// optional HTTP exposition endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "ampwatch"

// Names of the labels added to metrics:
const (
	outcomeLabel = "outcome"
	modeLabel    = "mode"
)

var (
	// CyclesTotal counts completed scheduler cycles.
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of completed monitoring cycles",
		},
	)

	// PollOutcomes counts per-instance poll results by outcome kind
	// (success, transient, fatal).
	PollOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Total number of instance polls by outcome",
		},
		[]string{outcomeLabel},
	)

	// ShutdownsTriggered counts affirmative shutdown decisions, labeled by
	// mode (live, dry_run).
	ShutdownsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdowns_triggered_total",
			Help:      "Total number of shutdown decisions dispatched to the executor",
		},
		[]string{modeLabel},
	)

	// SuppressedCycles counts cycles where the fleet was idle-eligible but a
	// maintenance window suppressed the shutdown.
	SuppressedCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_cycles_total",
			Help:      "Total number of cycles suppressed by a maintenance window",
		},
	)

	// ConfigReloadsRejected counts hot-reload attempts rejected by validation.
	ConfigReloadsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_rejected_total",
			Help:      "Total number of configuration reloads rejected as invalid",
		},
	)

	// FleetIdle is 1 when every monitored instance has been idle past the
	// configured delay, 0 otherwise.
	FleetIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_idle",
			Help:      "Whether the whole fleet is currently shutdown-eligible (0 or 1)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		PollOutcomes,
		ShutdownsTriggered,
		SuppressedCycles,
		ConfigReloadsRejected,
		FleetIdle,
	)
}

// Serve exposes /metrics on addr in a background goroutine. Exposition is
// best-effort observability; a failed listener is logged, never fatal.
func Serve(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
}
