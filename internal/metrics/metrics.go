// Package metrics exposes Prometheus collectors for the service's
// operational surface: active PTY bridges, live sessions, pane count, and
// counters for the rarer events an operator would want to alert on
// (resurrections, orphan kills, auxiliary start races lost).
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every collector this service publishes.
type Metrics struct {
	ActiveBridges prometheus.Gauge
	LiveSessions  prometheus.Gauge
	PaneCount     prometheus.Gauge

	ResurrectionsTotal     prometheus.Counter
	OrphansKilledTotal     prometheus.Counter
	AuxiliaryRacesLost     prometheus.Counter
	AuxiliaryVerifications *prometheus.CounterVec

	ReconcileDuration prometheus.Histogram
}

// Get returns the process-wide Metrics singleton, registering its
// collectors with the default registry on first call.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.ActiveBridges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "summitflow_term",
		Subsystem: "bridge",
		Name:      "active",
		Help:      "Number of PTY bridges currently attached to a client WebSocket",
	})

	m.LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "summitflow_term",
		Subsystem: "session",
		Name:      "live",
		Help:      "Number of sessions currently marked alive in the store",
	})

	m.PaneCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "summitflow_term",
		Subsystem: "pane",
		Name:      "count",
		Help:      "Number of panes currently defined across all projects",
	})

	m.ResurrectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "summitflow_term",
		Subsystem: "lifecycle",
		Name:      "resurrections_total",
		Help:      "Total number of dead sessions resurrected instead of recreated",
	})

	m.OrphansKilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "summitflow_term",
		Subsystem: "reconcile",
		Name:      "orphans_killed_total",
		Help:      "Total number of mux sessions with no matching store row killed by the reconciler",
	})

	m.AuxiliaryRacesLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "summitflow_term",
		Subsystem: "auxiliary",
		Name:      "start_races_lost_total",
		Help:      "Total number of auxiliary start attempts that lost the not_started->starting race",
	})

	m.AuxiliaryVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "summitflow_term",
		Subsystem: "auxiliary",
		Name:      "verifications_total",
		Help:      "Total number of auxiliary verification outcomes by resulting state",
	}, []string{"state"})

	m.ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "summitflow_term",
		Subsystem: "reconcile",
		Name:      "duration_seconds",
		Help:      "Duration of a reconciliation pass",
		Buckets:   prometheus.DefBuckets,
	})

	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
