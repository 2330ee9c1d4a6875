package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics
var (
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one warm-up scheduler tick",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	SessionsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "sessions_pending",
		Help:      "Sessions with a PENDING instance seen on the last tick",
	})

	SessionsWarming = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "sessions_warming",
		Help:      "Sessions with a WARMING instance seen on the last tick",
	})

	LaunchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "launches_total",
		Help:      "Total instance launches driven by the scheduler",
	})

	LaunchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "launched_total",
		Help:      "Total WARMING to LAUNCHED transitions",
	})

	FailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "failed_total",
		Help:      "Total sessions marked FAILED",
	})

	NoCapacityTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "no_capacity_total",
		Help:      "Launches declined by the provider for lack of capacity",
	})

	SessionErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simcloud",
		Subsystem: "scheduler",
		Name:      "session_errors_total",
		Help:      "Per-session errors isolated during ticks",
	})
)

// Region router metrics
var (
	RouterForwardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simcloud",
		Subsystem: "router",
		Name:      "forwards_total",
		Help:      "Requests forwarded to a remote region",
	})

	RouterForwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simcloud",
		Subsystem: "router",
		Name:      "forward_errors_total",
		Help:      "Forwarded requests that failed in transport",
	})
)

// Probe metrics
var (
	ProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "simcloud",
		Subsystem: "probe",
		Name:      "latency_seconds",
		Help:      "Latency of liveness probes against simulation servers",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})
)
