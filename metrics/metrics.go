package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TicksTotal tracks reconciliation ticks by result ("ok" or "snapshot_error").
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_ticks_total",
		Help: "Total reconciliation ticks",
	},
	[]string{"cluster", "result"},
)

// TickDuration tracks how long a tick takes end to end.
var TickDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "frameparser_autoscaler_tick_duration_seconds",
		Help:    "Reconciliation tick duration",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"cluster"},
)

// OutcomesTotal tracks per-camera tick outcomes by action.
var OutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_outcomes_total",
		Help: "Per-camera reconciliation outcomes",
	},
	[]string{"cluster", "action"},
)

// LaunchesTotal tracks successful worker launches.
var LaunchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_launches_total",
		Help: "Total workers launched",
	},
	[]string{"cluster"},
)

// LaunchFailuresTotal tracks failed launch attempts, including those that mark a camera FAILED.
var LaunchFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_launch_failures_total",
		Help: "Total failed worker launches",
	},
	[]string{"cluster"},
)

// StopsTotal tracks confirmed worker stops.
var StopsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_stops_total",
		Help: "Total workers stopped",
	},
	[]string{"cluster"},
)

// StopFailuresTotal tracks stop calls that failed and are retried next tick.
var StopFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_stop_failures_total",
		Help: "Total failed worker stops",
	},
	[]string{"cluster"},
)

// ConflictsTotal tracks conditional writes lost to a concurrent tick.
var ConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_version_conflicts_total",
		Help: "Total optimistic concurrency conflicts",
	},
	[]string{"cluster"},
)

// DivergenceAlertsTotal tracks cameras flagged for persistent divergence.
var DivergenceAlertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frameparser_autoscaler_divergence_alerts_total",
		Help: "Total persistent divergence alerts",
	},
	[]string{"cluster"},
)

// Assignments tracks assignments by state after the last tick.
var Assignments = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "frameparser_autoscaler_assignments",
		Help: "Assignments by state after the last tick",
	},
	[]string{"cluster", "state"},
)

// DesiredCameras tracks the size of the desired set in the last tick.
var DesiredCameras = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "frameparser_autoscaler_desired_cameras",
		Help: "Cameras reported by the stream registry in the last tick",
	},
	[]string{"cluster"},
)
