package metrics

import (
	"github.com/camwatch/frameparser-autoscaler"
)

var states = []autoscaler.AssignmentState{
	autoscaler.StatePending,
	autoscaler.StateRunning,
	autoscaler.StateStopping,
	autoscaler.StateFailed,
}

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	cluster string
}

// NewCollector creates a new Collector for the given cluster.
func NewCollector(cluster string) *Collector {
	return &Collector{cluster: cluster}
}

// RecordTick records everything a tick report carries.
func (c *Collector) RecordTick(r autoscaler.Report) {
	TickDuration.WithLabelValues(c.cluster).Observe(r.Duration.Seconds())

	if r.Err != nil {
		TicksTotal.WithLabelValues(c.cluster, "snapshot_error").Inc()
		return
	}
	TicksTotal.WithLabelValues(c.cluster, "ok").Inc()
	DesiredCameras.WithLabelValues(c.cluster).Set(float64(r.Desired))

	counts := make(map[autoscaler.AssignmentState]int, len(states))
	for _, o := range r.Outcomes {
		c.RecordOutcome(o)
		if o.State != "" {
			counts[o.State]++
		}
	}
	for _, s := range states {
		Assignments.WithLabelValues(c.cluster, string(s)).Set(float64(counts[s]))
	}
}

// RecordOutcome records a single camera outcome.
func (c *Collector) RecordOutcome(o autoscaler.CameraOutcome) {
	OutcomesTotal.WithLabelValues(c.cluster, string(o.Action)).Inc()

	switch o.Action {
	case autoscaler.ActionLaunched:
		LaunchesTotal.WithLabelValues(c.cluster).Inc()
	case autoscaler.ActionLaunchFailed, autoscaler.ActionMarkedFailed:
		LaunchFailuresTotal.WithLabelValues(c.cluster).Inc()
	case autoscaler.ActionStopped, autoscaler.ActionRestarting:
		StopsTotal.WithLabelValues(c.cluster).Inc()
	case autoscaler.ActionStopFailed:
		StopFailuresTotal.WithLabelValues(c.cluster).Inc()
	case autoscaler.ActionConflict:
		ConflictsTotal.WithLabelValues(c.cluster).Inc()
	}

	if o.Alert {
		DivergenceAlertsTotal.WithLabelValues(c.cluster).Inc()
	}
}
