package reconciler

import (
	"sort"
	"time"

	"github.com/camwatch/frameparser-autoscaler"
)

// Decision is what a tick will do for one camera.
type Decision string

const (
	// DecisionCreate creates a PENDING record and launches a worker.
	DecisionCreate Decision = "create"

	// DecisionClaim takes over a PENDING record whose lease expired and launches.
	DecisionClaim Decision = "claim"

	// DecisionResetAfterCooldown moves a FAILED record back to PENDING and launches.
	DecisionResetAfterCooldown Decision = "reset_after_cooldown"

	// DecisionHealthCheck probes a RUNNING worker that is still desired.
	DecisionHealthCheck Decision = "health_check"

	// DecisionStop stops a RUNNING worker that is no longer desired.
	DecisionStop Decision = "stop"

	// DecisionRetryStop stops the worker of a STOPPING record and deletes it.
	DecisionRetryStop Decision = "retry_stop"

	// DecisionDelete removes a record that owns no worker.
	DecisionDelete Decision = "delete"

	// DecisionSkipInFlight leaves a PENDING record to the tick holding its lease.
	DecisionSkipInFlight Decision = "skip_in_flight"

	// DecisionSkipFailed leaves a FAILED record alone until its cooldown elapses.
	DecisionSkipFailed Decision = "skip_failed"
)

// Policy holds the time-based rules used by Decide.
type Policy struct {
	// LaunchLease is how long a claimed PENDING record is left to its owner.
	LaunchLease time.Duration

	// Cooldown is how long a FAILED record waits before it is retried.
	// Negative disables automatic retry.
	Cooldown time.Duration
}

// Step pairs a camera with the decision taken for it.
type Step struct {
	CameraID string
	Decision Decision
	Desired  bool

	// Current is the record read at the start of the tick, nil if absent.
	Current *autoscaler.Assignment
}

// Decide returns the decision for one camera. It returns "" when there is
// nothing to do (no record and not desired).
func Decide(current *autoscaler.Assignment, desired bool, now time.Time, p Policy) Decision {
	if current == nil {
		if desired {
			return DecisionCreate
		}
		return ""
	}

	switch current.State {
	case autoscaler.StatePending:
		if leaseHeld(*current, now, p) {
			return DecisionSkipInFlight
		}
		if desired {
			return DecisionClaim
		}
		return DecisionDelete

	case autoscaler.StateRunning:
		if desired {
			return DecisionHealthCheck
		}
		return DecisionStop

	case autoscaler.StateFailed:
		if !desired {
			return DecisionDelete
		}
		if p.Cooldown >= 0 && now.Sub(current.FailedAt) >= p.Cooldown {
			return DecisionResetAfterCooldown
		}
		return DecisionSkipFailed

	default:
		// STOPPING, and any state this version does not know, is drained.
		return DecisionRetryStop
	}
}

func leaseHeld(a autoscaler.Assignment, now time.Time, p Policy) bool {
	return !a.LaunchStartedAt.IsZero() && now.Sub(a.LaunchStartedAt) < p.LaunchLease
}

// Plan partitions desired and observed state into one step per camera,
// sorted by camera ID. Duplicate desired IDs are collapsed.
func Plan(desired []string, observed []autoscaler.Assignment, now time.Time, p Policy) []Step {
	want := make(map[string]bool, len(desired))
	for _, id := range desired {
		if id != "" {
			want[id] = true
		}
	}

	have := make(map[string]*autoscaler.Assignment, len(observed))
	for i := range observed {
		have[observed[i].CameraID] = &observed[i]
	}

	ids := make([]string, 0, len(want)+len(have))
	for id := range want {
		ids = append(ids, id)
	}
	for id := range have {
		if !want[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	steps := make([]Step, 0, len(ids))
	for _, id := range ids {
		current := have[id]
		decision := Decide(current, want[id], now, p)
		if decision == "" {
			continue
		}
		steps = append(steps, Step{
			CameraID: id,
			Decision: decision,
			Desired:  want[id],
			Current:  current,
		})
	}

	return steps
}
