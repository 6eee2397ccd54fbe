package autoscaler

import "time"

// AssignmentState is the reconciliation state of a camera's worker assignment.
type AssignmentState string

const (
	// StatePending indicates a launch has been requested or must be retried.
	// WorkerHandle is empty while a record is pending.
	StatePending AssignmentState = "PENDING"

	// StateRunning indicates a worker was launched and its handle is recorded.
	StateRunning AssignmentState = "RUNNING"

	// StateStopping indicates the worker must be stopped before the record is removed.
	StateStopping AssignmentState = "STOPPING"

	// StateFailed indicates launches failed FailureCount times in a row and the
	// camera is excluded from retry until its cooldown elapses or it is cleared.
	StateFailed AssignmentState = "FAILED"
)

// IsActive reports whether the state counts toward the at-most-one-worker
// invariant. Only PENDING and RUNNING records own (or are about to own) a worker.
func (s AssignmentState) IsActive() bool {
	return s == StatePending || s == StateRunning
}

// Valid reports whether s is one of the known states.
func (s AssignmentState) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateStopping, StateFailed:
		return true
	}
	return false
}

// Assignment binds a camera to a worker handle and its reconciliation bookkeeping.
// It is the only entity persisted by the Mapping Store.
type Assignment struct {
	// CameraID is the partition key. Unique per assignment.
	CameraID string

	// WorkerHandle is the opaque reference returned by the launcher.
	// Empty while a launch is pending.
	WorkerHandle string

	// State is the current state machine position.
	State AssignmentState

	// LastReconciledAt is the time of the last tick that wrote this record.
	LastReconciledAt time.Time

	// FailureCount counts consecutive launch failures. Reset on success.
	FailureCount int

	// Version is bumped by the store on every successful write.
	// Zero means the record has never been written.
	Version int64

	// LaunchStartedAt is set while a tick owns an in-flight launch.
	// Other ticks leave the record alone until the launch lease expires.
	LaunchStartedAt time.Time

	// FailedAt is when the record entered FAILED. The cooldown is measured from it.
	FailedAt time.Time

	// LastError is the most recent launch or stop error, for operators.
	LastError string

	// DivergedSince is when desired and observed state first disagreed for
	// this camera. Zero while the camera is converged.
	DivergedSince time.Time
}

// WorkerConfig is passed through to the launcher untouched.
type WorkerConfig struct {
	// OutputBucket is where the worker uploads extracted frames.
	OutputBucket string

	// ProcessRateFPS is how many frames per second the worker extracts.
	ProcessRateFPS int

	// Region is the cloud region the worker runs and reads streams in.
	Region string

	// Extra holds additional environment passed to the worker.
	Extra map[string]string
}

// LaunchRequest describes a single worker launch.
type LaunchRequest struct {
	// CameraID is the stream the worker consumes.
	CameraID string

	// Config is the worker configuration.
	Config WorkerConfig

	// Token is stable for one claim of one camera, so a launcher that
	// supports client tokens can deduplicate a retried request.
	Token string
}

// Action describes what a tick did (or declined to do) for one camera.
type Action string

const (
	ActionLaunched        Action = "launched"
	ActionLaunchFailed    Action = "launch_failed"
	ActionMarkedFailed    Action = "marked_failed"
	ActionStopped         Action = "stopped"
	ActionStopFailed      Action = "stop_failed"
	ActionRestarting      Action = "restarting"
	ActionHealthy         Action = "healthy"
	ActionDeleted         Action = "deleted"
	ActionSkippedFailed   Action = "skipped_failed"
	ActionSkippedInFlight Action = "skipped_in_flight"
	ActionConflict        Action = "conflict"
	ActionTransientError  Action = "transient_error"
)

// CameraOutcome is the per-camera result of one tick.
type CameraOutcome struct {
	CameraID string
	Action   Action

	// State is the record state after the tick. Empty when the record is absent.
	State AssignmentState

	// WorkerHandle is the handle recorded after the tick, if any.
	WorkerHandle string

	// Alert is set when the camera has diverged for longer than the configured threshold.
	Alert bool

	// Err is the error behind a failed or transient outcome.
	Err error
}

// Report summarises a tick. A tick always produces a report.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration

	// Desired is the number of cameras the registry reported.
	Desired int

	// Observed is the number of assignments read from the store.
	Observed int

	// Outcomes holds one entry per camera touched or inspected, sorted by CameraID.
	Outcomes []CameraOutcome

	// Err is set when the desired or observed snapshot could not be read.
	// No actions are taken in that case.
	Err error
}

// Count returns how many outcomes carry the given action.
func (r Report) Count(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// Failed returns the outcomes whose camera is in (or has just entered) FAILED.
func (r Report) Failed() []CameraOutcome {
	var out []CameraOutcome
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// Alerts returns the outcomes flagged for persistent divergence.
func (r Report) Alerts() []CameraOutcome {
	var out []CameraOutcome
	for _, o := range r.Outcomes {
		if o.Alert {
			out = append(out, o)
		}
	}
	return out
}
