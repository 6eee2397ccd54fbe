// Package reconciler implements the control loop that keeps exactly one frame
// parser worker running per desired camera.
//
// A tick reads the desired set from the stream registry and the observed
// assignments from the store, plans one step per camera and executes the steps
// concurrently. Every store write is conditional on the version read at the
// start of the tick, so overlapping ticks never both act on the same camera:
// the loser sees store.ErrVersionConflict and leaves the camera to the next tick.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/store"
)

// tokenNamespace scopes launch tokens to this system.
var tokenNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/camwatch/frameparser-autoscaler/launch"))

// Reconciler diffs desired against observed state and drives the launcher.
// It keeps no state between ticks.
type Reconciler struct {
	config Config
}

// Compile-time check that Reconciler implements autoscaler.Reconciler.
var _ autoscaler.Reconciler = (*Reconciler)(nil)

// New creates a Reconciler. Zero values in cfg are replaced by defaults.
// Returns an error wrapping autoscaler.ErrInvalidConfig if a required
// collaborator is missing or a value is out of range.
func New(cfg Config) (*Reconciler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Reconciler{config: cfg}, nil
}

// LaunchToken returns the idempotency token for one claim of a camera.
// The same camera and claim version always yield the same token.
func LaunchToken(cameraID string, version int64) string {
	return uuid.NewSHA1(tokenNamespace, []byte(cameraID+"/"+strconv.FormatInt(version, 10))).String()
}

// Tick runs one reconciliation pass. It never returns an error: failures are
// reported per camera, and a snapshot failure is reported in Report.Err with
// no actions taken.
func (r *Reconciler) Tick(ctx context.Context) autoscaler.Report {
	start := r.config.Clock.Now()
	report := autoscaler.Report{StartedAt: start}

	desired, observed, err := r.snapshot(ctx)
	if err != nil {
		report.Err = err
		report.Duration = r.config.Clock.Since(start)
		r.logError(ctx, "tick skipped, snapshot unavailable", "error", err)
		r.record(report)
		return report
	}
	report.Desired = len(desired)
	report.Observed = len(observed)

	steps := Plan(desired, observed, start, r.config.policy())
	outcomes := make([]autoscaler.CameraOutcome, len(steps))

	var g errgroup.Group
	g.SetLimit(r.config.MaxConcurrency)
	for i, step := range steps {
		g.Go(func() error {
			outcomes[i] = r.execute(ctx, step, start)
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = outcomes
	report.Duration = r.config.Clock.Since(start)

	r.logInfo(ctx, "tick complete",
		"desired", report.Desired,
		"observed", report.Observed,
		"launched", report.Count(autoscaler.ActionLaunched),
		"stopped", report.Count(autoscaler.ActionStopped)+report.Count(autoscaler.ActionRestarting),
		"failed", len(report.Failed()),
		"conflicts", report.Count(autoscaler.ActionConflict),
		"duration", report.Duration)
	r.record(report)

	return report
}

// ClearFailure resets a FAILED assignment to PENDING with a zero failure
// count. The next tick launches it if the camera is still desired.
// Returns store.ErrAssignmentNotFound if there is no record,
// autoscaler.ErrNotFailed if the record is not FAILED, and
// store.ErrVersionConflict if a tick changed it concurrently.
func (r *Reconciler) ClearFailure(ctx context.Context, cameraID string) (autoscaler.Assignment, error) {
	var current autoscaler.Assignment
	err := r.call(ctx, func(ctx context.Context) (err error) {
		current, err = r.config.Store.Get(ctx, cameraID)
		return err
	})
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to get assignment: %w", err)
	}

	if current.State != autoscaler.StateFailed {
		return autoscaler.Assignment{}, fmt.Errorf("%w: camera %s is %s", autoscaler.ErrNotFailed, cameraID, current.State)
	}

	next := current
	next.State = autoscaler.StatePending
	next.FailureCount = 0
	next.FailedAt = time.Time{}
	next.LaunchStartedAt = time.Time{}
	next.LastError = ""
	next.LastReconciledAt = r.config.Clock.Now()

	var written autoscaler.Assignment
	err = r.call(ctx, func(ctx context.Context) (err error) {
		written, err = r.config.Store.Update(ctx, next)
		return err
	})
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to clear assignment: %w", err)
	}

	r.logInfo(ctx, "failure cleared by operator", "cameraID", cameraID)

	return written, nil
}

// snapshot reads desired and observed state, each under its own timeout.
// The desired list is deduplicated and sorted.
func (r *Reconciler) snapshot(ctx context.Context) ([]string, []autoscaler.Assignment, error) {
	var desired []string
	err := r.call(ctx, func(ctx context.Context) (err error) {
		desired, err = r.config.Registry.ListDesiredCameras(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to list desired cameras: %w", autoscaler.ErrSnapshotUnavailable, err)
	}

	var observed []autoscaler.Assignment
	err = r.call(ctx, func(ctx context.Context) (err error) {
		observed, err = r.config.Store.List(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to list assignments: %w", autoscaler.ErrSnapshotUnavailable, err)
	}

	return unique(desired), observed, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// execute runs one step and flags persistent divergence.
func (r *Reconciler) execute(ctx context.Context, step Step, tickStart time.Time) autoscaler.CameraOutcome {
	var out autoscaler.CameraOutcome

	switch step.Decision {
	case DecisionCreate:
		out = r.create(ctx, step.CameraID)
	case DecisionClaim:
		out = r.claim(ctx, *step.Current)
	case DecisionResetAfterCooldown:
		out = r.resetAfterCooldown(ctx, *step.Current)
	case DecisionHealthCheck:
		out = r.healthCheck(ctx, *step.Current)
	case DecisionStop:
		out = r.drain(ctx, *step.Current, autoscaler.ActionStopped)
	case DecisionRetryStop:
		out = r.stopAndDelete(ctx, *step.Current, autoscaler.ActionStopped)
	case DecisionDelete:
		out = r.delete(ctx, *step.Current)
	case DecisionSkipInFlight:
		r.logDebug(ctx, "launch in flight elsewhere, skipping", "cameraID", step.CameraID)
		out = autoscaler.CameraOutcome{
			CameraID: step.CameraID,
			Action:   autoscaler.ActionSkippedInFlight,
			State:    autoscaler.StatePending,
		}
	case DecisionSkipFailed:
		r.logDebug(ctx, "camera failed, waiting for cooldown", "cameraID", step.CameraID,
			"failureCount", step.Current.FailureCount, "failedAt", step.Current.FailedAt)
		out = autoscaler.CameraOutcome{
			CameraID: step.CameraID,
			Action:   autoscaler.ActionSkippedFailed,
			State:    autoscaler.StateFailed,
		}
	}

	if step.Current != nil && !converged(out.Action) && r.diverged(*step.Current, tickStart) {
		out.Alert = true
		r.logWarn(ctx, "camera diverged for too long",
			"cameraID", step.CameraID,
			"state", step.Current.State,
			"divergedSince", step.Current.DivergedSince,
			"failureCount", step.Current.FailureCount,
			"lastError", step.Current.LastError)
	}

	return out
}

// converged reports whether the action leaves the camera matching desired state.
func converged(a autoscaler.Action) bool {
	switch a {
	case autoscaler.ActionLaunched, autoscaler.ActionHealthy, autoscaler.ActionStopped, autoscaler.ActionDeleted:
		return true
	}
	return false
}

func (r *Reconciler) diverged(a autoscaler.Assignment, now time.Time) bool {
	return !a.DivergedSince.IsZero() && now.Sub(a.DivergedSince) >= r.config.divergenceThreshold()
}

// create writes a new PENDING record holding the launch lease, then launches.
func (r *Reconciler) create(ctx context.Context, cameraID string) autoscaler.CameraOutcome {
	now := r.config.Clock.Now()
	rec := autoscaler.Assignment{
		CameraID:         cameraID,
		State:            autoscaler.StatePending,
		LastReconciledAt: now,
		LaunchStartedAt:  now,
		DivergedSince:    now,
	}

	var created autoscaler.Assignment
	err := r.call(ctx, func(ctx context.Context) (err error) {
		created, err = r.config.Store.Create(ctx, rec)
		return err
	})
	if err != nil {
		return r.writeFailed(ctx, cameraID, "", "create assignment", err)
	}

	return r.launch(ctx, created)
}

// claim takes the launch lease of a PENDING record, then launches.
func (r *Reconciler) claim(ctx context.Context, current autoscaler.Assignment) autoscaler.CameraOutcome {
	now := r.config.Clock.Now()
	next := current
	next.LaunchStartedAt = now
	next.LastReconciledAt = now
	if next.DivergedSince.IsZero() {
		next.DivergedSince = now
	}

	claimed, err := r.update(ctx, next)
	if err != nil {
		return r.writeFailed(ctx, current.CameraID, current.State, "claim assignment", err)
	}

	return r.launch(ctx, claimed)
}

// resetAfterCooldown moves a FAILED record back to PENDING, holding the lease, then launches.
func (r *Reconciler) resetAfterCooldown(ctx context.Context, current autoscaler.Assignment) autoscaler.CameraOutcome {
	now := r.config.Clock.Now()
	next := current
	next.State = autoscaler.StatePending
	next.FailureCount = 0
	next.FailedAt = time.Time{}
	next.LaunchStartedAt = now
	next.LastReconciledAt = now
	if next.DivergedSince.IsZero() {
		next.DivergedSince = now
	}

	claimed, err := r.update(ctx, next)
	if err != nil {
		return r.writeFailed(ctx, current.CameraID, current.State, "reset failed assignment", err)
	}

	r.logInfo(ctx, "cooldown elapsed, retrying launch", "cameraID", current.CameraID, "failedAt", current.FailedAt)

	return r.launch(ctx, claimed)
}

// launch starts a worker for a PENDING record this tick owns and records the result.
func (r *Reconciler) launch(ctx context.Context, rec autoscaler.Assignment) autoscaler.CameraOutcome {
	req := autoscaler.LaunchRequest{
		CameraID: rec.CameraID,
		Config:   r.config.Worker,
		Token:    LaunchToken(rec.CameraID, rec.Version),
	}

	var handle string
	err := r.call(ctx, func(ctx context.Context) (err error) {
		handle, err = r.config.Launcher.Start(ctx, req)
		return err
	})
	if err != nil {
		return r.launchFailed(ctx, rec, err)
	}

	next := rec
	next.State = autoscaler.StateRunning
	next.WorkerHandle = handle
	next.FailureCount = 0
	next.LaunchStartedAt = time.Time{}
	next.FailedAt = time.Time{}
	next.LastError = ""
	next.DivergedSince = time.Time{}
	next.LastReconciledAt = r.config.Clock.Now()

	if _, err := r.update(ctx, next); err != nil {
		// Nobody else will ever learn about this handle.
		r.compensate(ctx, rec.CameraID, handle)
		return r.writeFailed(ctx, rec.CameraID, rec.State, "record launched worker", err)
	}

	r.logInfo(ctx, "worker launched", "cameraID", rec.CameraID, "handle", handle)

	return autoscaler.CameraOutcome{
		CameraID:     rec.CameraID,
		Action:       autoscaler.ActionLaunched,
		State:        autoscaler.StateRunning,
		WorkerHandle: handle,
	}
}

// launchFailed bumps the failure count and moves the record to FAILED at the ceiling.
func (r *Reconciler) launchFailed(ctx context.Context, rec autoscaler.Assignment, launchErr error) autoscaler.CameraOutcome {
	now := r.config.Clock.Now()
	next := rec
	next.FailureCount++
	next.LastError = launchErr.Error()
	next.LaunchStartedAt = time.Time{}
	next.LastReconciledAt = now

	action := autoscaler.ActionLaunchFailed
	if next.FailureCount >= r.config.RetryCeiling {
		next.State = autoscaler.StateFailed
		next.FailedAt = now
		action = autoscaler.ActionMarkedFailed
	}

	if _, err := r.update(ctx, next); err != nil {
		r.logWarn(ctx, "launch failed", "cameraID", rec.CameraID, "error", launchErr)
		return r.writeFailed(ctx, rec.CameraID, rec.State, "record launch failure", err)
	}

	if action == autoscaler.ActionMarkedFailed {
		r.logError(ctx, "launch failed, camera marked failed",
			"cameraID", rec.CameraID, "failureCount", next.FailureCount, "error", launchErr)
	} else {
		r.logWarn(ctx, "launch failed, will retry",
			"cameraID", rec.CameraID, "failureCount", next.FailureCount, "error", launchErr)
	}

	return autoscaler.CameraOutcome{
		CameraID: rec.CameraID,
		Action:   action,
		State:    next.State,
		Err:      launchErr,
	}
}

// compensate stops a worker whose launch could not be recorded. Best effort:
// it runs even if ctx is already cancelled.
func (r *Reconciler) compensate(ctx context.Context, cameraID, handle string) {
	err := r.call(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return r.config.Launcher.Stop(ctx, handle)
	})
	if err != nil {
		r.logError(ctx, "failed to stop unrecorded worker", "cameraID", cameraID, "handle", handle, "error", err)
		return
	}
	r.logWarn(ctx, "stopped unrecorded worker", "cameraID", cameraID, "handle", handle)
}

// healthCheck probes a RUNNING worker that should keep running.
func (r *Reconciler) healthCheck(ctx context.Context, current autoscaler.Assignment) autoscaler.CameraOutcome {
	var alive bool
	err := r.call(ctx, func(ctx context.Context) (err error) {
		alive, err = r.config.Launcher.IsAlive(ctx, current.WorkerHandle)
		return err
	})
	if err != nil {
		r.logWarn(ctx, "health check failed, leaving record unchanged",
			"cameraID", current.CameraID, "handle", current.WorkerHandle, "error", err)
		return autoscaler.CameraOutcome{
			CameraID:     current.CameraID,
			Action:       autoscaler.ActionTransientError,
			State:        current.State,
			WorkerHandle: current.WorkerHandle,
			Err:          err,
		}
	}

	if !alive {
		r.logWarn(ctx, "worker is dead, restarting", "cameraID", current.CameraID, "handle", current.WorkerHandle)
		return r.drain(ctx, current, autoscaler.ActionRestarting)
	}

	next := current
	next.LastReconciledAt = r.config.Clock.Now()
	next.DivergedSince = time.Time{}
	if _, err := r.update(ctx, next); err != nil {
		return r.writeFailed(ctx, current.CameraID, current.State, "refresh assignment", err)
	}

	return autoscaler.CameraOutcome{
		CameraID:     current.CameraID,
		Action:       autoscaler.ActionHealthy,
		State:        autoscaler.StateRunning,
		WorkerHandle: current.WorkerHandle,
	}
}

// drain moves a RUNNING record to STOPPING, then stops and deletes it.
// A dead worker's camera is recreated by the next tick.
func (r *Reconciler) drain(ctx context.Context, current autoscaler.Assignment, done autoscaler.Action) autoscaler.CameraOutcome {
	now := r.config.Clock.Now()
	next := current
	next.State = autoscaler.StateStopping
	next.LastReconciledAt = now
	if next.DivergedSince.IsZero() {
		next.DivergedSince = now
	}

	stopping, err := r.update(ctx, next)
	if err != nil {
		return r.writeFailed(ctx, current.CameraID, current.State, "mark assignment stopping", err)
	}

	return r.stopAndDelete(ctx, stopping, done)
}

// stopAndDelete stops the record's worker and deletes the record once the
// stop is confirmed. A failed stop leaves the record STOPPING for the next tick.
func (r *Reconciler) stopAndDelete(ctx context.Context, rec autoscaler.Assignment, done autoscaler.Action) autoscaler.CameraOutcome {
	if rec.WorkerHandle != "" {
		err := r.call(ctx, func(ctx context.Context) error {
			return r.config.Launcher.Stop(ctx, rec.WorkerHandle)
		})
		if err != nil {
			r.logWarn(ctx, "stop failed, will retry", "cameraID", rec.CameraID, "handle", rec.WorkerHandle, "error", err)
			return autoscaler.CameraOutcome{
				CameraID:     rec.CameraID,
				Action:       autoscaler.ActionStopFailed,
				State:        rec.State,
				WorkerHandle: rec.WorkerHandle,
				Err:          err,
			}
		}
	}

	err := r.call(ctx, func(ctx context.Context) error {
		return r.config.Store.Delete(ctx, rec.CameraID, rec.Version)
	})
	if err != nil {
		return r.writeFailed(ctx, rec.CameraID, rec.State, "delete assignment", err)
	}

	r.logInfo(ctx, "worker stopped", "cameraID", rec.CameraID, "handle", rec.WorkerHandle, "action", done)

	return autoscaler.CameraOutcome{
		CameraID: rec.CameraID,
		Action:   done,
	}
}

// delete removes a record that owns no worker.
func (r *Reconciler) delete(ctx context.Context, current autoscaler.Assignment) autoscaler.CameraOutcome {
	err := r.call(ctx, func(ctx context.Context) error {
		return r.config.Store.Delete(ctx, current.CameraID, current.Version)
	})
	if err != nil {
		return r.writeFailed(ctx, current.CameraID, current.State, "delete assignment", err)
	}

	r.logInfo(ctx, "assignment removed", "cameraID", current.CameraID, "state", current.State)

	return autoscaler.CameraOutcome{
		CameraID: current.CameraID,
		Action:   autoscaler.ActionDeleted,
	}
}

func (r *Reconciler) update(ctx context.Context, next autoscaler.Assignment) (autoscaler.Assignment, error) {
	var written autoscaler.Assignment
	err := r.call(ctx, func(ctx context.Context) (err error) {
		written, err = r.config.Store.Update(ctx, next)
		return err
	})
	return written, err
}

// writeFailed turns a failed store write into an outcome. A version conflict
// means another tick handled the camera and is not an error.
func (r *Reconciler) writeFailed(ctx context.Context, cameraID string, prev autoscaler.AssignmentState, op string, err error) autoscaler.CameraOutcome {
	if errors.Is(err, store.ErrVersionConflict) {
		r.logInfo(ctx, "assignment changed concurrently, skipping", "cameraID", cameraID, "op", op)
		return autoscaler.CameraOutcome{
			CameraID: cameraID,
			Action:   autoscaler.ActionConflict,
			State:    prev,
		}
	}

	r.logWarn(ctx, "store write failed", "cameraID", cameraID, "op", op, "error", err)
	return autoscaler.CameraOutcome{
		CameraID: cameraID,
		Action:   autoscaler.ActionTransientError,
		State:    prev,
		Err:      fmt.Errorf("failed to %s: %w", op, err),
	}
}

// call runs fn under the per-call timeout.
func (r *Reconciler) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (r *Reconciler) record(report autoscaler.Report) {
	if r.config.Metrics != nil {
		r.config.Metrics.RecordTick(report)
	}
}

func (r *Reconciler) logDebug(ctx context.Context, msg string, keyvals ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(ctx, msg, keyvals...)
	}
}

func (r *Reconciler) logInfo(ctx context.Context, msg string, keyvals ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, msg, keyvals...)
	}
}

func (r *Reconciler) logWarn(ctx context.Context, msg string, keyvals ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Warn(ctx, msg, keyvals...)
	}
}

func (r *Reconciler) logError(ctx context.Context, msg string, keyvals ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Error(ctx, msg, keyvals...)
	}
}
