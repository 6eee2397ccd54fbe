// Package autoscaler keeps a fleet of per-camera frame-parser workers in sync
// with the set of camera streams that currently need parsing.
//
// The desired set comes from a stream registry, the observed set from a
// mapping store of Assignments, and workers are started and stopped through a
// launcher. Ticks are stateless: everything that survives between ticks lives
// in the mapping store, and every write is conditional on the record version
// so overlapping ticks never both act on the same camera.
package autoscaler

import "context"

// Reconciler runs reconciliation passes.
type Reconciler interface {
	// Tick runs one full diff-and-act pass and reports the outcome per camera.
	// It never fails outright: snapshot errors are carried in Report.Err.
	Tick(ctx context.Context) Report

	// ClearFailure moves a FAILED assignment back to PENDING with a reset
	// failure count so the next tick retries the launch.
	ClearFailure(ctx context.Context, cameraID string) (Assignment, error)
}

// Logger is the structured logger used across the module.
// Implementations receive alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...interface{})
	Info(ctx context.Context, msg string, keyvals ...interface{})
	Warn(ctx context.Context, msg string, keyvals ...interface{})
	Error(ctx context.Context, msg string, keyvals ...interface{})
}
