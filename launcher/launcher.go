// Package launcher defines the contract with the platform that runs frame
// parser workers, plus an in-memory fleet for tests and local runs.
package launcher

import (
	"context"

	"github.com/camwatch/frameparser-autoscaler"
)

// Launcher starts, stops and probes workers on the orchestration platform.
// Each call is a network operation; callers bound it with a context deadline.
type Launcher interface {
	// Start launches a worker for req.CameraID and returns its handle.
	// It must be safe to call while a prior Start for the same camera is in
	// flight. Deduplication is the caller's job.
	Start(ctx context.Context, req autoscaler.LaunchRequest) (string, error)

	// Stop stops the worker. Stopping a handle that is already stopped or
	// unknown returns nil.
	Stop(ctx context.Context, handle string) error

	// IsAlive reports whether the worker is still running.
	// It returns (false, nil) only when the platform definitively says the
	// handle is gone or stopped. Any other failure is returned as an error
	// and must not drive a state transition.
	IsAlive(ctx context.Context, handle string) (bool, error)
}
