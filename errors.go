package autoscaler

import "errors"

var (
	// ErrInvalidConfig indicates a required configuration value is missing or malformed.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNotFailed indicates an operator tried to clear an assignment that is not FAILED.
	ErrNotFailed = errors.New("assignment is not failed")

	// ErrSnapshotUnavailable indicates the tick could not read desired or observed state.
	// Nothing is changed when this happens; the next tick retries.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
)
