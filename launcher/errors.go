package launcher

import "errors"

var (
	// ErrLaunchRejected indicates the platform accepted the request but
	// refused to place the worker (capacity, bad task definition, ...).
	ErrLaunchRejected = errors.New("launch rejected")

	// ErrTransient indicates a retryable platform failure such as throttling.
	ErrTransient = errors.New("transient launcher error")
)
