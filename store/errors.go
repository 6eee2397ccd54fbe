package store

import "errors"

var (
	// ErrAssignmentNotFound indicates no assignment exists for the camera.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrVersionConflict indicates a conditional write lost against another
	// writer. Callers treat it as "a concurrent tick already handled this camera".
	ErrVersionConflict = errors.New("assignment version conflict")
)
