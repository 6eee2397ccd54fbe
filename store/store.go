package store

import (
	"context"

	"github.com/camwatch/frameparser-autoscaler"
)

// AssignmentStore is the Mapping Store: durable per-camera assignment records.
// Every mutation is conditional on the record version so that overlapping
// ticks cannot both act on the same camera. Implementations must be safe for
// concurrent use from multiple processes.
type AssignmentStore interface {
	// List returns every assignment. The order is unspecified.
	// Returns an empty slice if the store holds no assignments.
	List(ctx context.Context) ([]autoscaler.Assignment, error)

	// Get returns the assignment for a camera.
	// Returns ErrAssignmentNotFound if no record exists.
	Get(ctx context.Context, cameraID string) (autoscaler.Assignment, error)

	// Create inserts a new assignment if none exists for the camera.
	// The stored record gets Version 1 and is returned.
	// Returns ErrVersionConflict if a record already exists.
	Create(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error)

	// Update replaces the record if its stored version equals a.Version.
	// The stored record gets a.Version+1 and is returned.
	// Returns ErrVersionConflict if the version differs or the record is gone.
	Update(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error)

	// Delete removes the record if its stored version equals version.
	// Returns ErrVersionConflict if the version differs or the record is gone.
	Delete(ctx context.Context, cameraID string, version int64) error
}
