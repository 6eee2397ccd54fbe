package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/store"
)

// Store is an in-memory implementation of AssignmentStore for tests and
// single-process deployments. Conditional writes are checked under a
// sync.RWMutex, which gives the same compare-and-swap semantics as the
// durable backends.
type Store struct {
	mu          sync.RWMutex
	assignments map[string]autoscaler.Assignment // cameraID -> assignment
}

// Compile-time check that Store implements AssignmentStore.
var _ store.AssignmentStore = (*Store)(nil)

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{
		assignments: make(map[string]autoscaler.Assignment),
	}
}

// List returns every assignment sorted by camera ID.
func (s *Store) List(ctx context.Context) ([]autoscaler.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]autoscaler.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CameraID < out[j].CameraID
	})

	return out, nil
}

// Get returns the assignment for a camera.
// Returns store.ErrAssignmentNotFound if no record exists.
func (s *Store) Get(ctx context.Context, cameraID string) (autoscaler.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[cameraID]
	if !ok {
		return autoscaler.Assignment{}, store.ErrAssignmentNotFound
	}

	return a, nil
}

// Create inserts a with Version 1.
// Returns store.ErrVersionConflict if the camera already has a record.
func (s *Store) Create(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[a.CameraID]; ok {
		return autoscaler.Assignment{}, store.ErrVersionConflict
	}

	a.Version = 1
	s.assignments[a.CameraID] = a

	return a, nil
}

// Update replaces the record if the stored version equals a.Version.
// Returns store.ErrVersionConflict on mismatch or if the record is gone.
func (s *Store) Update(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.assignments[a.CameraID]
	if !ok || current.Version != a.Version {
		return autoscaler.Assignment{}, store.ErrVersionConflict
	}

	a.Version++
	s.assignments[a.CameraID] = a

	return a, nil
}

// Delete removes the record if the stored version equals version.
// Returns store.ErrVersionConflict on mismatch or if the record is gone.
func (s *Store) Delete(ctx context.Context, cameraID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.assignments[cameraID]
	if !ok || current.Version != version {
		return store.ErrVersionConflict
	}

	delete(s.assignments, cameraID)

	return nil
}

// Len returns the number of stored assignments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.assignments)
}
