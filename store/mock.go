package store

import (
	"context"
	"sync"

	"github.com/camwatch/frameparser-autoscaler"
)

// MockAssignmentStore is a configurable mock implementation of AssignmentStore
// for use in tests. Each method records its call, then runs the matching Func
// if set, otherwise delegates to Next if set, otherwise returns zero values.
type MockAssignmentStore struct {
	mu sync.RWMutex

	// Next receives calls whose Func is not set (optional).
	Next AssignmentStore

	// ListFunc is called by List if set.
	ListFunc func(ctx context.Context) ([]autoscaler.Assignment, error)

	// GetFunc is called by Get if set.
	GetFunc func(ctx context.Context, cameraID string) (autoscaler.Assignment, error)

	// CreateFunc is called by Create if set.
	CreateFunc func(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error)

	// UpdateFunc is called by Update if set.
	UpdateFunc func(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error)

	// DeleteFunc is called by Delete if set.
	DeleteFunc func(ctx context.Context, cameraID string, version int64) error

	// Call tracking
	ListCalls   int
	GetCalls    []string
	CreateCalls []autoscaler.Assignment
	UpdateCalls []autoscaler.Assignment
	DeleteCalls []DeleteCall
}

// DeleteCall records the parameters of a single Delete call.
type DeleteCall struct {
	CameraID string
	Version  int64
}

// Compile-time check that MockAssignmentStore implements AssignmentStore.
var _ AssignmentStore = (*MockAssignmentStore)(nil)

// NewMockAssignmentStore creates a mock that delegates unset methods to next.
// next may be nil.
func NewMockAssignmentStore(next AssignmentStore) *MockAssignmentStore {
	return &MockAssignmentStore{Next: next}
}

// List implements AssignmentStore.
func (m *MockAssignmentStore) List(ctx context.Context) ([]autoscaler.Assignment, error) {
	m.mu.Lock()
	m.ListCalls++
	fn := m.ListFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if m.Next != nil {
		return m.Next.List(ctx)
	}

	return []autoscaler.Assignment{}, nil
}

// Get implements AssignmentStore.
func (m *MockAssignmentStore) Get(ctx context.Context, cameraID string) (autoscaler.Assignment, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, cameraID)
	fn := m.GetFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, cameraID)
	}
	if m.Next != nil {
		return m.Next.Get(ctx, cameraID)
	}

	return autoscaler.Assignment{}, ErrAssignmentNotFound
}

// Create implements AssignmentStore.
func (m *MockAssignmentStore) Create(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, a)
	fn := m.CreateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, a)
	}
	if m.Next != nil {
		return m.Next.Create(ctx, a)
	}

	a.Version = 1
	return a, nil
}

// Update implements AssignmentStore.
func (m *MockAssignmentStore) Update(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	m.mu.Lock()
	m.UpdateCalls = append(m.UpdateCalls, a)
	fn := m.UpdateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, a)
	}
	if m.Next != nil {
		return m.Next.Update(ctx, a)
	}

	a.Version++
	return a, nil
}

// Delete implements AssignmentStore.
func (m *MockAssignmentStore) Delete(ctx context.Context, cameraID string, version int64) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, DeleteCall{CameraID: cameraID, Version: version})
	fn := m.DeleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, cameraID, version)
	}
	if m.Next != nil {
		return m.Next.Delete(ctx, cameraID, version)
	}

	return nil
}

// Reset clears all call tracking data.
func (m *MockAssignmentStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls = 0
	m.GetCalls = nil
	m.CreateCalls = nil
	m.UpdateCalls = nil
	m.DeleteCalls = nil
}
