package registry

import (
	"context"
	"sync"
)

// MockRegistry is a mock implementation of StreamRegistry for testing.
// It returns Cameras unless ListFunc is set.
type MockRegistry struct {
	mu sync.Mutex

	// Cameras is returned by ListDesiredCameras when ListFunc is nil.
	Cameras []string

	// Err is returned alongside Cameras when ListFunc is nil.
	Err error

	// ListFunc is called by ListDesiredCameras if set.
	ListFunc func(ctx context.Context) ([]string, error)

	// ListCalls counts ListDesiredCameras calls.
	ListCalls int
}

// Compile-time check that MockRegistry implements StreamRegistry.
var _ StreamRegistry = (*MockRegistry)(nil)

// ListDesiredCameras implements StreamRegistry.
func (m *MockRegistry) ListDesiredCameras(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	m.ListCalls++
	fn := m.ListFunc
	cameras := append([]string(nil), m.Cameras...)
	err := m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if err != nil {
		return nil, err
	}

	return cameras, nil
}

// SetCameras replaces the returned cameras.
func (m *MockRegistry) SetCameras(cameraIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cameras = cameraIDs
}
