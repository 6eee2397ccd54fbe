package launcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/camwatch/frameparser-autoscaler"
)

// MockLauncher is an in-memory fleet that implements Launcher.
// Started workers stay alive until stopped or killed. Each method records its
// call, then runs the matching Func if set, otherwise applies the fleet
// behaviour.
type MockLauncher struct {
	mu      sync.Mutex
	seq     int
	workers map[string]*worker // handle -> worker

	// StartFunc replaces the default Start behaviour if set.
	StartFunc func(ctx context.Context, req autoscaler.LaunchRequest) (string, error)

	// StopFunc replaces the default Stop behaviour if set.
	StopFunc func(ctx context.Context, handle string) error

	// IsAliveFunc replaces the default IsAlive behaviour if set.
	IsAliveFunc func(ctx context.Context, handle string) (bool, error)

	// Call tracking
	StartCalls   []autoscaler.LaunchRequest
	StopCalls    []string
	IsAliveCalls []string
}

type worker struct {
	cameraID string
	alive    bool
}

// Compile-time check that MockLauncher implements Launcher.
var _ Launcher = (*MockLauncher)(nil)

// NewMockLauncher creates an empty fleet.
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{
		workers: make(map[string]*worker),
	}
}

// Start records the call and, by default, launches a live worker.
func (m *MockLauncher) Start(ctx context.Context, req autoscaler.LaunchRequest) (string, error) {
	m.mu.Lock()
	m.StartCalls = append(m.StartCalls, req)
	fn := m.StartFunc
	m.mu.Unlock()

	if fn != nil {
		handle, err := fn(ctx, req)
		if err == nil && handle != "" {
			m.mu.Lock()
			m.workers[handle] = &worker{cameraID: req.CameraID, alive: true}
			m.mu.Unlock()
		}
		return handle, err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	handle := fmt.Sprintf("task-%s-%d", req.CameraID, m.seq)
	m.workers[handle] = &worker{cameraID: req.CameraID, alive: true}

	return handle, nil
}

// Stop records the call and, by default, marks the worker stopped.
// Unknown handles are accepted.
func (m *MockLauncher) Stop(ctx context.Context, handle string) error {
	m.mu.Lock()
	m.StopCalls = append(m.StopCalls, handle)
	fn := m.StopFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, handle); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[handle]; ok {
		w.alive = false
	}

	return nil
}

// IsAlive records the call and, by default, reports the worker's liveness.
// Unknown handles are dead.
func (m *MockLauncher) IsAlive(ctx context.Context, handle string) (bool, error) {
	m.mu.Lock()
	m.IsAliveCalls = append(m.IsAliveCalls, handle)
	fn := m.IsAliveFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, handle)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[handle]

	return ok && w.alive, nil
}

// Kill simulates a worker crash.
func (m *MockLauncher) Kill(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[handle]; ok {
		w.alive = false
	}
}

// Running returns the handles of live workers for a camera, sorted.
func (m *MockLauncher) Running(cameraID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for handle, w := range m.workers {
		if w.alive && w.cameraID == cameraID {
			out = append(out, handle)
		}
	}
	sort.Strings(out)

	return out
}

// RunningCameras returns how many live workers each camera has.
func (m *MockLauncher) RunningCameras() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int)
	for _, w := range m.workers {
		if w.alive {
			out[w.cameraID]++
		}
	}

	return out
}

// Reset clears the call history. The fleet is kept.
func (m *MockLauncher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls = nil
	m.StopCalls = nil
	m.IsAliveCalls = nil
}

// Calls returns the number of Start, Stop and IsAlive calls recorded.
func (m *MockLauncher) Calls() (start, stop, isAlive int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.StartCalls), len(m.StopCalls), len(m.IsAliveCalls)
}
