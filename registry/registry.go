// Package registry provides the source of desired state: the cameras that
// currently need a frame parser.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// StreamRegistry enumerates the cameras that currently require a worker.
// ListDesiredCameras is a pure read and may be called any number of times.
type StreamRegistry interface {
	ListDesiredCameras(ctx context.Context) ([]string, error)
}

// Static is a fixed, mutable set of desired cameras. It is safe for concurrent use.
type Static struct {
	mu      sync.RWMutex
	cameras map[string]struct{}
}

// Compile-time check that Static implements StreamRegistry.
var _ StreamRegistry = (*Static)(nil)

// NewStatic creates a Static registry. Blank IDs are ignored.
func NewStatic(cameraIDs ...string) *Static {
	s := &Static{cameras: make(map[string]struct{})}
	s.Set(cameraIDs...)
	return s
}

// ParseStatic builds a Static registry from a comma separated list.
func ParseStatic(list string) *Static {
	return NewStatic(strings.Split(list, ",")...)
}

// Set replaces the desired set.
func (s *Static) Set(cameraIDs ...string) {
	cameras := make(map[string]struct{}, len(cameraIDs))
	for _, id := range cameraIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			cameras[id] = struct{}{}
		}
	}

	s.mu.Lock()
	s.cameras = cameras
	s.mu.Unlock()
}

// Add marks a camera as desired.
func (s *Static) Add(cameraID string) {
	s.mu.Lock()
	s.cameras[cameraID] = struct{}{}
	s.mu.Unlock()
}

// Remove drops a camera from the desired set.
func (s *Static) Remove(cameraID string) {
	s.mu.Lock()
	delete(s.cameras, cameraID)
	s.mu.Unlock()
}

// ListDesiredCameras returns the desired set sorted.
func (s *Static) ListDesiredCameras(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.cameras))
	for id := range s.cameras {
		out = append(out, id)
	}
	sort.Strings(out)

	return out, nil
}

// Func adapts a function to StreamRegistry.
type Func func(ctx context.Context) ([]string, error)

// ListDesiredCameras calls f.
func (f Func) ListDesiredCameras(ctx context.Context) ([]string, error) {
	return f(ctx)
}
