package launcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/frameparser-autoscaler"
)

func TestMockLauncher_StartRecordsAndRuns(t *testing.T) {
	m := NewMockLauncher()
	ctx := context.Background()

	req := autoscaler.LaunchRequest{CameraID: "cam-1", Token: "tok"}
	handle, err := m.Start(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	require.Len(t, m.StartCalls, 1)
	assert.Equal(t, req, m.StartCalls[0])
	assert.Equal(t, []string{handle}, m.Running("cam-1"))

	alive, err := m.IsAlive(ctx, handle)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestMockLauncher_HandlesAreUnique(t *testing.T) {
	m := NewMockLauncher()
	ctx := context.Background()

	h1, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	require.NoError(t, err)
	h2, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, m.RunningCameras()["cam-1"])
}

func TestMockLauncher_StopIsIdempotent(t *testing.T) {
	m := NewMockLauncher()
	ctx := context.Background()

	handle, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	require.NoError(t, err)

	assert.NoError(t, m.Stop(ctx, handle))
	assert.NoError(t, m.Stop(ctx, handle))
	assert.NoError(t, m.Stop(ctx, "never-existed"))

	alive, err := m.IsAlive(ctx, handle)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Empty(t, m.Running("cam-1"))
	assert.Len(t, m.StopCalls, 3)
}

func TestMockLauncher_Kill(t *testing.T) {
	m := NewMockLauncher()
	ctx := context.Background()

	handle, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	require.NoError(t, err)

	m.Kill(handle)

	alive, err := m.IsAlive(ctx, handle)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestMockLauncher_UnknownHandleIsDead(t *testing.T) {
	m := NewMockLauncher()

	alive, err := m.IsAlive(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestMockLauncher_FuncOverrides(t *testing.T) {
	m := NewMockLauncher()
	ctx := context.Background()

	m.StartFunc = func(ctx context.Context, req autoscaler.LaunchRequest) (string, error) {
		return "", ErrLaunchRejected
	}
	_, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	assert.ErrorIs(t, err, ErrLaunchRejected)
	assert.Empty(t, m.Running("cam-1"))

	m.StartFunc = func(ctx context.Context, req autoscaler.LaunchRequest) (string, error) {
		return "fixed-handle", nil
	}
	handle, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fixed-handle"}, m.Running("cam-1"))

	stopErr := errors.New("stop failed")
	m.StopFunc = func(ctx context.Context, handle string) error { return stopErr }
	assert.ErrorIs(t, m.Stop(ctx, handle), stopErr)
	assert.Equal(t, []string{"fixed-handle"}, m.Running("cam-1"))

	m.IsAliveFunc = func(ctx context.Context, handle string) (bool, error) {
		return false, ErrTransient
	}
	_, err = m.IsAlive(ctx, handle)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestMockLauncher_StartHonoursCancelledContext(t *testing.T) {
	m := NewMockLauncher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Running("cam-1"))
}

func TestMockLauncher_Reset(t *testing.T) {
	m := NewMockLauncher()
	ctx := context.Background()

	handle, err := m.Start(ctx, autoscaler.LaunchRequest{CameraID: "cam-1"})
	require.NoError(t, err)
	_, _ = m.IsAlive(ctx, handle)
	_ = m.Stop(ctx, "x")

	start, stop, isAlive := m.Calls()
	assert.Equal(t, 1, start)
	assert.Equal(t, 1, stop)
	assert.Equal(t, 1, isAlive)

	m.Reset()
	start, stop, isAlive = m.Calls()
	assert.Zero(t, start+stop+isAlive)
	assert.Equal(t, []string{handle}, m.Running("cam-1"))
}
