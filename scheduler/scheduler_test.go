package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/camwatch/frameparser-autoscaler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeReconciler struct {
	n     atomic.Int32
	ticks chan autoscaler.Report
	err   error
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{ticks: make(chan autoscaler.Report, 16)}
}

func (f *fakeReconciler) Tick(ctx context.Context) autoscaler.Report {
	n := f.n.Add(1)
	r := autoscaler.Report{Desired: int(n), Err: f.err}
	f.ticks <- r
	return r
}

func (f *fakeReconciler) ClearFailure(ctx context.Context, cameraID string) (autoscaler.Assignment, error) {
	return autoscaler.Assignment{}, nil
}

func waitTick(t *testing.T, f *fakeReconciler) autoscaler.Report {
	t.Helper()
	select {
	case r := <-f.ticks:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tick")
		return autoscaler.Report{}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, autoscaler.ErrInvalidConfig)

	_, err = New(Config{Reconciler: newFakeReconciler(), Interval: -time.Second})
	assert.ErrorIs(t, err, autoscaler.ErrInvalidConfig)

	s, err := New(Config{Reconciler: newFakeReconciler()})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.config.Interval)
	assert.NotNil(t, s.config.Clock)
}

func TestRun_TicksAtInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTicker("scheduler")
	defer trap.Close()

	f := newFakeReconciler()
	var seen atomic.Int32
	s, err := New(Config{
		Reconciler: f,
		Interval:   time.Minute,
		Clock:      clock,
		OnTick:     func(autoscaler.Report) { seen.Add(1) },
	})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	call := trap.MustWait(ctx)
	assert.Equal(t, time.Minute, call.Duration)
	call.MustRelease(ctx)

	_, ok := s.Last()
	assert.False(t, ok)

	clock.Advance(time.Minute).MustWait(ctx)
	assert.Equal(t, 1, waitTick(t, f).Desired)

	clock.Advance(time.Minute).MustWait(ctx)
	assert.Equal(t, 2, waitTick(t, f).Desired)

	stop()
	require.NoError(t, <-done)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Desired)
	assert.Equal(t, 2, s.Ticks())
	assert.Equal(t, int32(2), seen.Load())
}

func TestRun_RunImmediately(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTicker("scheduler")
	defer trap.Close()

	f := newFakeReconciler()
	s, err := New(Config{Reconciler: f, Interval: time.Minute, Clock: clock, RunImmediately: true})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	assert.Equal(t, 1, waitTick(t, f).Desired)
	trap.MustWait(ctx).MustRelease(ctx)

	stop()
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.Ticks())
}

func TestRun_SnapshotErrorsDoNotStopTheLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTicker("scheduler")
	defer trap.Close()

	f := newFakeReconciler()
	f.err = errors.New("registry down")
	s, err := New(Config{Reconciler: f, Interval: time.Minute, Clock: clock})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	clock.Advance(time.Minute).MustWait(ctx)
	assert.Error(t, waitTick(t, f).Err)
	clock.Advance(time.Minute).MustWait(ctx)
	assert.Error(t, waitTick(t, f).Err)

	stop()
	require.NoError(t, <-done)
	assert.Equal(t, 2, s.Ticks())
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	s, err := New(Config{Reconciler: newFakeReconciler(), Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Ticks())
}
