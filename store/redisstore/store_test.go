package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, "test"), mr
}

func TestNew_DefaultPrefix(t *testing.T) {
	s := New(nil, "")
	assert.Equal(t, DefaultPrefix, s.prefix)
	assert.Equal(t, "frameparser:assignment:cam-1", s.key("cam-1"))
	assert.Equal(t, "frameparser:assignments", s.indexKey())
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	created, err := s.Create(ctx, autoscaler.Assignment{
		CameraID:         "cam-1",
		State:            autoscaler.StatePending,
		LastReconciledAt: now,
		LaunchStartedAt:  now,
		DivergedSince:    now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	got, err := s.Get(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.True(t, got.FailedAt.IsZero())

	assert.True(t, mr.Exists("test:assignment:cam-1"))
	members, err := mr.Members("test:assignments")
	require.NoError(t, err)
	assert.Equal(t, []string{"cam-1"}, members)
}

func TestStore_CreateConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, autoscaler.Assignment{CameraID: "cam-1", State: autoscaler.StatePending})
	require.NoError(t, err)

	_, err = s.Create(ctx, autoscaler.Assignment{CameraID: "cam-1", State: autoscaler.StatePending})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrAssignmentNotFound)
}

func TestStore_Update(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, autoscaler.Assignment{CameraID: "cam-1", State: autoscaler.StatePending})
	require.NoError(t, err)

	next := created
	next.State = autoscaler.StateRunning
	next.WorkerHandle = "task-1"
	updated, err := s.Update(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := s.Get(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, autoscaler.StateRunning, got.State)
	assert.Equal(t, "task-1", got.WorkerHandle)

	_, err = s.Update(ctx, next)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	_, err = s.Update(ctx, autoscaler.Assignment{CameraID: "ghost", Version: 1})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestStore_Delete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, autoscaler.Assignment{CameraID: "cam-1", State: autoscaler.StateStopping})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, "cam-1", 7), store.ErrVersionConflict)
	require.NoError(t, s.Delete(ctx, "cam-1", created.Version))
	assert.ErrorIs(t, s.Delete(ctx, "cam-1", created.Version), store.ErrVersionConflict)

	assert.False(t, mr.Exists("test:assignment:cam-1"))
	_, err = s.Get(ctx, "cam-1")
	assert.ErrorIs(t, err, store.ErrAssignmentNotFound)
}

func TestStore_List(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	for _, id := range []string{"cam-c", "cam-a", "cam-b"} {
		_, err := s.Create(ctx, autoscaler.Assignment{CameraID: id, State: autoscaler.StatePending})
		require.NoError(t, err)
	}

	// A stale index entry without its document is skipped.
	_, err = mr.SAdd("test:assignments", "cam-orphan")
	require.NoError(t, err)

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "cam-a", list[0].CameraID)
	assert.Equal(t, "cam-c", list[2].CameraID)
}

func TestStore_ConcurrentUpdateOnlyOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, autoscaler.Assignment{CameraID: "cam-1", State: autoscaler.StatePending})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := created
			a.State = autoscaler.StateRunning
			if _, err := s.Update(ctx, a); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, store.ErrVersionConflict)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := s.Get(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_ConnectionError(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.List(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrVersionConflict)
}
