// Package redisstore implements the AssignmentStore on Redis.
//
// Each assignment is a JSON document under "<prefix>:assignment:<cameraID>";
// the set "<prefix>:assignments" indexes the camera IDs. Conditional writes
// use WATCH/MULTI/EXEC on the assignment key, so a concurrent writer makes
// the transaction fail and the caller sees store.ErrVersionConflict.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/store"
)

// DefaultPrefix namespaces keys when no prefix is given.
const DefaultPrefix = "frameparser"

// Store is a Redis implementation of AssignmentStore.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Compile-time check that Store implements AssignmentStore.
var _ store.AssignmentStore = (*Store)(nil)

// New creates a Store. An empty prefix uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(cameraID string) string {
	return s.prefix + ":assignment:" + cameraID
}

func (s *Store) indexKey() string {
	return s.prefix + ":assignments"
}

// List returns every assignment sorted by camera ID.
func (s *Store) List(ctx context.Context) ([]autoscaler.Assignment, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment ids: %w", err)
	}

	out := make([]autoscaler.Assignment, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		a, err := decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode assignment %s: %w", ids[i], err)
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CameraID < out[j].CameraID
	})

	return out, nil
}

// Get returns the assignment for a camera.
func (s *Store) Get(ctx context.Context, cameraID string) (autoscaler.Assignment, error) {
	raw, err := s.client.Get(ctx, s.key(cameraID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return autoscaler.Assignment{}, store.ErrAssignmentNotFound
	}
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to get assignment: %w", err)
	}

	a, err := decode(raw)
	if err != nil {
		return autoscaler.Assignment{}, fmt.Errorf("failed to decode assignment: %w", err)
	}
	return a, nil
}

// Create inserts a with version 1 unless the camera already has a record.
func (s *Store) Create(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	a.Version = 1
	data, err := encode(a)
	if err != nil {
		return autoscaler.Assignment{}, err
	}

	key := s.key(a.CameraID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.indexKey(), a.CameraID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return autoscaler.Assignment{}, mapError("create", err)
	}

	return a, nil
}

// Update writes a if the stored version equals a.Version, bumping it by one.
func (s *Store) Update(ctx context.Context, a autoscaler.Assignment) (autoscaler.Assignment, error) {
	expected := a.Version
	a.Version++
	data, err := encode(a)
	if err != nil {
		return autoscaler.Assignment{}, err
	}

	key := s.key(a.CameraID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := checkVersion(ctx, tx, key, expected); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return autoscaler.Assignment{}, mapError("update", err)
	}

	return a, nil
}

// Delete removes the record if the stored version equals version.
func (s *Store) Delete(ctx context.Context, cameraID string, version int64) error {
	key := s.key(cameraID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := checkVersion(ctx, tx, key, version); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.indexKey(), cameraID)
			return nil
		})
		return err
	}, key)

	return mapError("delete", err)
}

// checkVersion reads the watched key and fails with ErrVersionConflict
// unless it holds the expected version.
func checkVersion(ctx context.Context, tx *redis.Tx, key string, expected int64) error {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrVersionConflict
	}
	if err != nil {
		return err
	}

	current, err := decode(raw)
	if err != nil {
		return fmt.Errorf("failed to decode assignment: %w", err)
	}
	if current.Version != expected {
		return store.ErrVersionConflict
	}
	return nil
}

func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return store.ErrVersionConflict
	default:
		return fmt.Errorf("failed to %s assignment: %w", op, err)
	}
}

// record is the stored JSON form. Optional times are omitted when zero.
type record struct {
	CameraID         string     `json:"cameraId"`
	WorkerHandle     string     `json:"workerHandle,omitempty"`
	State            string     `json:"state"`
	LastReconciledAt time.Time  `json:"lastReconciledAt"`
	FailureCount     int        `json:"failureCount"`
	Version          int64      `json:"version"`
	LaunchStartedAt  *time.Time `json:"launchStartedAt,omitempty"`
	FailedAt         *time.Time `json:"failedAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	DivergedSince    *time.Time `json:"divergedSince,omitempty"`
}

func encode(a autoscaler.Assignment) ([]byte, error) {
	data, err := json.Marshal(record{
		CameraID:         a.CameraID,
		WorkerHandle:     a.WorkerHandle,
		State:            string(a.State),
		LastReconciledAt: a.LastReconciledAt.UTC(),
		FailureCount:     a.FailureCount,
		Version:          a.Version,
		LaunchStartedAt:  optional(a.LaunchStartedAt),
		FailedAt:         optional(a.FailedAt),
		LastError:        a.LastError,
		DivergedSince:    optional(a.DivergedSince),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignment: %w", err)
	}
	return data, nil
}

func decode(data []byte) (autoscaler.Assignment, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return autoscaler.Assignment{}, err
	}
	return autoscaler.Assignment{
		CameraID:         r.CameraID,
		WorkerHandle:     r.WorkerHandle,
		State:            autoscaler.AssignmentState(r.State),
		LastReconciledAt: r.LastReconciledAt,
		FailureCount:     r.FailureCount,
		Version:          r.Version,
		LaunchStartedAt:  deref(r.LaunchStartedAt),
		FailedAt:         deref(r.FailedAt),
		LastError:        r.LastError,
		DivergedSince:    deref(r.DivergedSince),
	}, nil
}

func optional(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
