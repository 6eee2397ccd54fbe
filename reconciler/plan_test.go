package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/frameparser-autoscaler"
)

var testPolicy = Policy{LaunchLease: time.Minute, Cooldown: 10 * time.Minute}

func TestDecide(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		current *autoscaler.Assignment
		desired bool
		policy  Policy
		want    Decision
	}{
		{"absent and desired", nil, true, testPolicy, DecisionCreate},
		{"absent and not desired", nil, false, testPolicy, ""},
		{
			"pending with live lease",
			&autoscaler.Assignment{State: autoscaler.StatePending, LaunchStartedAt: now.Add(-30 * time.Second)},
			true, testPolicy, DecisionSkipInFlight,
		},
		{
			"pending with live lease, not desired",
			&autoscaler.Assignment{State: autoscaler.StatePending, LaunchStartedAt: now.Add(-30 * time.Second)},
			false, testPolicy, DecisionSkipInFlight,
		},
		{
			"pending with expired lease",
			&autoscaler.Assignment{State: autoscaler.StatePending, LaunchStartedAt: now.Add(-2 * time.Minute)},
			true, testPolicy, DecisionClaim,
		},
		{
			"pending after a failed launch",
			&autoscaler.Assignment{State: autoscaler.StatePending, FailureCount: 1},
			true, testPolicy, DecisionClaim,
		},
		{
			"pending without lease, not desired",
			&autoscaler.Assignment{State: autoscaler.StatePending},
			false, testPolicy, DecisionDelete,
		},
		{"running and desired", &autoscaler.Assignment{State: autoscaler.StateRunning}, true, testPolicy, DecisionHealthCheck},
		{"running and not desired", &autoscaler.Assignment{State: autoscaler.StateRunning}, false, testPolicy, DecisionStop},
		{"stopping and desired", &autoscaler.Assignment{State: autoscaler.StateStopping}, true, testPolicy, DecisionRetryStop},
		{"stopping and not desired", &autoscaler.Assignment{State: autoscaler.StateStopping}, false, testPolicy, DecisionRetryStop},
		{
			"failed within cooldown",
			&autoscaler.Assignment{State: autoscaler.StateFailed, FailedAt: now.Add(-5 * time.Minute)},
			true, testPolicy, DecisionSkipFailed,
		},
		{
			"failed after cooldown",
			&autoscaler.Assignment{State: autoscaler.StateFailed, FailedAt: now.Add(-10 * time.Minute)},
			true, testPolicy, DecisionResetAfterCooldown,
		},
		{
			"failed with cooldown disabled",
			&autoscaler.Assignment{State: autoscaler.StateFailed, FailedAt: now.Add(-24 * time.Hour)},
			true, Policy{LaunchLease: time.Minute, Cooldown: -1}, DecisionSkipFailed,
		},
		{"failed and not desired", &autoscaler.Assignment{State: autoscaler.StateFailed}, false, testPolicy, DecisionDelete},
		{"unknown state", &autoscaler.Assignment{State: "ZOMBIE"}, true, testPolicy, DecisionRetryStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.current, tt.desired, now, tt.policy))
		})
	}
}

func TestPlan_PartitionsDesiredAndObserved(t *testing.T) {
	now := time.Now()
	observed := []autoscaler.Assignment{
		{CameraID: "cam-running", State: autoscaler.StateRunning, WorkerHandle: "h1"},
		{CameraID: "cam-gone", State: autoscaler.StateRunning, WorkerHandle: "h2"},
		{CameraID: "cam-stopping", State: autoscaler.StateStopping, WorkerHandle: "h3"},
	}
	desired := []string{"cam-running", "cam-new", "cam-new", ""}

	steps := Plan(desired, observed, now, testPolicy)

	require.Len(t, steps, 4)
	got := make(map[string]Decision, len(steps))
	for _, s := range steps {
		got[s.CameraID] = s.Decision
	}
	assert.Equal(t, map[string]Decision{
		"cam-gone":     DecisionStop,
		"cam-new":      DecisionCreate,
		"cam-running":  DecisionHealthCheck,
		"cam-stopping": DecisionRetryStop,
	}, got)

	// Sorted by camera ID.
	assert.Equal(t, "cam-gone", steps[0].CameraID)
	assert.Equal(t, "cam-stopping", steps[3].CameraID)

	for _, s := range steps {
		if s.CameraID == "cam-new" {
			assert.Nil(t, s.Current)
			assert.True(t, s.Desired)
		} else {
			require.NotNil(t, s.Current)
			assert.Equal(t, s.CameraID, s.Current.CameraID)
		}
	}
}

func TestPlan_Empty(t *testing.T) {
	assert.Empty(t, Plan(nil, nil, time.Now(), testPolicy))
}

func TestLaunchToken(t *testing.T) {
	a := LaunchToken("cam-1", 1)
	assert.Equal(t, a, LaunchToken("cam-1", 1))
	assert.NotEqual(t, a, LaunchToken("cam-1", 2))
	assert.NotEqual(t, a, LaunchToken("cam-2", 1))
	// ECS client tokens are limited to 64 characters.
	assert.Len(t, a, 36)
}
