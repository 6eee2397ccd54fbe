package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/frameparser-autoscaler"
)

var envKeys = []string{
	"FARGATE_CLUSTER_NAME", "TASK_DEF_ARN", "CONTAINER_NAME", "SUBNET_ONE", "SUBNET_TWO",
	"SUBNETS", "SECURITY_GROUPS", "TASK_MAPPING_TABLE", "S3_BUCKET_NAME",
	"PROCESS_RATE_IN_FPS", "AWS_DEFAULT_REGION", "RETRY_CEILING", "COOLDOWN",
	"RECONCILE_INTERVAL", "STORE_BACKEND", "STORE_DSN", "REDIS_ADDR",
	"REGISTRY_BACKEND", "STATIC_CAMERAS", "LAUNCHER_BACKEND", "LOG_LEVEL", "METRICS_ADDR",
}

// setupCLITestEnv writes a SQLite-backed config into a fresh working
// directory with every autoscaler variable unset.
func setupCLITestEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	configPath := filepath.Join(dir, "autoscaler.toml")
	content := fmt.Sprintf(`
[store]
backend = "sqlite3"
dsn = %q

[registry]
static_cameras = ["cam-1", "cam-2"]

[worker]
output_bucket = "frames"

[logging]
level = "error"

[metrics]
addr = ""
`, filepath.Join(dir, "autoscaler.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoot_ShowsHelp(t *testing.T) {
	setupCLITestEnv(t)

	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Frame parser fleet autoscaler")
	for _, sub := range []string{"run", "tick", "migrate", "assignments"} {
		assert.Contains(t, out, sub)
	}
}

func TestRoot_InvalidConfig(t *testing.T) {
	setupCLITestEnv(t)
	t.Setenv("LAUNCHER_BACKEND", "fargate")

	_, err := execute(t, "tick")
	assert.ErrorIs(t, err, autoscaler.ErrInvalidConfig)
}

func TestRoot_MissingConfigFile(t *testing.T) {
	setupCLITestEnv(t)

	_, err := execute(t, "--config", "nope.toml", "tick")
	assert.ErrorContains(t, err, "failed to open config")
}

func TestMigrate_PrintsDDL(t *testing.T) {
	configPath := setupCLITestEnv(t)

	out, err := execute(t, "-c", configPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS camera_assignments")
	assert.Contains(t, out, "CREATE INDEX IF NOT EXISTS idx_camera_assignments_state")

	out, err = execute(t, "-c", configPath, "migrate", "--down")
	require.NoError(t, err)
	assert.Equal(t, "DROP TABLE IF EXISTS camera_assignments;\n", out)

	_, err = execute(t, "-c", configPath, "migrate", "--apply", "--down")
	assert.Error(t, err)
}

func TestMigrate_RequiresSQLBackend(t *testing.T) {
	setupCLITestEnv(t)
	t.Setenv("STORE_BACKEND", "memory")

	_, err := execute(t, "migrate")
	assert.ErrorIs(t, err, autoscaler.ErrInvalidConfig)
}

func TestTickThenListAndClear(t *testing.T) {
	configPath := setupCLITestEnv(t)

	out, err := execute(t, "-c", configPath, "migrate", "--apply")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrated sqlite3 table camera_assignments")

	out, err = execute(t, "-c", configPath, "tick")
	require.NoError(t, err)
	assert.Contains(t, out, "Desired: 2  Observed: 0")
	assert.Contains(t, out, "cam-1")
	assert.Contains(t, out, "cam-2")
	assert.Contains(t, out, "launched")

	out, err = execute(t, "-c", configPath, "assignments", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cam-1")
	assert.Contains(t, out, "RUNNING")

	out, err = execute(t, "-c", configPath, "assignments", "list", "--state", "FAILED")
	require.NoError(t, err)
	assert.Equal(t, "No assignments\n", out)

	_, err = execute(t, "-c", configPath, "assignments", "list", "--state", "BROKEN")
	assert.ErrorContains(t, err, "unknown state")

	_, err = execute(t, "-c", configPath, "assignments", "clear", "cam-1")
	assert.ErrorIs(t, err, autoscaler.ErrNotFailed)

	_, err = execute(t, "-c", configPath, "assignments", "clear")
	assert.Error(t, err)
}

func TestTick_EnvOverridesFile(t *testing.T) {
	setupCLITestEnv(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("STATIC_CAMERAS", "cam-9")

	out, err := execute(t, "tick")
	require.NoError(t, err)
	assert.Contains(t, out, "Desired: 1  Observed: 0")
	assert.Contains(t, out, "cam-9")
	assert.NotContains(t, out, "cam-1")
}

func TestPrintReport(t *testing.T) {
	t.Run("snapshot error", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, autoscaler.Report{Err: errors.New("registry down")})
		assert.Contains(t, buf.String(), "Snapshot failed: registry down")
	})

	t.Run("nothing to do", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, autoscaler.Report{Duration: 1500 * time.Microsecond})
		assert.Contains(t, buf.String(), "Duration: 2ms")
		assert.Contains(t, buf.String(), "Nothing to do")
	})

	t.Run("failed cameras", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, autoscaler.Report{Outcomes: []autoscaler.CameraOutcome{
			{CameraID: "cam-1", Action: autoscaler.ActionMarkedFailed, State: autoscaler.StateFailed, Err: errors.New("no capacity"), Alert: true},
			{CameraID: "cam-2", Action: autoscaler.ActionHealthy, State: autoscaler.StateRunning, WorkerHandle: "task-2"},
		}})
		out := buf.String()
		assert.Contains(t, out, "marked_failed")
		assert.Contains(t, out, "no capacity")
		assert.Contains(t, out, "task-2")
		assert.Contains(t, out, "1 camera(s) FAILED")
	})
}

func TestRenderTable(t *testing.T) {
	assert.Empty(t, renderTable(nil, nil, nil))

	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "3"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "3")
}
