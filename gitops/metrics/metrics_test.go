package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/prbot/gitops/metrics"
)

func TestMetrics_counters(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.RecordOutcome("needs_pr")
	m.RecordOutcome("needs_pr")
	m.RecordOutcome("no_changes")
	m.RecordCreation("created")
	m.RecordCredentialAttempt("invalid")
	m.RecordCredentialAttempt("valid")
	m.RecordRunDuration(1500 * time.Millisecond)

	count, err := testutil.GatherAndCount(
		m.Registry(),
		"prbot_repository_outcomes_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(
		m.Registry(),
		"prbot_credential_attempts_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(
		m.Registry(),
		"prbot_run_duration_seconds",
	)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_WriteToTextfile(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.RecordCreation("already_exists")

	path := filepath.Join(t.TempDir(), "prbot.prom")

	require.NoError(t, m.WriteToTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(
		t, string(raw),
		`prbot_pull_request_creations_total{status="already_exists"} 1`,
	)
}

func TestMetrics_WriteToTextfile_bad_path(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	err := m.WriteToTextfile(
		filepath.Join(t.TempDir(), "missing", "prbot.prom"),
	)

	assert.ErrorContains(t, err, "writing metrics")
}

func TestNoOpRecorder(t *testing.T) {
	t.Parallel()

	var rec metrics.Recorder = metrics.NoOpRecorder{}

	assert.NotPanics(t, func() {
		rec.RecordOutcome("x")
		rec.RecordCreation("x")
		rec.RecordCredentialAttempt("x")
		rec.RecordRunDuration(time.Second)
	})
}
