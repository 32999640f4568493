package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 24*time.Hour, cfg.Workflow.InitialReportWindow)
	assert.Equal(t, 48*time.Hour, cfg.Workflow.FinalReportWindow)
	assert.Equal(t, time.Hour, cfg.Sweeper.Interval)
	assert.Equal(t, 6*time.Hour, cfg.Sweeper.Lookahead)
	assert.False(t, cfg.Sweeper.DedupeReminders)
	assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	assert.Empty(t, cfg.Crypto.FieldKey)
	assert.Equal(t, int64(50<<20), cfg.Evidence.MaxUploadBytes)
	assert.Equal(t, 5, cfg.Evidence.MaxFiles)
	assert.True(t, cfg.Analytics.CacheEnabled)
	assert.Equal(t, 5*time.Minute, cfg.Analytics.OverviewTTL)
	assert.Equal(t, 10*time.Minute, cfg.Analytics.RatingsTTL)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WORKFLOW_FINAL_REPORT_WINDOW", "72h")
	t.Setenv("FIELD_ENCRYPTION_PREVIOUS_KEYS", " old-1 , ,old-2")
	t.Setenv("SWEEPER_CONCURRENCY", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 72*time.Hour, cfg.Workflow.FinalReportWindow)
	assert.Equal(t, []string{"old-1", "old-2"}, cfg.Crypto.PreviousFieldKeys)
	assert.Equal(t, 4, cfg.Sweeper.Concurrency)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("nope", time.Minute))
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}
