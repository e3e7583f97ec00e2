package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, ".replicatorignore", cfg.Filter.IgnoreMarker)
	assert.Equal(t, "0", cfg.Filter.MaxFileSize)
	assert.False(t, cfg.Filter.SkipDotfiles)
	assert.False(t, cfg.Filter.SkipSymlinks)

	assert.Equal(t, 1000, cfg.Safety.DefaultSafetyThreshold)
	assert.Equal(t, "1GB", cfg.Safety.MinFreeSpace)
	assert.True(t, cfg.Safety.UseRecycleBin)
	assert.Equal(t, "0700", cfg.Safety.SyncDirPermissions)
	assert.Equal(t, "0600", cfg.Safety.SyncFilePermissions)
	assert.Equal(t, 30, cfg.Safety.BackupRetentionDays)

	assert.Equal(t, 2, cfg.Sync.DefaultBatchDelay)
	assert.Equal(t, "mtime", cfg.Sync.DefaultCompareMethod)
	assert.Equal(t, "newest_wins", cfg.Sync.DefaultConflictStrategy)
	assert.Equal(t, "12h", cfg.Sync.FullscanFrequency)
	assert.False(t, cfg.Sync.DryRun)
	assert.Equal(t, "30s", cfg.Sync.ShutdownTimeout)
	assert.Equal(t, "60s", cfg.Sync.OperationLockTimeout)

	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "", cfg.Logging.LogFile)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Equal(t, 30, cfg.Logging.LogRetentionDays)

	assert.Equal(t, "state.json", cfg.Storage.StateFile)
	assert.Equal(t, "tasks.json", cfg.Storage.TasksFile)
	assert.Equal(t, "events.db", cfg.Storage.EventLogFile)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	err := Validate(cfg)
	assert.NoError(t, err)
}
