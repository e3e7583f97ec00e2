package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultConfigPasses(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, Validate(cfg))
}

func TestValidateFilter_InvalidMaxFileSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.MaxFileSize = "not-a-size"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_file_size")
}

func TestValidateFilter_EmptyIgnoreMarker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.IgnoreMarker = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ignore_marker")
}

func TestValidateSafety_ThresholdTooLow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.DefaultSafetyThreshold = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_safety_threshold")
}

func TestValidateSafety_InvalidMinFreeSpace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.MinFreeSpace = "garbage"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_free_space")
}

func TestValidateSafety_BackupRetentionTooLow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.BackupRetentionDays = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup_retention_days")
}

func TestValidateSafety_InvalidDirPermissions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.SyncDirPermissions = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_dir_permissions")
}

func TestValidateSafety_InvalidFilePermissions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.SyncFilePermissions = "9999"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_file_permissions")
}

func TestValidateSync_NegativeBatchDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.DefaultBatchDelay = -1

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_batch_delay")
}

func TestValidateSync_InvalidCompareMethod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.DefaultCompareMethod = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_compare_method")
}

func TestValidateSync_InvalidConflictStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.DefaultConflictStrategy = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_conflict_strategy")
}

func TestValidateSync_AllConflictStrategiesAccepted(t *testing.T) {
	for _, strategy := range []string{"newest_wins", "source_wins", "target_wins", "keep_both", "skip", "ask_user"} {
		cfg := DefaultConfig()
		cfg.Sync.DefaultConflictStrategy = strategy
		assert.NoError(t, Validate(cfg), strategy)
	}
}

func TestValidateSync_InvalidFullscanFrequency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.FullscanFrequency = "not-a-duration"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fullscan_frequency")
}

func TestValidateSync_ShutdownTimeoutBelowMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.ShutdownTimeout = "0s"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown_timeout")
}

func TestValidateSync_OperationLockTimeoutBelowMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.OperationLockTimeout = "0s"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation_lock_timeout")
}

func TestValidateLogging_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidateLogging_InvalidFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogFormat = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestValidateLogging_RetentionTooLow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogRetentionDays = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_retention_days")
}

func TestValidateStorage_EmptyPaths(t *testing.T) {
	cases := []struct {
		name  string
		apply func(*Config)
		want  string
	}{
		{"state file", func(c *Config) { c.Storage.StateFile = "" }, "state_file"},
		{"tasks file", func(c *Config) { c.Storage.TasksFile = "" }, "tasks_file"},
		{"event log file", func(c *Config) { c.Storage.EventLogFile = "" }, "event_log_file"},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.apply(cfg)

		err := Validate(cfg)
		require.Error(t, err, tc.name)
		assert.Contains(t, err.Error(), tc.want)
	}
}

func TestValidate_AccumulatesMultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "bogus"
	cfg.Safety.DefaultSafetyThreshold = -5
	cfg.Storage.StateFile = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "default_safety_threshold")
	assert.Contains(t, err.Error(), "state_file")
}
