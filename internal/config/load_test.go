package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to stderr, ensuring
// all config debug output appears in test output for CI visibility.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
skip_dotfiles = true
skip_symlinks = true
max_file_size = "1GB"
ignore_marker = ".syncignore"

default_safety_threshold = 500
min_free_space = "2GB"
use_recycle_bin = false
sync_dir_permissions = "0755"
sync_file_permissions = "0644"
backup_retention_days = 14

default_batch_delay = 5
default_compare_method = "hash"
default_conflict_strategy = "source_wins"
fullscan_frequency = "6h"
dry_run = true
shutdown_timeout = "45s"
operation_lock_timeout = "90s"

log_level = "debug"
log_file = "/var/log/replicator.log"
log_format = "json"
log_retention_days = 7

state_file = "mystate.json"
tasks_file = "mytasks.json"
event_log_file = "myevents.db"
`
	path := writeTestConfig(t, tomlContent)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.True(t, cfg.Filter.SkipDotfiles)
	assert.True(t, cfg.Filter.SkipSymlinks)
	assert.Equal(t, "1GB", cfg.Filter.MaxFileSize)
	assert.Equal(t, ".syncignore", cfg.Filter.IgnoreMarker)

	assert.Equal(t, 500, cfg.Safety.DefaultSafetyThreshold)
	assert.Equal(t, "2GB", cfg.Safety.MinFreeSpace)
	assert.False(t, cfg.Safety.UseRecycleBin)
	assert.Equal(t, "0755", cfg.Safety.SyncDirPermissions)
	assert.Equal(t, "0644", cfg.Safety.SyncFilePermissions)
	assert.Equal(t, 14, cfg.Safety.BackupRetentionDays)

	assert.Equal(t, 5, cfg.Sync.DefaultBatchDelay)
	assert.Equal(t, "hash", cfg.Sync.DefaultCompareMethod)
	assert.Equal(t, "source_wins", cfg.Sync.DefaultConflictStrategy)
	assert.Equal(t, "6h", cfg.Sync.FullscanFrequency)
	assert.True(t, cfg.Sync.DryRun)
	assert.Equal(t, "45s", cfg.Sync.ShutdownTimeout)
	assert.Equal(t, "90s", cfg.Sync.OperationLockTimeout)

	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "/var/log/replicator.log", cfg.Logging.LogFile)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, 7, cfg.Logging.LogRetentionDays)

	assert.Equal(t, "mystate.json", cfg.Storage.StateFile)
	assert.Equal(t, "mytasks.json", cfg.Storage.TasksFile)
	assert.Equal(t, "myevents.db", cfg.Storage.EventLogFile)
}

func TestLoad_PartialConfig_FillsDefaults(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.LogLevel)
	// Everything else falls back to defaults.
	assert.Equal(t, ".replicatorignore", cfg.Filter.IgnoreMarker)
	assert.Equal(t, 1000, cfg.Safety.DefaultSafetyThreshold)
	assert.Equal(t, "state.json", cfg.Storage.StateFile)
}

func TestLoad_EmptyFile_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, "")

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
}

func TestLoad_MalformedTOML_ReturnsError(t *testing.T) {
	path := writeTestConfig(t, `log_level = "debug`) // unterminated string

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
}

func TestLoad_UnknownKey_ReturnsError(t *testing.T) {
	path := writeTestConfig(t, `not_a_real_key = true`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_InvalidValue_FailsValidation(t *testing.T) {
	path := writeTestConfig(t, `default_safety_threshold = -1`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoadOrDefault_MissingFile_ReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")

	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefault_ExistingFile_Loads(t *testing.T) {
	path := writeTestConfig(t, `log_level = "error"`)

	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.LogLevel)
}
