package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written on first
// run. All settings are present as commented-out defaults so users
// can discover every option without reading docs. Tasks themselves
// are not configured here — see the tasks file in Storage.TasksFile,
// managed by `replicator task add/list/remove`.
const configTemplate = `# replicator configuration
# Task definitions live in the tasks file (see storage.tasks_file below),
# managed with 'replicator task add/list/remove' — not in this file.

# ── Filter defaults (seeded into new tasks) ──
# skip_dotfiles = false
# skip_symlinks = false
# max_file_size = "0"
# ignore_marker = ".replicatorignore"

# ── Safety ──
# default_safety_threshold = 1000
# min_free_space = "1GB"
# use_recycle_bin = true
# sync_dir_permissions = "0700"
# sync_file_permissions = "0600"
# backup_retention_days = 30

# ── Sync defaults ──
# default_batch_delay = 2
# default_compare_method = "mtime"
# default_conflict_strategy = "newest_wins"
# fullscan_frequency = "12h"
# dry_run = false
# shutdown_timeout = "30s"
# operation_lock_timeout = "60s"

# ── Logging ──
# log_level = "info"
# log_file = ""
# log_format = "auto"
# log_retention_days = 30

# ── Storage ──
# state_file = "state.json"
# tasks_file = "tasks.json"
# event_log_file = "events.db"
`

// WriteDefaultConfig creates a new config file from the default
// template if one does not already exist. The write is atomic (temp
// file + rename) and parent directories are created as needed.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same
// directory as path, then renames it to the target path. This
// prevents partial writes from corrupting the config file on crash.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
