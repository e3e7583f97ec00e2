// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for replicator's ambient settings
// (spec §9: logging, safety defaults, storage locations). Per-task
// settings (source/target paths, conflict strategy, filters) live in
// the tasks JSON file owned by internal/manager, not here — this
// package covers only the process-wide defaults and knobs that apply
// across every task.
package config

// Config is the top-level configuration structure, loaded once at
// process startup and shared read-only (see Holder) across the task
// manager, scheduler, and CLI.
type Config struct {
	Filter  FilterConfig  `toml:"filter"`
	Safety  SafetyConfig  `toml:"safety"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
}

// FilterConfig holds process-wide filter settings (spec §3
// "Filtering"). They are parsed and validated with the rest of the
// config, but no task or Filter reads them: tasks carry their own
// IncludePatterns/ExcludePatterns, and every task's Filter is built
// with no ignore marker.
type FilterConfig struct {
	SkipDotfiles bool   `toml:"skip_dotfiles"`
	SkipSymlinks bool   `toml:"skip_symlinks"`
	MaxFileSize  string `toml:"max_file_size"`
	IgnoreMarker string `toml:"ignore_marker"`
}

// SafetyConfig controls the default safety-gate thresholds a new task
// is seeded with (spec §4.6 "safety gate") and the global safety-net
// toggles that apply to every task's destructive operations.
type SafetyConfig struct {
	DefaultSafetyThreshold int    `toml:"default_safety_threshold"`
	MinFreeSpace           string `toml:"min_free_space"`
	UseRecycleBin          bool   `toml:"use_recycle_bin"`
	SyncDirPermissions     string `toml:"sync_dir_permissions"`
	SyncFilePermissions    string `toml:"sync_file_permissions"`
	BackupRetentionDays    int    `toml:"backup_retention_days"`
}

// SyncConfig controls the defaults a new task is seeded with plus
// process-wide engine behavior (spec §4.6, §4.8).
type SyncConfig struct {
	DefaultBatchDelay       int    `toml:"default_batch_delay"`
	DefaultCompareMethod    string `toml:"default_compare_method"`
	DefaultConflictStrategy string `toml:"default_conflict_strategy"`
	FullscanFrequency       string `toml:"fullscan_frequency"`
	DryRun                  bool   `toml:"dry_run"`
	ShutdownTimeout         string `toml:"shutdown_timeout"`
	OperationLockTimeout    string `toml:"operation_lock_timeout"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// StorageConfig locates the on-disk stores the spec mandates (state
// store JSON per spec §1, tasks JSON per spec §6, event-log/backup
// history database — see internal/eventlog).
type StorageConfig struct {
	StateFile    string `toml:"state_file"`
	TasksFile    string `toml:"tasks_file"`
	EventLogFile string `toml:"event_log_file"`
}
