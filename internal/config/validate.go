package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Validation range constants.
const (
	minSafetyThreshold = 1
	minLogRetention    = 1
	minBackupRetention = 1
	minOctalDigits     = 3
	maxOctalDigits     = 4
	octalBase          = 8
	maxOctalValue      = 0o777
	minShutdownTimeout = 1 * time.Second
	minOpLockTimeout   = 1 * time.Second
)

// Validate checks all configuration values and returns all errors
// found. It accumulates every error rather than stopping at the
// first, so users see a complete report and can fix all issues in one
// pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateSafety(&cfg.Safety)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)

	return errors.Join(errs...)
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	if f.MaxFileSize != "" && f.MaxFileSize != "0" {
		if _, err := ParseSize(f.MaxFileSize); err != nil {
			errs = append(errs, fmt.Errorf("max_file_size: %w", err))
		}
	}

	if f.IgnoreMarker == "" {
		errs = append(errs, errors.New("ignore_marker: must not be empty"))
	}

	return errs
}

func validateSafety(s *SafetyConfig) []error {
	var errs []error

	if s.DefaultSafetyThreshold < minSafetyThreshold {
		errs = append(errs, fmt.Errorf("default_safety_threshold: must be >= %d, got %d",
			minSafetyThreshold, s.DefaultSafetyThreshold))
	}

	if s.MinFreeSpace != "" && s.MinFreeSpace != "0" {
		if _, err := ParseSize(s.MinFreeSpace); err != nil {
			errs = append(errs, fmt.Errorf("min_free_space: %w", err))
		}
	}

	if s.BackupRetentionDays < minBackupRetention {
		errs = append(errs, fmt.Errorf("backup_retention_days: must be >= %d, got %d",
			minBackupRetention, s.BackupRetentionDays))
	}

	errs = append(errs, validateOctalPermission("sync_dir_permissions", s.SyncDirPermissions)...)
	errs = append(errs, validateOctalPermission("sync_file_permissions", s.SyncFilePermissions)...)

	return errs
}

func validateOctalPermission(field, value string) []error {
	if value == "" {
		return []error{fmt.Errorf("%s: must not be empty", field)}
	}

	if len(value) < minOctalDigits || len(value) > maxOctalDigits {
		return []error{fmt.Errorf("%s: must be 3 or 4 octal digits, got %q", field, value)}
	}

	n, err := strconv.ParseInt(value, octalBase, 32)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid octal value %q", field, value)}
	}

	if n < 0 || n > maxOctalValue {
		return []error{fmt.Errorf("%s: octal value out of range %q", field, value)}
	}

	return nil
}

var validCompareMethods = map[string]bool{
	"mtime": true,
	"hash":  true,
}

var validConflictStrategies = map[string]bool{
	"newest_wins": true,
	"source_wins": true,
	"target_wins": true,
	"keep_both":   true,
	"skip":        true,
	"ask_user":    true,
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.DefaultBatchDelay < 0 {
		errs = append(errs, fmt.Errorf("default_batch_delay: must be >= 0, got %d", s.DefaultBatchDelay))
	}

	if !validCompareMethods[s.DefaultCompareMethod] {
		errs = append(errs, fmt.Errorf("default_compare_method: must be one of mtime, hash; got %q",
			s.DefaultCompareMethod))
	}

	if !validConflictStrategies[s.DefaultConflictStrategy] {
		errs = append(errs, fmt.Errorf(
			"default_conflict_strategy: must be one of newest_wins, source_wins, target_wins, keep_both, skip, ask_user; got %q",
			s.DefaultConflictStrategy))
	}

	if s.FullscanFrequency != "" && s.FullscanFrequency != "0" {
		if _, err := time.ParseDuration(s.FullscanFrequency); err != nil {
			errs = append(errs, fmt.Errorf("fullscan_frequency: invalid duration %q: %w", s.FullscanFrequency, err))
		}
	}

	errs = append(errs, validateDurationMin("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)
	errs = append(errs, validateDurationMin("operation_lock_timeout", s.OperationLockTimeout, minOpLockTimeout)...)

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if s.StateFile == "" {
		errs = append(errs, errors.New("state_file: must not be empty"))
	}

	if s.TasksFile == "" {
		errs = append(errs, errors.New("tasks_file: must not be empty"))
	}

	if s.EventLogFile == "" {
		errs = append(errs, errors.New("event_log_file: must not be empty"))
	}

	return errs
}
