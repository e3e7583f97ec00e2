package config

// Default values for configuration options. These are the starting
// point for TOML decoding (so unset fields retain defaults) and the
// fallback when no config file exists.
const (
	defaultIgnoreMarker         = ".replicatorignore"
	defaultMaxFileSize          = "0"
	defaultSafetyThreshold      = 1000
	defaultMinFreeSpace         = "1GB"
	defaultSyncDirPermissions   = "0700"
	defaultSyncFilePermissions  = "0600"
	defaultBackupRetentionDays = 30
	defaultBatchDelay           = 2
	defaultCompareMethod        = "mtime"
	defaultConflictStrategy     = "newest_wins"
	defaultFullscanFrequency    = "12h"
	defaultShutdownTimeout      = "30s"
	defaultOperationLockTimeout = "60s"
	defaultLogLevel             = "info"
	defaultLogFormat            = "auto"
	defaultLogRetentionDays     = 30
	defaultStateFile            = "state.json"
	defaultTasksFile            = "tasks.json"
	defaultEventLogFile         = "events.db"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Filter:  defaultFilterConfig(),
		Safety:  defaultSafetyConfig(),
		Sync:    defaultSyncConfig(),
		Logging: defaultLoggingConfig(),
		Storage: defaultStorageConfig(),
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		SkipDotfiles: false,
		SkipSymlinks: false,
		MaxFileSize:  defaultMaxFileSize,
		IgnoreMarker: defaultIgnoreMarker,
	}
}

func defaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		DefaultSafetyThreshold: defaultSafetyThreshold,
		MinFreeSpace:           defaultMinFreeSpace,
		UseRecycleBin:          true,
		SyncDirPermissions:     defaultSyncDirPermissions,
		SyncFilePermissions:    defaultSyncFilePermissions,
		BackupRetentionDays:    defaultBackupRetentionDays,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		DefaultBatchDelay:       defaultBatchDelay,
		DefaultCompareMethod:    defaultCompareMethod,
		DefaultConflictStrategy: defaultConflictStrategy,
		FullscanFrequency:       defaultFullscanFrequency,
		ShutdownTimeout:         defaultShutdownTimeout,
		OperationLockTimeout:    defaultOperationLockTimeout,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

func defaultStorageConfig() StorageConfig {
	return StorageConfig{
		StateFile:    defaultStateFile,
		TasksFile:    defaultTasksFile,
		EventLogFile: defaultEventLogFile,
	}
}
