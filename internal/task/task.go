// Package task defines the Task configuration type shared by the sync
// processor, task runner, and task manager (spec §3).
package task

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/replicator/internal/conflict"
	"github.com/tonimelisma/replicator/internal/syncproc"
)

// MonitorMode selects the watcher shape for a task (spec §4.5).
type MonitorMode string

const (
	MonitorRealtime MonitorMode = "realtime"
	MonitorPolling  MonitorMode = "polling"
)

// Task is immutable-by-convention configuration pairing one source
// directory with one or more target directories.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	SourcePath  string   `json:"source_path"`
	TargetPaths []string `json:"target_paths"`

	Mode             syncproc.SyncMode     `json:"mode"`
	ConflictStrategy conflict.Strategy     `json:"conflict_strategy"`
	CompareMethod    syncproc.CompareMethod `json:"compare_method"`

	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`

	Enabled            bool `json:"enabled"`
	AutoStart          bool `json:"auto_start"`
	DeleteOrphans      bool `json:"delete_orphans"`
	InitialSyncDelete  bool `json:"initial_sync_delete"`
	DisableDelete      bool `json:"disable_delete"`
	ReverseDelete      bool `json:"reverse_delete"`

	SafetyThreshold int         `json:"safety_threshold"`
	BatchDelay      int         `json:"batch_delay"`
	MonitorMode     MonitorMode `json:"monitor_mode"`
	PollInterval    int         `json:"poll_interval"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
}

// EffectiveExcludes returns ExcludePatterns unioned with any target
// path nested under the source, both as absolute paths and as
// basenames, per spec §3's invariant and the original_source
// task_manager.py "_get_effective_excludes" behavior (SPEC_FULL.md
// SUPPLEMENTED FEATURES).
func (t *Task) EffectiveExcludes() []string {
	excludes := append([]string(nil), t.ExcludePatterns...)

	srcAbs, err := filepath.Abs(t.SourcePath)
	if err != nil {
		srcAbs = t.SourcePath
	}

	for _, tgt := range t.TargetPaths {
		tgtAbs, err := filepath.Abs(tgt)
		if err != nil {
			tgtAbs = tgt
		}

		if isNestedUnder(tgtAbs, srcAbs) {
			excludes = append(excludes, tgtAbs, filepath.Base(tgtAbs))
		}
	}

	return excludes
}

// isNestedUnder reports whether child is parent itself or a descendant of it.
func isNestedUnder(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}

	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}
