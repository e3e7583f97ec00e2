// Package syncproc implements the per-file and full-tree replication
// decisions: the sync processor (C3). It consults internal/state for
// drift detection and internal/conflict for conflict resolution, and
// produces Operations for internal/queue to execute.
package syncproc

import (
	"time"

	"github.com/google/uuid"
)

// SyncMode selects one-way or two-way replication for a task.
type SyncMode string

const (
	ModeOneWay SyncMode = "one_way"
	ModeTwoWay SyncMode = "two_way"
)

// CompareMethod selects how per-file drift is detected.
type CompareMethod string

const (
	CompareMtime CompareMethod = "mtime"
	CompareHash  CompareMethod = "hash"
)

// EventType tags a FileEvent.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
	EventMoved    EventType = "moved"
)

// FileEvent is the typed union of filesystem change intents produced
// by internal/watch and consumed by the sync processor.
type FileEvent struct {
	Type        EventType
	SrcPath     string
	DstPath     string // only set for Type == EventMoved
	IsDirectory bool
	Timestamp   time.Time
}

// ResultAction tags the outcome of a per-file sync decision.
type ResultAction string

const (
	ActionCopy  ResultAction = "copy"
	ActionDelete ResultAction = "delete"
	ActionMove  ResultAction = "move"
	ActionSkip  ResultAction = "skip"
	ActionError ResultAction = "error"
)

// SyncResult is the typed outcome of one sync decision against one
// target. Never raised as an error across the processor's public API;
// callers branch on Action / Success instead (spec §7).
type SyncResult struct {
	Success    bool
	Action     ResultAction
	SourcePath string
	TargetPath string
	Message    string
	FileSize   int64
}

// OpType tags the kind of operation enqueued onto internal/queue.
type OpType string

const (
	OpCopyFile OpType = "copy_file"
	OpDeleteFile OpType = "delete_file"
	OpFullSync OpType = "full_sync"

	// OpProcessEvent carries a single realtime FileEvent through the
	// queue so the decision logic in ProcessEvent/ProcessReverseEvent —
	// conflict resolution included — runs on the queue worker, honoring
	// spec §9 "Ownership of destructive I/O" for the event path the same
	// way scan_and_plan's Operations do for the full-sync path.
	OpProcessEvent OpType = "process_event"
)

// OpStatus tracks an Operation's lifecycle inside the queue.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpRunning   OpStatus = "running"
	OpCompleted OpStatus = "completed"
	OpFailed    OpStatus = "failed"
	OpCancelled OpStatus = "cancelled"
)

// Operation is the unit enqueued onto the operation queue (C4).
type Operation struct {
	ID          string
	Type        OpType
	SourcePath  string
	TargetPath  string
	TaskID      string
	TaskName    string
	Status      OpStatus
	ErrorMessage string
	CreatedAt   time.Time
	CompletedAt *time.Time

	// IsReverse marks a two-way reverse-direction operation (target -> source).
	IsReverse bool

	// Rel is the State Store key for this Operation's file, set by
	// scan_and_plan for every hash-compare-method copy and for every
	// orphan/reverse delete, so ExecuteOp can record or clear state
	// after execution the same way the realtime event path does
	// (spec §4.1's "after a successful sync operation touching rel,
	// the stored hash equals the hash of canonical bytes").
	Rel string

	// Hash is the content hash to record at Rel once this copy
	// Operation succeeds. Only set for hash-compare-method copies.
	Hash string

	// NeedsBackup marks a hash-compare-method copy where both sides
	// changed since the last recorded state and their content
	// differs: ExecuteOp must move the existing target to a
	// timestamped conflict backup before copying, mirroring
	// resolveHashConflict on the realtime path.
	NeedsBackup bool

	// Event, Targets, and IsReverseEvent are only set for Type ==
	// OpProcessEvent: they carry the realtime event and the target set
	// it should be decided and applied against.
	Event          *FileEvent
	Targets        []string
	IsReverseEvent bool
}

// NewEventOperation wraps a realtime FileEvent for queue-deferred
// decide-and-execute (spec §4.6 "Event path": "translate the snapshot
// into Operations and enqueue").
func NewEventOperation(taskID, taskName string, event FileEvent, targets []string, isReverse bool) Operation {
	return Operation{
		ID:             uuid.NewString(),
		Type:           OpProcessEvent,
		SourcePath:     event.SrcPath,
		TaskID:         taskID,
		TaskName:       taskName,
		Status:         OpPending,
		CreatedAt:      time.Now(),
		Event:          &event,
		Targets:        targets,
		IsReverseEvent: isReverse,
	}
}

// NewOperation builds a pending Operation with a fresh ID.
func NewOperation(opType OpType, src, tgt, taskID, taskName string) Operation {
	return Operation{
		ID:         uuid.NewString(),
		Type:       opType,
		SourcePath: src,
		TargetPath: tgt,
		TaskID:     taskID,
		TaskName:   taskName,
		Status:     OpPending,
		CreatedAt:  time.Now(),
	}
}
