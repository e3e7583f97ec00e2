// Package runner implements the Task Runner (C6): one task's watchers,
// batch buffer, safety gate, operation lock, and lifecycle state machine
// (spec §4.6; grounded on the teacher's internal/sync/drive_runner.go
// panic-isolated lifecycle and original_source core/task_manager.py's
// TaskRunner class).
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tonimelisma/replicator/internal/queue"
	"github.com/tonimelisma/replicator/internal/syncproc"
	"github.com/tonimelisma/replicator/internal/task"
	"github.com/tonimelisma/replicator/internal/watch"
)

// watcherDebounce is the fixed OS-event coalescing window at the
// watcher layer (spec §4.5 "debounce_seconds"). It is distinct from
// the per-task, user-configurable BatchDelay at the runner layer
// (spec §4.6) and, unlike BatchDelay, is not a Task field — it mirrors
// original_source DebouncedEventHandler's fixed 1.0s default.
const watcherDebounce = 1 * time.Second

// operationLockTimeout bounds how long the event path waits to acquire
// the per-runner operation lock before dropping the event (spec §4.6
// "Operation lock... With timeout; on timeout, the event is logged and
// dropped").
const operationLockTimeout = 60 * time.Second

// Status is the runner's lifecycle state (spec §4.6 state machine).
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
	StatusPaused
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	default:
		return "stopped"
	}
}

// WarningType classifies a safety alert (spec §4.6 check_sync_safety).
type WarningType int

const (
	WarningNone WarningType = iota
	WarningMassiveChange
	WarningEmptySource
)

// SafetyAlert is the payload the runner emits when a batch or a
// startup scan meets or exceeds the task's safety threshold (spec §6
// on_file_event safety_alert contract, SPEC_FULL.md SUPPLEMENTED
// FEATURES).
type SafetyAlert struct {
	WarningType    WarningType
	Message        string
	ChangesCount   int
	PreviewNames   []string
	IsInitialSync  bool
}

// Monitor is satisfied by watch.RealtimeWatcher and watch.PollingWatcher.
type Monitor interface {
	Watch(ctx context.Context, out chan<- syncproc.FileEvent) error
}

// EventCallback reports the outcome of one sync result to the adapter
// owning the UI/log surface (spec §9 "callbacks must not block the caller").
type EventCallback func(taskID string, event syncproc.FileEvent, result syncproc.SyncResult)

// StatusCallback reports a lifecycle transition.
type StatusCallback func(taskID string, status Status)

// SafetyCallback reports a new or updated safety alert.
type SafetyCallback func(taskID string, alert SafetyAlert)

type batchItem struct {
	event      syncproc.FileEvent
	isReverse  bool
	targetBase string
}

// Runner owns one task's watchers, batch buffer, safety gate, and
// lifecycle.
type Runner struct {
	Task      *task.Task
	Processor *syncproc.Processor
	Queue     *queue.Queue
	Filter    *syncproc.Filter
	Log       *slog.Logger

	EventCB  EventCallback
	StatusCB StatusCallback
	SafetyCB SafetyCallback

	// newSourceMonitor/newTargetMonitor are overridable for tests; they
	// default to real fsnotify/polling watchers in NewRunner.
	newSourceMonitor func() Monitor
	newTargetMonitor func(targetBase string) Monitor

	mu       sync.Mutex
	status   Status
	cancel   context.CancelFunc
	isSyncing bool

	opLock chan struct{} // 1-buffered semaphore; acquire-with-timeout

	batchMu    sync.Mutex
	batch      []batchItem
	batchTimer *time.Timer

	safetyMu       sync.Mutex
	isSafetyPaused bool
	pausedBatch    []batchItem
}

// NewRunner builds a Runner for t, wiring real watchers per t.MonitorMode.
func NewRunner(t *task.Task, proc *syncproc.Processor, q *queue.Queue, filter *syncproc.Filter, log *slog.Logger) *Runner {
	r := &Runner{
		Task:      t,
		Processor: proc,
		Queue:     q,
		Filter:    filter,
		Log:       log,
		opLock:    make(chan struct{}, 1),
	}

	r.newSourceMonitor = func() Monitor {
		if t.MonitorMode == task.MonitorPolling {
			interval := time.Duration(t.PollInterval) * time.Second
			if interval <= 0 {
				interval = 5 * time.Second
			}

			return watch.NewPollingWatcher(t.SourcePath, filter, interval, log)
		}

		return watch.NewRealtimeWatcher(t.SourcePath, filter, watcherDebounce, log)
	}

	r.newTargetMonitor = func(targetBase string) Monitor {
		return watch.NewRealtimeWatcher(targetBase, filter, watcherDebounce, log)
	}

	proc.ResultCB = func(event syncproc.FileEvent, result syncproc.SyncResult) {
		if result.Action == syncproc.ActionSkip {
			return
		}

		if r.EventCB != nil {
			r.EventCB(r.Task.ID, event, result)
		}
	}

	return r
}

// Status returns the runner's current lifecycle state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

func (r *Runner) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()

	if r.StatusCB != nil {
		r.StatusCB(r.Task.ID, s)
	}
}

// Start launches the source watcher (and, in two-way mode, one watcher
// per target), then schedules an initial safety-checked full sync
// (spec §4.6 "Start").
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.status == StatusRunning {
		r.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	events := make(chan syncproc.FileEvent, 256)

	srcMonitor := r.newSourceMonitor()
	go func() {
		if err := srcMonitor.Watch(runCtx, events); err != nil {
			r.Log.Warn("runner: source watcher exited", "task_id", r.Task.ID, "error", err)
		}
	}()

	go r.consumeEvents(runCtx, events, false, "")

	if r.Task.Mode == syncproc.ModeTwoWay {
		for _, tgt := range r.Task.TargetPaths {
			tgt := tgt

			tgtEvents := make(chan syncproc.FileEvent, 256)
			tgtMonitor := r.newTargetMonitor(tgt)

			go func() {
				if err := tgtMonitor.Watch(runCtx, tgtEvents); err != nil {
					r.Log.Warn("runner: target watcher exited", "task_id", r.Task.ID, "target", tgt, "error", err)
				}
			}()

			go r.consumeEvents(runCtx, tgtEvents, true, tgt)
		}
	}

	r.setStatus(StatusRunning)
	r.Log.Info("runner: task started", "task_id", r.Task.ID, "name", r.Task.Name)

	go r.initialSync(runCtx)

	return nil
}

func (r *Runner) consumeEvents(ctx context.Context, events <-chan syncproc.FileEvent, isReverse bool, targetBase string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			if r.Status() != StatusRunning {
				continue
			}

			r.addToBatch(ev, isReverse, targetBase)
		}
	}
}

// initialSync runs the startup safety check and either alerts or
// enqueues the initial full-sync plan (spec §4.6 "Start... Schedule an
// initial full sync").
func (r *Runner) initialSync(ctx context.Context) {
	time.Sleep(500 * time.Millisecond)

	alert, err := r.CheckSyncSafety(ctx)
	if err != nil {
		r.Log.Warn("runner: initial safety check failed, proceeding with sync", "task_id", r.Task.ID, "error", err)
	} else if alert.WarningType != WarningNone {
		alert.IsInitialSync = true

		if r.SafetyCB != nil {
			r.SafetyCB(r.Task.ID, alert)
		}

		return
	}

	deleteOrphans := r.Task.DeleteOrphans
	if r.Task.InitialSyncDelete {
		deleteOrphans = true
	}

	if err := r.runFullSyncLocked(ctx, deleteOrphans); err != nil {
		r.Log.Error("runner: initial full sync failed", "task_id", r.Task.ID, "error", err)
	}
}

// Stop stops all watchers and the batch timer and transitions to
// stopped. Pending queue items authored by this runner are not
// touched — the runner does not own the queue (spec §4.6 "Stop").
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.status == StatusStopped {
		r.mu.Unlock()
		return
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.batchMu.Lock()
	if r.batchTimer != nil {
		r.batchTimer.Stop()
		r.batchTimer = nil
	}
	r.batch = nil
	r.batchMu.Unlock()

	r.setStatus(StatusStopped)
	r.Log.Info("runner: task stopped", "task_id", r.Task.ID, "name", r.Task.Name)
}

// Pause suspends the event path; watchers keep running but events stop
// flowing into the batch buffer until Resume.
func (r *Runner) Pause() {
	r.mu.Lock()
	running := r.status == StatusRunning
	r.mu.Unlock()

	if running {
		r.setStatus(StatusPaused)
	}
}

// Resume undoes Pause and, if events were buffered while paused,
// re-drives the batch timer so they are not stuck until the next
// unrelated event arrives.
func (r *Runner) Resume() {
	r.mu.Lock()
	paused := r.status == StatusPaused
	r.mu.Unlock()

	if !paused {
		return
	}

	r.setStatus(StatusRunning)

	r.batchMu.Lock()
	pending := len(r.batch) > 0
	r.batchMu.Unlock()

	if pending {
		go r.processBatch()
	}
}

// addToBatch appends to the batch buffer and resets the debounce timer
// (spec §4.6 "Event path").
func (r *Runner) addToBatch(ev syncproc.FileEvent, isReverse bool, targetBase string) {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()

	if r.batchTimer != nil {
		r.batchTimer.Stop()
	}

	r.batch = append(r.batch, batchItem{event: ev, isReverse: isReverse, targetBase: targetBase})

	delay := time.Duration(r.Task.BatchDelay) * time.Second
	if delay <= 0 {
		delay = time.Second
	}

	r.batchTimer = time.AfterFunc(delay, r.processBatch)
}

// processBatch snapshots the buffer and applies the safety gate (spec
// §4.6 "Safety gate"). While paused, the buffer is left untouched so
// Resume can re-drive it — the event path only suspends, it never
// drops events the way a timed-out operation lock does.
func (r *Runner) processBatch() {
	if r.Status() == StatusPaused {
		return
	}

	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	batch := r.batch
	r.batch = nil
	r.batchTimer = nil
	r.batchMu.Unlock()

	r.safetyMu.Lock()
	if r.isSafetyPaused {
		r.pausedBatch = append(r.pausedBatch, batch...)
		r.safetyMu.Unlock()
		r.emitSafetyAlert()

		return
	}
	r.safetyMu.Unlock()

	total := countChanges(batch)

	if total >= r.Task.SafetyThreshold && r.Task.SafetyThreshold > 0 {
		r.safetyMu.Lock()
		r.isSafetyPaused = true
		r.pausedBatch = append(r.pausedBatch, batch...)
		r.safetyMu.Unlock()

		r.emitSafetyAlert()

		return
	}

	r.executeBatch(batch)
}

// countChanges counts a directory event as the number of files it
// contains, best-effort (spec §4.6 "Safety gate").
func countChanges(batch []batchItem) int {
	total := 0

	for _, item := range batch {
		if item.event.IsDirectory {
			count := 0

			_ = filepath.WalkDir(item.event.SrcPath, func(_ string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}

				if d != nil && !d.IsDir() {
					count++
				}

				return nil
			})

			if count == 0 {
				count = 1
			}

			total += count

			continue
		}

		total++
	}

	return total
}

func (r *Runner) emitSafetyAlert() {
	r.safetyMu.Lock()
	count := len(r.pausedBatch)
	preview := make([]string, 0, 5)

	for i, item := range r.pausedBatch {
		if i >= 5 {
			break
		}

		preview = append(preview, filepath.Base(item.event.SrcPath))
	}
	r.safetyMu.Unlock()

	msg := fmt.Sprintf("%d file(s) changed, meeting or exceeding the safety threshold (%d)", count, r.Task.SafetyThreshold)

	r.Log.Warn("runner: safety gate engaged", "task_id", r.Task.ID, "count", count)

	if r.SafetyCB != nil {
		r.SafetyCB(r.Task.ID, SafetyAlert{
			WarningType:  WarningMassiveChange,
			Message:      msg,
			ChangesCount: count,
			PreviewNames: preview,
		})
	}
}

// ConfirmSafetyAlert drains the paused batch and enqueues it (spec
// §4.6 "confirm_safety_alert").
func (r *Runner) ConfirmSafetyAlert() {
	r.safetyMu.Lock()
	if !r.isSafetyPaused {
		r.safetyMu.Unlock()
		return
	}

	batch := r.pausedBatch
	r.pausedBatch = nil
	r.isSafetyPaused = false
	r.safetyMu.Unlock()

	if len(batch) > 0 {
		r.executeBatch(batch)
	}
}

// ResetSafetyPause discards the paused batch without executing it
// (spec §4.6 "reset_safety_pause").
func (r *Runner) ResetSafetyPause() {
	r.safetyMu.Lock()
	r.pausedBatch = nil
	r.isSafetyPaused = false
	r.safetyMu.Unlock()
}

// PendingBatchCount reports how many items are held behind the safety
// gate.
func (r *Runner) PendingBatchCount() int {
	r.safetyMu.Lock()
	defer r.safetyMu.Unlock()

	return len(r.pausedBatch)
}

// executeBatch translates a batch snapshot into Operations and
// enqueues them (spec §4.6 "Event path": "translate the snapshot into
// Operations and enqueue"). Per spec §9 "Ownership of destructive
// I/O", the decide-and-apply logic in ProcessEvent/ProcessReverseEvent
// only actually runs once the queue worker dequeues each
// OpProcessEvent operation; this method never touches the filesystem
// itself. The operation lock here only serializes batch translation
// against a concurrent full-sync scan, not the queue's own worker.
func (r *Runner) executeBatch(batch []batchItem) {
	if !r.acquireOpLock(operationLockTimeout) {
		r.Log.Warn("runner: operation lock timeout, dropping batch", "task_id", r.Task.ID, "items", len(batch))
		return
	}
	defer r.releaseOpLock()

	ops := make([]syncproc.Operation, 0, len(batch))

	for _, item := range batch {
		if item.isReverse {
			ops = append(ops, syncproc.NewEventOperation(r.Task.ID, r.Task.Name, item.event, []string{item.targetBase}, true))
			continue
		}

		ops = append(ops, syncproc.NewEventOperation(r.Task.ID, r.Task.Name, item.event, r.Task.TargetPaths, false))
	}

	r.Queue.EnqueueBatch(ops)

	now := time.Now()
	r.Task.LastRunTime = &now
}

func (r *Runner) acquireOpLock(timeout time.Duration) bool {
	select {
	case r.opLock <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *Runner) releaseOpLock() {
	<-r.opLock
}

// CheckSyncSafety runs a dry-run scan and reports whether the result
// would exceed the safety threshold or empty the target (spec §4.6
// "check_sync_safety").
func (r *Runner) CheckSyncSafety(ctx context.Context) (SafetyAlert, error) {
	ops, err := r.Processor.ScanAndPlan(ctx, r.Task.TargetPaths, r.Task.DeleteOrphans, true)
	if err != nil {
		return SafetyAlert{}, err
	}

	total := 0
	deletes := 0
	preview := make([]string, 0, 5)

	for _, op := range ops {
		if op.Type == "" {
			continue
		}

		total++

		if op.Type == syncproc.OpDeleteFile {
			deletes++
		}

		if len(preview) < 5 {
			preview = append(preview, string(op.Type)+": "+filepath.Base(op.SourcePath))
		}
	}

	if r.Task.Mode == syncproc.ModeOneWay && r.Task.DeleteOrphans && deletes > 0 {
		empty, err := isDirEmpty(r.Task.SourcePath)
		if err == nil && empty {
			return SafetyAlert{
				WarningType:  WarningEmptySource,
				Message:      fmt.Sprintf("source is empty; this sync would delete %d file(s) from the target", deletes),
				ChangesCount: total,
				PreviewNames: preview,
			}, nil
		}
	}

	if r.Task.SafetyThreshold > 0 && total >= r.Task.SafetyThreshold {
		return SafetyAlert{
			WarningType:  WarningMassiveChange,
			Message:      fmt.Sprintf("%d change(s) meet the safety threshold (%d)", total, r.Task.SafetyThreshold),
			ChangesCount: total,
			PreviewNames: preview,
		}, nil
	}

	return SafetyAlert{WarningType: WarningNone, ChangesCount: total}, nil
}

func isDirEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}

	return len(entries) == 0, nil
}

// RunFullSync triggers scan_and_plan then, unless it is a dry run,
// enqueues the resulting operations (spec §4.6; SPEC_FULL.md resolved
// open question #2 — scan_and_plan never executes; run_full_sync is
// the thin enqueueing wrapper).
func (r *Runner) RunFullSync(ctx context.Context, deleteOrphansOverride *bool) error {
	deleteOrphans := r.Task.DeleteOrphans
	if deleteOrphansOverride != nil {
		deleteOrphans = *deleteOrphansOverride
	}

	return r.runFullSyncLocked(ctx, deleteOrphans)
}

func (r *Runner) runFullSyncLocked(ctx context.Context, deleteOrphans bool) error {
	if !r.acquireOpLock(operationLockTimeout) {
		return fmt.Errorf("runner: operation lock timeout for task %s", r.Task.ID)
	}
	defer r.releaseOpLock()

	r.mu.Lock()
	r.isSyncing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.isSyncing = false
		r.mu.Unlock()
	}()

	ops, err := r.Processor.ScanAndPlan(ctx, r.Task.TargetPaths, deleteOrphans, false)
	if err != nil {
		r.Log.Warn("runner: full sync scan had errors", "task_id", r.Task.ID, "error", err)
	}

	actionable := ops[:0]
	for _, op := range ops {
		if op.Type != "" {
			actionable = append(actionable, op)
		}
	}

	if len(actionable) == 0 {
		r.Log.Info("runner: full sync scan complete, no changes", "task_id", r.Task.ID)

		now := time.Now()
		r.Task.LastRunTime = &now

		return nil
	}

	r.Queue.EnqueueBatch(actionable)

	now := time.Now()
	r.Task.LastRunTime = &now

	r.Log.Info("runner: full sync enqueued", "task_id", r.Task.ID, "ops", len(actionable))

	return nil
}

// IsSyncing reports whether a full sync currently holds the operation
// lock.
func (r *Runner) IsSyncing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.isSyncing
}
