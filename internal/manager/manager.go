// Package manager implements the Task Manager (C7): the process-wide
// registry of tasks and their Runners, task-definition persistence,
// and the Queue's executor wiring (spec §4.7; grounded on the
// teacher's internal/sync/orchestrator.go registry-of-drives pattern
// and original_source core/task_manager.py's TaskManager singleton).
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tonimelisma/replicator/internal/conflict"
	"github.com/tonimelisma/replicator/internal/queue"
	"github.com/tonimelisma/replicator/internal/runner"
	"github.com/tonimelisma/replicator/internal/state"
	"github.com/tonimelisma/replicator/internal/syncproc"
	"github.com/tonimelisma/replicator/internal/task"
)

// tasksFile is the on-disk shape persisted at Manager.path (spec §6:
// "{\"tasks\": [...]}").
type tasksFile struct {
	Tasks []*task.Task `json:"tasks"`
}

// Manager owns the task registry, the shared state store, and the
// single process-wide Queue, installing itself as the Queue's
// executor so an Operation of any kind resolves back to the Runner
// (and therefore Processor) that owns its task (spec §4.7,
// original_source task_manager.py's `_execute_queue_operation`).
type Manager struct {
	path  string
	log   *slog.Logger
	store *state.Store
	queue *queue.Queue

	mu      sync.RWMutex
	tasks   map[string]*task.Task
	runners map[string]*runner.Runner

	// EventCB/StatusCB/SafetyCB fan out to every Runner this Manager
	// creates, so a single UI/log adapter can subscribe process-wide.
	EventCB  runner.EventCallback
	StatusCB runner.StatusCallback
	SafetyCB runner.SafetyCallback
}

// New creates a Manager backed by the task-definitions JSON file at
// path and the given shared state store and queue. Call Load to
// populate the registry from disk.
func New(path string, store *state.Store, q *queue.Queue, log *slog.Logger) *Manager {
	m := &Manager{
		path:    path,
		log:     log,
		store:   store,
		queue:   q,
		tasks:   make(map[string]*task.Task),
		runners: make(map[string]*runner.Runner),
	}

	q.SetExecutor(m.executeQueueOperation)

	return m
}

// executeQueueOperation resolves an Operation back to its owning
// Runner's Processor and executes it there — the only place Queue
// items are actually dispatched (spec §4.4/§4.7, §9 "Ownership of
// destructive I/O").
func (m *Manager) executeQueueOperation(ctx context.Context, op syncproc.Operation) (bool, string) {
	m.mu.RLock()
	r, ok := m.runners[op.TaskID]
	m.mu.RUnlock()

	if !ok {
		return false, fmt.Sprintf("manager: no runner registered for task %s", op.TaskID)
	}

	return r.Processor.ExecuteOperation(ctx, op)
}

// Load reads the task-definitions file and builds a Runner for every
// task found, without starting any of them (spec §4.7 "load_tasks").
// A missing file is not an error — a fresh install starts empty.
func (m *Manager) Load() error {
	b, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("manager: load tasks: %w", err)
	}

	var doc tasksFile
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("manager: parse tasks: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range doc.Tasks {
		m.tasks[t.ID] = t
		m.runners[t.ID] = m.buildRunnerLocked(t)
	}

	return nil
}

// Save persists the current task registry atomically (write-temp-
// then-rename), mirroring the State Store's save discipline.
func (m *Manager) Save() error {
	m.mu.RLock()
	doc := tasksFile{Tasks: make([]*task.Task, 0, len(m.tasks))}
	for _, t := range m.tasks {
		doc.Tasks = append(doc.Tasks, t)
	}
	m.mu.RUnlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("manager: marshal tasks: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manager: create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tasks-*.json.tmp")
	if err != nil {
		return fmt.Errorf("manager: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manager: write tasks: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manager: rename tasks: %w", err)
	}

	return nil
}

func (m *Manager) buildRunnerLocked(t *task.Task) *runner.Runner {
	filter := syncproc.NewFilter(t.IncludePatterns, t.EffectiveExcludes(), "", m.log)

	proc := &syncproc.Processor{
		TaskID:        t.ID,
		SourcePath:    t.SourcePath,
		Mode:          t.Mode,
		CompareMethod: t.CompareMethod,
		Strategy:      t.ConflictStrategy,
		DisableDelete: t.DisableDelete,
		ReverseDelete: t.ReverseDelete,
		Filter:        filter,
		Store:         m.store,
		Log:           m.log,
	}

	if proc.Strategy == "" {
		proc.Strategy = conflict.NewestWins
	}

	r := runner.NewRunner(t, proc, m.queue, filter, m.log)
	r.EventCB = func(taskID string, ev syncproc.FileEvent, res syncproc.SyncResult) {
		if m.EventCB != nil {
			m.EventCB(taskID, ev, res)
		}
	}
	r.StatusCB = func(taskID string, status runner.Status) {
		if m.StatusCB != nil {
			m.StatusCB(taskID, status)
		}
	}
	r.SafetyCB = func(taskID string, alert runner.SafetyAlert) {
		if m.SafetyCB != nil {
			m.SafetyCB(taskID, alert)
		}
	}

	return r
}

// CreateTask registers a new task, persists the registry, and builds
// (but does not start) its Runner (spec §4.7 "create_task").
func (m *Manager) CreateTask(t *task.Task) error {
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.runners[t.ID] = m.buildRunnerLocked(t)
	m.mu.Unlock()

	return m.Save()
}

// UpdateTask replaces a task's definition, rebuilding its Runner.
// If the task was running, it is stopped first and then restarted
// against the new definition; a task that was not running stays
// stopped.
func (m *Manager) UpdateTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	old, existed := m.runners[t.ID]
	wasRunning := existed && old.Status() == runner.StatusRunning

	if existed {
		old.Stop()
	}

	m.tasks[t.ID] = t
	newRunner := m.buildRunnerLocked(t)
	m.runners[t.ID] = newRunner
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return err
	}

	if wasRunning {
		return newRunner.Start(ctx)
	}

	return nil
}

// DeleteTask stops and removes a task and its Runner.
func (m *Manager) DeleteTask(id string) error {
	m.mu.Lock()
	if r, ok := m.runners[id]; ok {
		r.Stop()
	}

	delete(m.runners, id)
	delete(m.tasks, id)
	m.mu.Unlock()

	return m.Save()
}

// GetTask returns a task's definition by ID.
func (m *Manager) GetTask(id string) (*task.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]

	return t, ok
}

// GetAllTasks returns every registered task definition.
func (m *Manager) GetAllTasks() []*task.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}

	return out
}

func (m *Manager) runnerFor(id string) (*runner.Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runners[id]

	return r, ok
}

// StartTask starts one task's Runner.
func (m *Manager) StartTask(ctx context.Context, id string) error {
	r, ok := m.runnerFor(id)
	if !ok {
		return fmt.Errorf("manager: unknown task %s", id)
	}

	return r.Start(ctx)
}

// StopTask stops one task's Runner.
func (m *Manager) StopTask(id string) error {
	r, ok := m.runnerFor(id)
	if !ok {
		return fmt.Errorf("manager: unknown task %s", id)
	}

	r.Stop()

	return nil
}

// PauseTask pauses one task's event path.
func (m *Manager) PauseTask(id string) error {
	r, ok := m.runnerFor(id)
	if !ok {
		return fmt.Errorf("manager: unknown task %s", id)
	}

	r.Pause()

	return nil
}

// ResumeTask resumes one task's event path.
func (m *Manager) ResumeTask(id string) error {
	r, ok := m.runnerFor(id)
	if !ok {
		return fmt.Errorf("manager: unknown task %s", id)
	}

	r.Resume()

	return nil
}

// RunFullSync triggers one task's full sync (spec §4.7 "run_full_sync").
func (m *Manager) RunFullSync(ctx context.Context, id string, deleteOrphansOverride *bool) error {
	r, ok := m.runnerFor(id)
	if !ok {
		return fmt.Errorf("manager: unknown task %s", id)
	}

	return r.RunFullSync(ctx, deleteOrphansOverride)
}

// StartAll starts every enabled, auto_start task.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	tasks := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	var firstErr error

	for _, t := range tasks {
		if !t.Enabled || !t.AutoStart {
			continue
		}

		if err := m.StartTask(ctx, t.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// StopAll stops every running task.
func (m *Manager) StopAll() {
	m.mu.RLock()
	runners := make([]*runner.Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.RUnlock()

	for _, r := range runners {
		r.Stop()
	}
}

// GetTaskStatus reports a task's current lifecycle state.
func (m *Manager) GetTaskStatus(id string) (runner.Status, error) {
	r, ok := m.runnerFor(id)
	if !ok {
		return runner.StatusStopped, fmt.Errorf("manager: unknown task %s", id)
	}

	return r.Status(), nil
}

// ConfirmSafetyAlert drains and executes a task's paused batch.
func (m *Manager) ConfirmSafetyAlert(id string) error {
	r, ok := m.runnerFor(id)
	if !ok {
		return fmt.Errorf("manager: unknown task %s", id)
	}

	r.ConfirmSafetyAlert()

	return nil
}

// ResetSafetyPause discards a task's paused batch.
func (m *Manager) ResetSafetyPause(id string) error {
	r, ok := m.runnerFor(id)
	if !ok {
		return fmt.Errorf("manager: unknown task %s", id)
	}

	r.ResetSafetyPause()

	return nil
}

// GetRunningCount reports how many tasks currently have a running Runner.
func (m *Manager) GetRunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0

	for _, r := range m.runners {
		if r.Status() == runner.StatusRunning {
			count++
		}
	}

	return count
}
