// Package state implements the State Store (C1): a persistent mapping
// of task_id -> relative_path -> FileState, backed by whole-file JSON
// per spec. Writers serialize through a mutex; save() is atomic via
// write-temp-then-rename.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileState is the last-seen fingerprint for one (task, relative path).
// If present, it describes content that was last known identical on
// all sides of a task (source and every target).
type FileState struct {
	Hash         string `json:"hash"`
	Mtime        int64  `json:"mtime"`
	Size         int64  `json:"size"`
	LastSyncTime int64  `json:"last_sync_time"`
}

// Store is the process-wide state store. All tasks share one Store;
// each task owns its own sub-map, keyed by task ID.
type Store struct {
	path string
	log  *slog.Logger

	mu   sync.Mutex
	data map[string]map[string]FileState
}

// New creates a Store backed by the JSON document at path. Call Load
// to populate it from disk; a freshly constructed Store is empty.
func New(path string, log *slog.Logger) *Store {
	return &Store{
		path: path,
		log:  log,
		data: make(map[string]map[string]FileState),
	}
}

// Load reads the whole-file JSON document into memory. A missing file
// is not an error (fresh installs start empty); any other read/parse
// failure is logged and the store falls back to an empty map, per
// spec §4.1 failure semantics ("load failures produce an empty map
// with a warning").
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = make(map[string]map[string]FileState)
		return nil
	}
	if err != nil {
		s.log.Warn("state store: load failed, starting empty", "path", s.path, "error", err)
		s.data = make(map[string]map[string]FileState)
		return nil
	}

	var loaded map[string]map[string]FileState
	if err := json.Unmarshal(b, &loaded); err != nil {
		s.log.Warn("state store: parse failed, starting empty", "path", s.path, "error", err)
		s.data = make(map[string]map[string]FileState)
		return nil
	}

	s.data = loaded

	return nil
}

// Save persists the whole map atomically (write-temp-then-rename) and
// returns any error to its caller; the in-memory map keeps serving
// reads/writes either way. ClearTask is the only caller in this
// module: the sync paths update the in-memory map without saving it,
// so state recorded by syncs is not written to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	b, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("state: write temp: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: rename: %w", err)
	}

	return nil
}

// Get returns the FileState for (taskID, rel), or false if absent.
// Readers may observe a value concurrently being updated; last-writer
// wins (spec §5).
func (s *Store) Get(taskID, rel string) (FileState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.data[taskID]
	if !ok {
		return FileState{}, false
	}

	fs, ok := task[rel]

	return fs, ok
}

// Update sets the in-memory FileState for (taskID, rel). Durable only
// after a subsequent Save.
func (s *Store) Update(taskID, rel string, fs FileState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.data[taskID]
	if !ok {
		task = make(map[string]FileState)
		s.data[taskID] = task
	}

	task[rel] = fs
}

// Remove deletes the FileState for (taskID, rel), if present.
func (s *Store) Remove(taskID, rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.data[taskID]; ok {
		delete(task, rel)
	}
}

// ClearTask drops all state for taskID and immediately persists, per
// spec §4.1 ("the latter implies save()").
func (s *Store) ClearTask(taskID string) error {
	s.mu.Lock()
	delete(s.data, taskID)
	s.mu.Unlock()

	return s.Save()
}
