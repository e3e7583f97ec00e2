package main

import (
	"path/filepath"

	"github.com/tonimelisma/replicator/internal/manager"
	"github.com/tonimelisma/replicator/internal/queue"
	"github.com/tonimelisma/replicator/internal/state"
)

// app bundles the process-wide State Store, Operation Queue, and Task
// Manager, wired together the way a `replicator run` daemon or a
// one-shot CLI command needs them (spec §4.7's Manager owns the
// Store and the single process-wide Queue).
type app struct {
	store   *state.Store
	queue   *queue.Queue
	manager *manager.Manager
}

// newApp builds an app rooted at cc.DataDir, using cc.Cfg's Storage
// section to locate the state store and tasks file. It loads both
// from disk but does not start the queue or any task runners — that
// is the caller's responsibility (`run` starts everything; one-shot
// commands like `task add` only need the registry).
func newApp(cc *CLIContext) (*app, error) {
	cfg := cc.Cfg

	statePath := filepath.Join(cc.DataDir, cfg.Storage.StateFile)
	tasksPath := filepath.Join(cc.DataDir, cfg.Storage.TasksFile)

	store := state.New(statePath, cc.Logger)
	if err := store.Load(); err != nil {
		return nil, err
	}

	q := queue.New(cc.Logger)
	m := manager.New(tasksPath, store, q, cc.Logger)

	if err := m.Load(); err != nil {
		return nil, err
	}

	return &app{store: store, queue: q, manager: m}, nil
}

// eventLogPath resolves the absolute path to the event-log database.
func eventLogPath(cc *CLIContext) string {
	return filepath.Join(cc.DataDir, cc.Cfg.Storage.EventLogFile)
}
