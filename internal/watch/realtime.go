package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/replicator/internal/syncproc"
)

// FsWatcher abstracts fsnotify.Watcher so tests can inject a fake,
// mirroring the teacher's FsWatcher abstraction in observer_local.go.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// RealtimeWatcher recursively watches a directory tree with fsnotify and
// emits debounced syncproc.FileEvent values (spec §4.5). Renames are
// reported as a delete of the old path plus a create of the new one —
// the teacher's LocalObserver documents the same limitation for inotify
// and defers real rename correlation to the next full reconciliation scan.
type RealtimeWatcher struct {
	root     string
	filter   *syncproc.Filter
	debounce time.Duration
	log      *slog.Logger

	watcherFactory func() (FsWatcher, error)

	mu   sync.Mutex
	dirs map[string]bool
}

// NewRealtimeWatcher creates a watcher rooted at root. filter may be nil to
// watch everything.
func NewRealtimeWatcher(root string, filter *syncproc.Filter, debounce time.Duration, log *slog.Logger) *RealtimeWatcher {
	return &RealtimeWatcher{
		root:     root,
		filter:   filter,
		debounce: debounce,
		log:      log,
		dirs:     make(map[string]bool),
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Watch blocks until ctx is canceled, emitting debounced events onto out.
func (w *RealtimeWatcher) Watch(ctx context.Context, out chan<- syncproc.FileEvent) error {
	watcher, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("watch: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addWatchesRecursive(watcher, w.root); err != nil {
		return fmt.Errorf("watch: adding initial watches: %w", err)
	}

	c := newCoalescer(w.log)
	batches := c.flushDebounced(ctx, w.debounce)

	go func() {
		for batch := range batches {
			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return w.watchLoop(ctx, watcher, c)
}

func (w *RealtimeWatcher) addWatchesRecursive(watcher FsWatcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.log.Warn("watch: walk error during watch setup", "path", p, "error", walkErr)

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr == nil && rel != "." && w.filter != nil && !w.filter.Included(root, rel, true) {
			return filepath.SkipDir
		}

		if addErr := watcher.Add(p); addErr != nil {
			w.log.Warn("watch: failed to add watch", "path", p, "error", addErr)

			return nil
		}

		w.mu.Lock()
		w.dirs[p] = true
		w.mu.Unlock()

		return nil
	})
}

func (w *RealtimeWatcher) watchLoop(ctx context.Context, watcher FsWatcher, c *coalescer) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(watcher, ev, c)

		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.log.Warn("watch: fsnotify error", "error", err)
		}
	}
}

func (w *RealtimeWatcher) handleEvent(watcher FsWatcher, ev fsnotify.Event, c *coalescer) {
	rel, relErr := filepath.Rel(w.root, ev.Name)
	if relErr != nil {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if !isDir {
		w.mu.Lock()
		_, wasDir := w.dirs[ev.Name]
		w.mu.Unlock()

		isDir = wasDir
	}

	if w.filter != nil && !w.filter.Included(w.root, rel, isDir) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		if isDir {
			if err := w.addWatchesRecursive(watcher, ev.Name); err != nil {
				w.log.Warn("watch: failed to add watches for new directory", "path", ev.Name, "error", err)
			}
		}

		c.add(syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: ev.Name, IsDirectory: isDir, Timestamp: time.Now()})

	case ev.Has(fsnotify.Write):
		if !isDir {
			c.add(syncproc.FileEvent{Type: syncproc.EventModified, SrcPath: ev.Name, IsDirectory: false, Timestamp: time.Now()})
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		_, wasDir := w.dirs[ev.Name]
		delete(w.dirs, ev.Name)
		w.mu.Unlock()

		c.add(syncproc.FileEvent{Type: syncproc.EventDeleted, SrcPath: ev.Name, IsDirectory: wasDir || isDir, Timestamp: time.Now()})
	}
}
