package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/tonimelisma/replicator/internal/syncproc"
)

// PollingWatcher periodically scans a directory tree and diffs mtimes
// against the previous scan, for filesystems where fsnotify is unavailable
// or unreliable (spec §4.5 monitor_mode=polling; grounded on
// original_source core/file_monitor.py's PollingMonitor).
type PollingWatcher struct {
	root     string
	filter   *syncproc.Filter
	interval time.Duration
	log      *slog.Logger
}

// NewPollingWatcher creates a watcher that scans root every interval.
func NewPollingWatcher(root string, filter *syncproc.Filter, interval time.Duration, log *slog.Logger) *PollingWatcher {
	return &PollingWatcher{root: root, filter: filter, interval: interval, log: log}
}

type fileSnapshot struct {
	mtime time.Time
	size  int64
}

// Watch blocks until ctx is canceled, emitting one event per changed file
// at each poll tick onto out.
func (w *PollingWatcher) Watch(ctx context.Context, out chan<- syncproc.FileEvent) error {
	prev := w.scan()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			cur := w.scan()
			w.diff(ctx, prev, cur, out)
			prev = cur
		}
	}
}

func (w *PollingWatcher) scan() map[string]fileSnapshot {
	states := make(map[string]fileSnapshot)

	walkErr := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if p == w.root {
			return nil
		}

		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}

		if w.filter != nil && !w.filter.Included(w.root, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		states[p] = fileSnapshot{mtime: info.ModTime(), size: info.Size()}

		return nil
	})
	if walkErr != nil {
		w.log.Warn("watch: polling scan failed", "error", walkErr)
	}

	return states
}

func (w *PollingWatcher) diff(ctx context.Context, prev, cur map[string]fileSnapshot, out chan<- syncproc.FileEvent) {
	now := time.Now()

	for p, snap := range cur {
		old, existed := prev[p]

		var ev *syncproc.FileEvent

		switch {
		case !existed:
			ev = &syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: p, Timestamp: now}
		case old.mtime != snap.mtime || old.size != snap.size:
			ev = &syncproc.FileEvent{Type: syncproc.EventModified, SrcPath: p, Timestamp: now}
		}

		if ev == nil {
			continue
		}

		select {
		case out <- *ev:
		case <-ctx.Done():
			return
		}
	}

	for p := range prev {
		if _, ok := cur[p]; ok {
			continue
		}

		select {
		case out <- syncproc.FileEvent{Type: syncproc.EventDeleted, SrcPath: p, Timestamp: now}:
		case <-ctx.Done():
			return
		}
	}
}
