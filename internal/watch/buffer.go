// Package watch implements the File Watcher (C5): a realtime fsnotify-backed
// watcher and a polling fallback, both emitting debounced syncproc.FileEvent
// values onto a caller-supplied channel (spec §4.5; grounded on the teacher's
// internal/sync/buffer.go debounce pattern and original_source
// core/file_monitor.py's DebouncedEventHandler/PollingMonitor).
package watch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tonimelisma/replicator/internal/syncproc"
)

// coalescer groups FileEvents by path, keeping only the most recent event
// per path (later events overwrite earlier ones), and flushes a batch once
// no new event has arrived for the debounce window (spec §4.5: "at most one
// event per debounce_seconds window" per path).
type coalescer struct {
	mu      sync.Mutex
	pending map[string]syncproc.FileEvent
	notify  chan struct{}
	log     *slog.Logger
}

func newCoalescer(log *slog.Logger) *coalescer {
	return &coalescer{
		pending: make(map[string]syncproc.FileEvent),
		log:     log,
	}
}

func (c *coalescer) add(ev syncproc.FileEvent) {
	c.mu.Lock()
	c.pending[ev.SrcPath] = ev
	c.mu.Unlock()

	c.signal()
}

func (c *coalescer) signal() {
	if c.notify == nil {
		return
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *coalescer) flush() []syncproc.FileEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}

	out := make([]syncproc.FileEvent, 0, len(c.pending))
	for _, ev := range c.pending {
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SrcPath < out[j].SrcPath })

	c.pending = make(map[string]syncproc.FileEvent)

	return out
}

// flushDebounced runs a goroutine that emits batches on the returned channel
// once debounce elapses with no new adds. The channel closes when ctx is
// canceled, after a final drain of any still-pending events.
func (c *coalescer) flushDebounced(ctx context.Context, debounce time.Duration) <-chan []syncproc.FileEvent {
	out := make(chan []syncproc.FileEvent, 1)

	c.mu.Lock()
	c.notify = make(chan struct{}, 1)
	c.mu.Unlock()

	go c.debounceLoop(ctx, debounce, out)

	return out
}

func (c *coalescer) debounceLoop(ctx context.Context, debounce time.Duration, out chan<- []syncproc.FileEvent) {
	defer close(out)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	timerActive := false

	for {
		select {
		case <-ctx.Done():
			if batch := c.flush(); batch != nil {
				select {
				case out <- batch:
				default:
					c.log.Warn("watch: final drain discarded, output channel full", "events", len(batch))
				}
			}

			return

		case _, ok := <-c.notify:
			if !ok {
				return
			}

			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timer.Reset(debounce)
			timerActive = true

		case <-timer.C:
			timerActive = false

			if batch := c.flush(); batch != nil {
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
