// Package queue implements the Operation Queue (C4): a single-worker
// serialized executor of atomic file operations with pause/resume/
// clear, the one place all destructive I/O flows through (spec §4.4,
// §9 "Ownership of destructive I/O").
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tonimelisma/replicator/internal/syncproc"
)

// ExecutorFunc performs one Operation, returning success and an
// optional message. Installed via SetExecutor; normally the
// TaskManager's dispatcher resolving the operation back to its
// owning runner's processor (spec §4.7).
type ExecutorFunc func(ctx context.Context, op syncproc.Operation) (bool, string)

// Status is a snapshot of the queue's current counters (spec §4.4).
type Status struct {
	Pending    int
	Completed  int
	Failed     int
	IsPaused   bool
	CurrentOp  *syncproc.Operation
}

// retryableClassifier reports whether a failed op should be re-run by
// the worker (up to three further attempts, 100ms apart, within 5s),
// distinct from the per-file
// sync decision layer's explicit no-retry policy (spec §7; SPEC_FULL.md
// DOMAIN STACK). Conservative: only explicit transient markers retry.
type retryableClassifier func(msg string) bool

// defaultRetryable never retries; callers needing transient-I/O retry
// (e.g. "resource busy") install a classifier that accepts those
// messages via WithRetryClassifier.
func defaultRetryable(string) bool { return false }

// Queue is the single-worker serialized executor (spec §4.4: "There is
// exactly one in-flight op process-wide").
type Queue struct {
	log *slog.Logger

	mu          sync.Mutex
	pending     []syncproc.Operation
	completed   int
	failed      int
	isPaused    bool
	current     *syncproc.Operation
	executor    ExecutorFunc
	retryable   retryableClassifier

	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New creates a Queue with no executor installed; until SetExecutor is
// called, the worker runs each op through fallbackExecutor (raw
// copy/delete, used only as a safety net in tests per spec §4.4).
func New(log *slog.Logger) *Queue {
	q := &Queue{
		log:       log,
		retryable: defaultRetryable,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	return q
}

// SetExecutor installs the function that actually performs an
// operation.
func (q *Queue) SetExecutor(fn ExecutorFunc) {
	q.mu.Lock()
	q.executor = fn
	q.mu.Unlock()
}

// WithRetryClassifier installs a function deciding whether a given
// error message should trigger a bounded retry of the op at the
// worker level: up to three further attempts, 100ms apart, within 5s
// (SPEC_FULL.md DOMAIN STACK go-retry wiring).
func (q *Queue) WithRetryClassifier(fn retryableClassifier) {
	q.mu.Lock()
	q.retryable = fn
	q.mu.Unlock()
}

// Enqueue adds one operation. Non-blocking; accepted while not shut down.
func (q *Queue) Enqueue(op syncproc.Operation) {
	q.mu.Lock()
	q.pending = append(q.pending, op)
	q.mu.Unlock()

	q.signal()
}

// EnqueueBatch adds many operations atomically with respect to other
// enqueuers.
func (q *Queue) EnqueueBatch(ops []syncproc.Operation) {
	if len(ops) == 0 {
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, ops...)
	q.mu.Unlock()

	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pause stops the worker from consuming pending items. Enqueues are
// still accepted while paused.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.isPaused = true
	q.mu.Unlock()
}

// Resume allows the worker to consume pending items again.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.isPaused = false
	q.mu.Unlock()

	q.signal()
}

// Clear discards pending items, marking them cancelled. The currently
// running operation completes.
func (q *Queue) Clear() {
	q.mu.Lock()
	for i := range q.pending {
		q.pending[i].Status = syncproc.OpCancelled
	}
	q.pending = nil
	q.mu.Unlock()
}

// GetStatus returns a snapshot of the queue's counters.
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Status{
		Pending:   len(q.pending),
		Completed: q.completed,
		Failed:    q.failed,
		IsPaused:  q.isPaused,
		CurrentOp: q.current,
	}
}

// Run starts the single worker goroutine. It blocks on an empty queue
// with a short poll so Shutdown stays responsive (spec §5), and
// recovers from a panic in a single operation without killing the
// worker (spec §7 "Unhandled exception in worker/timer").
func (q *Queue) Run(ctx context.Context) {
	go q.worker(ctx)
}

const workerPollInterval = 200 * time.Millisecond

func (q *Queue) worker(ctx context.Context) {
	defer close(q.stopped)

	ticker := time.NewTicker(workerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-q.notify:
			q.drain(ctx)
		case <-ticker.C:
			q.drain(ctx)
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		default:
		}

		q.mu.Lock()
		if q.isPaused || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}

		op := q.pending[0]
		q.pending = q.pending[1:]
		op.Status = syncproc.OpRunning
		q.current = &op
		executor := q.executor
		retryable := q.retryable
		q.mu.Unlock()

		q.executeWithRecovery(ctx, op, executor, retryable)
	}
}

func (q *Queue) executeWithRecovery(ctx context.Context, op syncproc.Operation, executor ExecutorFunc, retryable retryableClassifier) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue: panic executing operation", "op_id", op.ID, "panic", r)
			q.recordResult(op, false, "panic during execution")
		}
	}()

	if executor == nil {
		executor = fallbackExecutor
	}

	ok, msg := executor(ctx, op)

	if !ok && retryable != nil && retryable(msg) {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		base, backoffErr := retry.NewConstant(100 * time.Millisecond)
		if backoffErr == nil {
			backoff := retry.WithMaxRetries(2, base)
			_ = retry.Do(rctx, backoff, func(context.Context) error {
				ok, msg = executor(ctx, op)
				if !ok {
					return retry.RetryableError(errString(msg))
				}

				return nil
			})
		}
	}

	q.recordResult(op, ok, msg)
}

type errString string

func (e errString) Error() string { return string(e) }

func (q *Queue) recordResult(op syncproc.Operation, ok bool, msg string) {
	now := time.Now()
	op.CompletedAt = &now

	q.mu.Lock()
	if ok {
		op.Status = syncproc.OpCompleted
		q.completed++
	} else {
		op.Status = syncproc.OpFailed
		op.ErrorMessage = msg
		q.failed++
	}
	q.current = nil
	q.mu.Unlock()
}

// Shutdown stops the worker, blocking up to a bounded timeout for the
// current operation to drain.
func (q *Queue) Shutdown(timeout time.Duration) {
	close(q.done)

	select {
	case <-q.stopped:
	case <-time.After(timeout):
		q.log.Warn("queue: shutdown timed out waiting for worker to drain")
	}
}

// fallbackExecutor performs raw copy/delete directly; used only when
// no executor has been installed (safety net in tests, spec §4.4).
func fallbackExecutor(ctx context.Context, op syncproc.Operation) (bool, string) {
	p := &syncproc.Processor{Log: slog.Default()}

	return p.ExecuteOperation(ctx, op)
}
