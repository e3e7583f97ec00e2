package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tonimelisma/replicator/internal/conflict"
	"github.com/tonimelisma/replicator/internal/queue"
	"github.com/tonimelisma/replicator/internal/state"
	"github.com/tonimelisma/replicator/internal/syncproc"
	"github.com/tonimelisma/replicator/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// fakeMonitor is a hand-rolled Monitor fake (mirroring the teacher's
// Store/Filter fakes) that lets a test feed events directly rather
// than depending on real filesystem timing.
type fakeMonitor struct {
	mu     sync.Mutex
	events []syncproc.FileEvent
}

func (f *fakeMonitor) Watch(ctx context.Context, out chan<- syncproc.FileEvent) error {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()

	for _, ev := range events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}

	<-ctx.Done()

	return nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]map[string]state.FileState
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string]state.FileState)}
}

func (m *memStore) Get(taskID, rel string) (state.FileState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.data[taskID]
	if !ok {
		return state.FileState{}, false
	}

	fs, ok := t[rel]

	return fs, ok
}

func (m *memStore) Update(taskID, rel string, fs state.FileState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.data[taskID]
	if !ok {
		t = make(map[string]state.FileState)
		m.data[taskID] = t
	}

	t[rel] = fs
}

func newTestRunner(t *testing.T) (*Runner, string, string) {
	t.Helper()

	src := t.TempDir()
	tgt := t.TempDir()

	tsk := &task.Task{
		ID:              "task1",
		Name:            "test",
		SourcePath:      src,
		TargetPaths:     []string{tgt},
		Mode:            syncproc.ModeOneWay,
		CompareMethod:   syncproc.CompareMtime,
		SafetyThreshold: 1000,
		BatchDelay:      1,
	}

	filter := syncproc.NewFilter(nil, nil, "", testLogger())

	proc := &syncproc.Processor{
		TaskID:        tsk.ID,
		SourcePath:    src,
		Mode:          tsk.Mode,
		CompareMethod: tsk.CompareMethod,
		Strategy:      conflict.SourceWins,
		Filter:        filter,
		Store:         newMemStore(),
		Log:           testLogger(),
	}

	q := queue.New(testLogger())
	q.SetExecutor(func(ctx context.Context, op syncproc.Operation) (bool, string) {
		return proc.ExecuteOperation(ctx, op)
	})
	q.Run(context.Background())
	t.Cleanup(func() { q.Shutdown(time.Second) })

	r := NewRunner(tsk, proc, q, filter, testLogger())

	return r, src, tgt
}

func TestRunnerStartProcessesRealtimeEvent(t *testing.T) {
	r, src, tgt := newTestRunner(t)

	f := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(f, []byte("hi"), 0o644))

	fm := &fakeMonitor{events: []syncproc.FileEvent{
		{Type: syncproc.EventCreated, SrcPath: f, Timestamp: time.Now()},
	}}
	r.newSourceMonitor = func() Monitor { return fm }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.Eventually(t, func() bool {
		got, err := os.ReadFile(filepath.Join(tgt, "a.txt"))
		return err == nil && string(got) == "hi"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunnerSafetyGateEngagesAboveThreshold(t *testing.T) {
	r, src, _ := newTestRunner(t)
	r.Task.SafetyThreshold = 2

	var events []syncproc.FileEvent

	for i := 0; i < 3; i++ {
		f := filepath.Join(src, "f"+string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
		events = append(events, syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: f, Timestamp: time.Now()})
	}

	fm := &fakeMonitor{events: events}
	r.newSourceMonitor = func() Monitor { return fm }

	var gotAlert SafetyAlert
	alerted := make(chan struct{}, 1)
	r.SafetyCB = func(taskID string, alert SafetyAlert) {
		// The startup safety check also reports the three files; only
		// the batch gate's alert is under test here.
		if alert.IsInitialSync {
			return
		}

		gotAlert = alert
		select {
		case alerted <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	select {
	case <-alerted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for safety alert")
	}

	require.Equal(t, WarningMassiveChange, gotAlert.WarningType)
	require.Equal(t, 3, r.PendingBatchCount())

	r.ConfirmSafetyAlert()
	require.Eventually(t, func() bool { return r.PendingBatchCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRunnerPauseStopsEventConsumption(t *testing.T) {
	r, src, tgt := newTestRunner(t)

	fm := &fakeMonitor{}
	r.newSourceMonitor = func() Monitor { return fm }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	// Let the startup full sync, which Pause does not gate, pass over
	// the still-empty source before the file appears.
	time.Sleep(700 * time.Millisecond)

	f := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(f, []byte("hi"), 0o644))

	r.Pause()
	require.Equal(t, StatusPaused, r.Status())

	r.addToBatch(syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: f, Timestamp: time.Now()}, false, "")
	time.Sleep(1200 * time.Millisecond)

	_, err := os.Stat(filepath.Join(tgt, "a.txt"))
	require.True(t, os.IsNotExist(err), "paused runner must not execute the batch")

	r.Resume()
	require.Equal(t, StatusRunning, r.Status())
}

func TestRunnerRunFullSyncEnqueuesAndExecutes(t *testing.T) {
	r, src, tgt := newTestRunner(t)
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hi"), 0o644))

	r.newSourceMonitor = func() Monitor { return &fakeMonitor{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.NoError(t, r.RunFullSync(context.Background(), nil))

	require.Eventually(t, func() bool {
		got, err := os.ReadFile(filepath.Join(tgt, "a.txt"))
		return err == nil && string(got) == "hi"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunnerCheckSyncSafetyReportsEmptySource(t *testing.T) {
	r, _, tgt := newTestRunner(t)
	r.Task.DeleteOrphans = true

	require.NoError(t, os.WriteFile(filepath.Join(tgt, "orphan.txt"), []byte("x"), 0o644))

	alert, err := r.CheckSyncSafety(context.Background())
	require.NoError(t, err)
	require.Equal(t, WarningEmptySource, alert.WarningType)
}
