package scheduler

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestSchedulerFiresIntervalJob(t *testing.T) {
	s := New(testLogger())

	var count atomic.Int32

	_, err := s.AddJob("", "task1", ScheduleInterval, "1m", func(Job) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	base := time.Now()
	s.now = func() time.Time { return base }

	jobs := s.GetJobs("task1")
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].NextRun)

	s.now = func() time.Time { return base.Add(90 * time.Second) }
	s.tick()

	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSchedulerOnceJobDisablesAfterFiring(t *testing.T) {
	s := New(testLogger())

	fireTime := time.Now().Add(-time.Minute)

	var fired atomic.Bool

	_, err := s.AddJob("once1", "task1", ScheduleOnce, fireTime.Format(time.RFC3339), func(Job) error {
		fired.Store(true)
		return nil
	})
	require.NoError(t, err)

	s.tick()

	require.Eventually(t, func() bool { return fired.Load() }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		jobs := s.GetJobs("task1")
		return len(jobs) == 1 && !jobs[0].Enabled
	}, time.Second, 10*time.Millisecond)
}

func TestSchedulerSkipsStillRunningJob(t *testing.T) {
	s := New(testLogger())

	start := make(chan struct{})
	release := make(chan struct{})

	var runCount atomic.Int32

	_, err := s.AddJob("j1", "task1", ScheduleInterval, "1m", func(Job) error {
		runCount.Add(1)
		close(start)
		<-release
		return nil
	})
	require.NoError(t, err)

	base := time.Now()
	s.now = func() time.Time { return base.Add(2 * time.Minute) }

	s.tick()

	select {
	case <-start:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	s.tick() // second tick while job still running must not refire

	close(release)

	require.Eventually(t, func() bool { return runCount.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSchedulerStartStop(t *testing.T) {
	s := New(testLogger())
	s.Start()
	require.True(t, s.IsRunning())
	s.Stop()
	require.False(t, s.IsRunning())
}

func TestRemoveJobAndTaskJobs(t *testing.T) {
	s := New(testLogger())

	id, err := s.AddJob("", "task1", ScheduleDaily, "09:00", func(Job) error { return nil })
	require.NoError(t, err)

	_, err = s.AddJob("", "task1", ScheduleInterval, "5m", func(Job) error { return nil })
	require.NoError(t, err)

	require.Len(t, s.GetJobs("task1"), 2)

	s.RemoveJob(id)
	require.Len(t, s.GetJobs("task1"), 1)

	s.RemoveTaskJobs("task1")
	require.Empty(t, s.GetJobs("task1"))
}
