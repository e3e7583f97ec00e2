// Package scheduler implements the Scheduler (C8): named jobs on an
// interval/daily/weekly/once schedule, fired by a 1-second tick thread
// that skips a job still running from its previous firing (spec §4.8;
// grounded on original_source core/scheduler.py's Scheduler, expressed
// without a global singleton and with explicit Start/Stop per the
// teacher's lifecycle idiom).
package scheduler

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ScheduleType selects how a Job's ScheduleValue is interpreted.
type ScheduleType string

const (
	// ScheduleInterval: ScheduleValue is a duration like "30m", "2h", "1d".
	ScheduleInterval ScheduleType = "interval"
	// ScheduleDaily: ScheduleValue is a clock time like "09:00".
	ScheduleDaily ScheduleType = "daily"
	// ScheduleWeekly: ScheduleValue is "monday 09:00".
	ScheduleWeekly ScheduleType = "weekly"
	// ScheduleOnce: ScheduleValue is an RFC3339 timestamp; fires once
	// and disables itself.
	ScheduleOnce ScheduleType = "once"
)

// Job is one scheduled firing of a task's full sync.
type Job struct {
	ID       string
	TaskID   string
	Type     ScheduleType
	Value    string
	Enabled  bool
	LastRun  *time.Time
	NextRun  *time.Time
}

// Callback runs a job's action; returning an error only logs — it
// never stops the scheduler (spec §4.8 "a failing job is logged and
// does not deregister").
type Callback func(job Job) error

type scheduledJob struct {
	job      Job
	callback Callback
	running  bool
}

// Scheduler owns a set of named jobs and a background tick goroutine.
type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	counter int

	running bool
	stop    chan struct{}
	done    chan struct{}

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// New creates a Scheduler. Call Start to launch its tick thread.
func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:  log,
		jobs: make(map[string]*scheduledJob),
		now:  time.Now,
	}
}

// AddJob registers a job and computes its first NextRun. jobID may be
// empty to auto-generate one (spec §4.8 "add_job").
func (s *Scheduler) AddJob(jobID, taskID string, schedType ScheduleType, value string, cb Callback) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID == "" {
		jobID = fmt.Sprintf("job_%s_%d", taskID, s.counter)
		s.counter++
	}

	job := Job{ID: jobID, TaskID: taskID, Type: schedType, Value: value, Enabled: true}

	next, err := nextRun(job, s.now())
	if err != nil {
		return "", err
	}

	job.NextRun = &next

	s.jobs[jobID] = &scheduledJob{job: job, callback: cb}

	s.log.Info("scheduler: job added", "job_id", jobID, "task_id", taskID, "type", schedType, "value", value)

	return jobID, nil
}

// RemoveJob deregisters a job.
func (s *Scheduler) RemoveJob(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

// RemoveTaskJobs deregisters every job for a task.
func (s *Scheduler) RemoveTaskJobs(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sj := range s.jobs {
		if sj.job.TaskID == taskID {
			delete(s.jobs, id)
		}
	}
}

// EnableJob/DisableJob toggle a job without removing it.
func (s *Scheduler) EnableJob(jobID string)  { s.setEnabled(jobID, true) }
func (s *Scheduler) DisableJob(jobID string) { s.setEnabled(jobID, false) }

func (s *Scheduler) setEnabled(jobID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sj, ok := s.jobs[jobID]; ok {
		sj.job.Enabled = enabled
	}
}

// GetJobs returns every job, or every job for one task if taskID is non-empty.
func (s *Scheduler) GetJobs(taskID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))

	for _, sj := range s.jobs {
		if taskID == "" || sj.job.TaskID == taskID {
			out = append(out, sj.job)
		}
	}

	return out
}

// Start launches the 1-second tick thread (spec §4.8 "A background
// thread wakes once per second and fires due jobs").
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop()

	s.log.Info("scheduler: started")
}

// Stop halts the tick thread, waiting up to 5 seconds (spec §4.8
// mirrors original_source's `thread.join(timeout=5)`).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("scheduler: stop timed out waiting for tick loop")
	}

	s.log.Info("scheduler: stopped")
}

// IsRunning reports whether the tick thread is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

func (s *Scheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fires every due, enabled job that is not already running from
// a previous firing (spec §4.8 "cooperative skip-if-still-running").
func (s *Scheduler) tick() {
	now := s.now()

	var due []*scheduledJob

	s.mu.Lock()
	for _, sj := range s.jobs {
		if !sj.job.Enabled || sj.running || sj.job.NextRun == nil {
			continue
		}

		if now.Before(*sj.job.NextRun) {
			continue
		}

		sj.running = true
		due = append(due, sj)
	}
	s.mu.Unlock()

	for _, sj := range due {
		go s.fire(sj, now)
	}
}

func (s *Scheduler) fire(sj *scheduledJob, firedAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: job panicked", "job_id", sj.job.ID, "panic", r)
		}

		s.mu.Lock()
		sj.running = false
		sj.job.LastRun = &firedAt

		if sj.job.Type == ScheduleOnce {
			sj.job.Enabled = false
		} else if next, err := nextRun(sj.job, firedAt.Add(time.Second)); err == nil {
			sj.job.NextRun = &next
		}
		s.mu.Unlock()
	}()

	if err := sj.callback(sj.job); err != nil {
		s.log.Error("scheduler: job failed", "job_id", sj.job.ID, "task_id", sj.job.TaskID, "error", err)
	}
}

// nextRun computes a job's next firing time from after.
func nextRun(job Job, after time.Time) (time.Time, error) {
	switch job.Type {
	case ScheduleInterval:
		d, err := parseIntervalValue(job.Value)
		if err != nil {
			return time.Time{}, err
		}

		return after.Add(d), nil

	case ScheduleDaily:
		hh, mm, err := parseClock(job.Value)
		if err != nil {
			return time.Time{}, err
		}

		next := time.Date(after.Year(), after.Month(), after.Day(), hh, mm, 0, 0, after.Location())
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}

		return next, nil

	case ScheduleWeekly:
		weekday, hh, mm, err := parseWeekday(job.Value)
		if err != nil {
			return time.Time{}, err
		}

		next := time.Date(after.Year(), after.Month(), after.Day(), hh, mm, 0, 0, after.Location())
		for next.Weekday() != weekday || !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}

		return next, nil

	case ScheduleOnce:
		t, err := time.Parse(time.RFC3339, job.Value)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid once timestamp %q: %w", job.Value, err)
		}

		return t, nil

	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown schedule type %q", job.Type)
	}
}

func parseIntervalValue(value string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return 0, fmt.Errorf("scheduler: empty interval value")
	}

	unit := v[len(v)-1:]
	numPart := v[:len(v)-1]

	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid interval %q: %w", value, err)
	}

	switch unit {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("scheduler: unknown interval unit in %q", value)
	}
}

func parseClock(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("scheduler: invalid clock time %q", value)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}

	minute, err = strconv.Atoi(parts[1])

	return hour, minute, err
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(value string) (time.Weekday, int, int, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(value)))
	if len(fields) == 0 {
		return 0, 0, 0, fmt.Errorf("scheduler: empty weekly value")
	}

	day, ok := weekdayNames[fields[0]]
	if !ok {
		return 0, 0, 0, fmt.Errorf("scheduler: unknown weekday %q", fields[0])
	}

	clock := "00:00"
	if len(fields) > 1 {
		clock = fields[1]
	}

	hh, mm, err := parseClock(clock)

	return day, hh, mm, err
}
