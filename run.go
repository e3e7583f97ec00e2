package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicator/internal/eventlog"
	"github.com/tonimelisma/replicator/internal/runner"
	"github.com/tonimelisma/replicator/internal/scheduler"
	"github.com/tonimelisma/replicator/internal/syncproc"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the replicator daemon: watch every enabled task and apply its policy continuously",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd)
		},
	}
}

func runRun(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())
	log := cc.Logger

	pidPath := filepath.Join(cc.DataDir, "replicator.pid")

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(cc)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	evLog, err := eventlog.Open(cmd.Context(), eventLogPath(cc), log)
	if err != nil {
		return fmt.Errorf("run: opening event log: %w", err)
	}
	defer evLog.Close()

	a.manager.EventCB = func(taskID string, _ syncproc.FileEvent, res syncproc.SyncResult) {
		level := eventlog.LevelInfo
		if !res.Success {
			level = eventlog.LevelError
		}

		evLog.Log(level, res.Message, string(res.Action), taskID)
	}
	a.manager.StatusCB = func(taskID string, status runner.Status) {
		evLog.Log(eventlog.LevelInfo, "task status changed to "+status.String(), "status", taskID)
	}
	a.manager.SafetyCB = func(taskID string, alert runner.SafetyAlert) {
		evLog.Log(eventlog.LevelWarn, alert.Message, "safety", taskID)
	}

	ctx := shutdownContext(cmd.Context(), log)
	watchSIGHUP(ctx, cc.Holder, cc.LevelVar, log)

	a.queue.Run(ctx)

	sched := scheduler.New(log)
	wireScheduledFullSyncs(sched, a, cc)
	sched.Start()

	if err := a.manager.StartAll(ctx); err != nil {
		log.Warn("run: one or more tasks failed to start", "error", err)
	}

	statusf(flagQuiet, "replicator running, press Ctrl-C to stop\n")

	<-ctx.Done()

	log.Info("shutting down")

	sched.Stop()
	a.manager.StopAll()

	shutdownTimeout := 30 * time.Second
	if d, err := time.ParseDuration(cc.Cfg.Sync.ShutdownTimeout); err == nil {
		shutdownTimeout = d
	}

	a.queue.Shutdown(shutdownTimeout)

	return nil
}

// wireScheduledFullSyncs registers one recurring full-sync job per
// enabled task, firing on the configured fullscan_frequency (spec
// §4.8's Scheduler driving C6's run_full_sync, mirroring
// original_source's periodic reconciliation pass).
func wireScheduledFullSyncs(sched *scheduler.Scheduler, a *app, cc *CLIContext) {
	for _, t := range a.manager.GetAllTasks() {
		if !t.Enabled {
			continue
		}

		taskID := t.ID
		jobID := "fullsync-" + taskID

		_, err := sched.AddJob(jobID, taskID, scheduler.ScheduleInterval, cc.Cfg.Sync.FullscanFrequency,
			func(job scheduler.Job) error {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownGraceFullSync)
				defer cancel()

				return a.manager.RunFullSync(ctx, job.TaskID, nil)
			})
		if err != nil {
			cc.Logger.Warn("run: could not schedule full sync", "task_id", taskID, "error", err)
		}
	}
}

// shutdownGraceFullSync bounds one scheduled full-sync pass so a stuck
// task cannot wedge the scheduler's single-flight-per-job guard
// forever.
const shutdownGraceFullSync = 30 * time.Minute
