package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicator/internal/conflict"
	"github.com/tonimelisma/replicator/internal/syncproc"
	"github.com/tonimelisma/replicator/internal/task"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage replication tasks",
	}

	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskRemoveCmd())
	cmd.AddCommand(newTaskEnableCmd())
	cmd.AddCommand(newTaskDisableCmd())

	return cmd
}

// taskAddFlags holds the --flag values accepted by `task add`.
type taskAddFlags struct {
	name             string
	source           string
	targets          []string
	mode             string
	conflictStrategy string
	compareMethod    string
	include          []string
	exclude          []string
	disableDelete    bool
	reverseDelete    bool
	deleteOrphans    bool
	autoStart        bool
	safetyThreshold  int
	batchDelay       int
	monitorMode      string
	pollInterval     int
}

func newTaskAddCmd() *cobra.Command {
	var f taskAddFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Define a new replication task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTaskAdd(cmd, &f)
		},
	}

	cmd.Flags().StringVar(&f.name, "name", "", "task name (required)")
	cmd.Flags().StringVar(&f.source, "source", "", "source directory (required)")
	cmd.Flags().StringArrayVar(&f.targets, "target", nil, "target directory (repeatable, at least one required)")
	cmd.Flags().StringVar(&f.mode, "mode", string(syncproc.ModeOneWay), "one_way or two_way")
	cmd.Flags().StringVar(&f.conflictStrategy, "conflict-strategy", string(conflict.NewestWins),
		"newest_wins, source_wins, target_wins, keep_both, skip, or ask_user")
	cmd.Flags().StringVar(&f.compareMethod, "compare-method", string(syncproc.CompareMtime), "mtime or hash")
	cmd.Flags().StringArrayVar(&f.include, "include", nil, "glob pattern to include (repeatable)")
	cmd.Flags().StringArrayVar(&f.exclude, "exclude", nil, "glob pattern to exclude (repeatable)")
	cmd.Flags().BoolVar(&f.disableDelete, "disable-delete", false, "never propagate deletions")
	cmd.Flags().BoolVar(&f.reverseDelete, "reverse-delete", false, "on full sync, delete target files that have no source counterpart (two_way)")
	cmd.Flags().BoolVar(&f.deleteOrphans, "delete-orphans", false, "remove target files with no source counterpart on full sync")
	cmd.Flags().BoolVar(&f.autoStart, "auto-start", true, "start this task automatically on `replicator run`")
	cmd.Flags().IntVar(&f.safetyThreshold, "safety-threshold", 0, "override the configured default safety threshold (0 = use default)")
	cmd.Flags().IntVar(&f.batchDelay, "batch-delay", 0, "override the configured default batch delay in seconds (0 = use default)")
	cmd.Flags().StringVar(&f.monitorMode, "monitor-mode", string(task.MonitorRealtime), "realtime or polling")
	cmd.Flags().IntVar(&f.pollInterval, "poll-interval", 0, "polling interval in seconds (monitor-mode=polling only)")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runTaskAdd(cmd *cobra.Command, f *taskAddFlags) error {
	if len(f.targets) == 0 {
		return fmt.Errorf("task add: at least one --target is required")
	}

	cc := mustCLIContext(cmd.Context())

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	safetyThreshold := f.safetyThreshold
	if safetyThreshold == 0 {
		safetyThreshold = cc.Cfg.Safety.DefaultSafetyThreshold
	}

	batchDelay := f.batchDelay
	if batchDelay == 0 {
		batchDelay = cc.Cfg.Sync.DefaultBatchDelay
	}

	now := time.Now()
	t := &task.Task{
		ID:               uuid.NewString(),
		Name:             f.name,
		SourcePath:       f.source,
		TargetPaths:      f.targets,
		Mode:             syncproc.SyncMode(f.mode),
		ConflictStrategy: conflict.Strategy(f.conflictStrategy),
		CompareMethod:    syncproc.CompareMethod(f.compareMethod),
		IncludePatterns:  f.include,
		ExcludePatterns:  f.exclude,
		Enabled:          true,
		AutoStart:        f.autoStart,
		DeleteOrphans:    f.deleteOrphans,
		DisableDelete:    f.disableDelete,
		ReverseDelete:    f.reverseDelete,
		SafetyThreshold:  safetyThreshold,
		BatchDelay:       batchDelay,
		MonitorMode:      task.MonitorMode(f.monitorMode),
		PollInterval:     f.pollInterval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := a.manager.CreateTask(t); err != nil {
		return fmt.Errorf("task add: %w", err)
	}

	fmt.Printf("Created task %q (%s)\n", t.Name, t.ID)

	return nil
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all defined tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTaskList(cmd)
		},
	}
}

func runTaskList(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	tasks := a.manager.GetAllTasks()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(tasks)
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		status, _ := a.manager.GetTaskStatus(t.ID)
		rows = append(rows, []string{t.ID, t.Name, t.SourcePath, string(t.Mode), status.String()})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "SOURCE", "MODE", "STATUS"}, rows)

	return nil
}

func newTaskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Delete a task definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			a, err := newApp(cc)
			if err != nil {
				return err
			}

			if err := a.manager.DeleteTask(args[0]); err != nil {
				return fmt.Errorf("task remove: %w", err)
			}

			fmt.Printf("Removed task %s\n", args[0])

			return nil
		},
	}
}

func newTaskEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <task-id>",
		Short: "Enable a task (it will start on the next `replicator run`)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setTaskEnabled(cmd, args[0], true)
		},
	}
}

func newTaskDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <task-id>",
		Short: "Disable a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setTaskEnabled(cmd, args[0], false)
		},
	}
}

func setTaskEnabled(cmd *cobra.Command, id string, enabled bool) error {
	cc := mustCLIContext(cmd.Context())

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	t, ok := a.manager.GetTask(id)
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}

	t.Enabled = enabled
	t.UpdatedAt = time.Now()

	if err := a.manager.UpdateTask(cmd.Context(), t); err != nil {
		return fmt.Errorf("updating task: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}

	fmt.Printf("Task %s %s\n", id, state)

	return nil
}
