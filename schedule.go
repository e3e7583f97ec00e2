package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicator/internal/scheduler"
)

// newScheduleCmd exposes read-only visibility into the jobs `run`
// would register for every enabled task (one recurring full-sync job
// per task, spec §4.8) — useful to confirm the effective
// fullscan_frequency before starting the daemon.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect the recurring full-sync schedule",
	}

	cmd.AddCommand(newScheduleListCmd())

	return cmd
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the full-sync job that would be registered for each enabled task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			a, err := newApp(cc)
			if err != nil {
				return err
			}

			sched := scheduler.New(cc.Logger)
			wireScheduledFullSyncs(sched, a, cc)

			rows := make([][]string, 0)
			for _, t := range a.manager.GetAllTasks() {
				if !t.Enabled {
					continue
				}

				rows = append(rows, []string{t.ID, t.Name, string(scheduler.ScheduleInterval), cc.Cfg.Sync.FullscanFrequency})
			}

			if len(rows) == 0 {
				fmt.Println("No enabled tasks to schedule.")

				return nil
			}

			printTable(os.Stdout, []string{"TASK ID", "NAME", "TYPE", "INTERVAL"}, rows)

			return nil
		},
	}
}
