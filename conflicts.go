package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicator/internal/eventlog"
)

// conflictRecentLimit bounds how many recent event-log rows the
// `conflicts list` command scans for conflict-related entries.
const conflictRecentLimit = 500

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect conflicts recorded in the event log",
	}

	cmd.AddCommand(newConflictsListCmd())

	return cmd
}

func newConflictsListCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent conflict events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConflictsList(cmd, taskID)
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "limit to one task ID")

	return cmd
}

func runConflictsList(cmd *cobra.Command, taskID string) error {
	cc := mustCLIContext(cmd.Context())

	evLog, err := eventlog.Open(cmd.Context(), eventLogPath(cc), cc.Logger)
	if err != nil {
		return fmt.Errorf("conflicts list: opening event log: %w", err)
	}
	defer evLog.Close()

	events, err := evLog.RecentEvents(taskID, conflictRecentLimit)
	if err != nil {
		return fmt.Errorf("conflicts list: %w", err)
	}

	found := 0

	for _, msg := range events {
		if !strings.Contains(strings.ToLower(msg), "conflict") {
			continue
		}

		fmt.Fprintln(os.Stdout, msg)

		found++
	}

	if found == 0 {
		fmt.Println("No conflicts recorded.")
	}

	return nil
}
