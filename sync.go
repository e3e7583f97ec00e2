package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var deleteOrphans bool
	var noDeleteOrphans bool

	cmd := &cobra.Command{
		Use:   "sync <task-id>",
		Short: "Run one task's full sync pass immediately (one-shot, does not start the watcher)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			a, err := newApp(cc)
			if err != nil {
				return err
			}

			var override *bool

			switch {
			case deleteOrphans:
				v := true
				override = &v
			case noDeleteOrphans:
				v := false
				override = &v
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			a.queue.Run(ctx)

			if err := a.manager.RunFullSync(ctx, args[0], override); err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			for st := a.queue.GetStatus(); st.Pending > 0 || st.CurrentOp != nil; st = a.queue.GetStatus() {
				select {
				case <-ctx.Done():
					return fmt.Errorf("sync: waiting for queued operations: %w", ctx.Err())
				case <-time.After(50 * time.Millisecond):
				}
			}

			a.queue.Shutdown(5 * time.Second)

			fmt.Printf("Full sync complete for task %s\n", args[0])

			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteOrphans, "delete-orphans", false, "remove target files with no source counterpart")
	cmd.Flags().BoolVar(&noDeleteOrphans, "no-delete-orphans", false, "keep target files with no source counterpart")
	cmd.MarkFlagsMutuallyExclusive("delete-orphans", "no-delete-orphans")

	return cmd
}
