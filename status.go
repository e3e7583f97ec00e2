package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every task's current lifecycle state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
}

type taskStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source_path"`
	Status string `json:"status"`
}

func runStatus(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	a, err := newApp(cc)
	if err != nil {
		return err
	}

	tasks := a.manager.GetAllTasks()

	out := make([]taskStatus, 0, len(tasks))
	for _, t := range tasks {
		s, _ := a.manager.GetTaskStatus(t.ID)
		out = append(out, taskStatus{ID: t.ID, Name: t.Name, Source: t.SourcePath, Status: s.String()})
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if len(out) == 0 {
		fmt.Println("No tasks defined. Run 'replicator task add' to get started.")

		return nil
	}

	rows := make([][]string, 0, len(out))
	for _, s := range out {
		rows = append(rows, []string{s.ID, s.Name, s.Source, s.Status})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "SOURCE", "STATUS"}, rows)
	fmt.Printf("\n%d task(s), %d running\n", len(out), a.manager.GetRunningCount())

	return nil
}
