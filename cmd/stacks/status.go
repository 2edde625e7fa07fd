package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show session status",
	Long: `Show the persisted status of a session.

Without a session ID, lists all known sessions. Status is read from the
session record database, so it reflects the last persisted state transition
of the session.

Examples:
  stacks status                 # List all sessions
  stacks status <session-id>    # One session in detail`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, closeDB, err := openRecords()
		if err != nil {
			return err
		}
		defer closeDB()

		if len(args) == 0 {
			list, err := records.List(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No sessions found")
				return nil
			}
			type row struct {
				ID         string `json:"id" yaml:"id"`
				State      string `json:"state" yaml:"state"`
				Submitted  int    `json:"submitted" yaml:"submitted"`
				Successful int64  `json:"successful" yaml:"successful"`
				Failed     int64  `json:"failed" yaml:"failed"`
				Degraded   int64  `json:"degraded" yaml:"degraded"`
			}
			rows := make([]row, 0, len(list))
			for _, rec := range list {
				rows = append(rows, row{
					ID:         rec.ID,
					State:      string(rec.State),
					Submitted:  rec.SubmittedCount,
					Successful: rec.Metrics.Successful,
					Failed:     rec.Metrics.Failed,
					Degraded:   rec.Metrics.Degraded,
				})
			}
			return printOutput(rows)
		}

		record, err := records.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("session %s not found", args[0])
		}
		// The full report is the report command's job.
		record.Report = nil
		return printOutput(record)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
