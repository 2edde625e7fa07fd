package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	reportDetailed bool
	reportMarkdown bool
	reportOut      string
)

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Generate a session report",
	Long: `Generate a report for a finished session.

The default output is the structured report in the format selected by
--output. With --markdown the human-readable rendering is produced instead.
Detailed reports include the per-item outcome list.

Examples:
  stacks report <session-id>                    # Summary as YAML
  stacks report <session-id> --detailed -o json # Per-item outcomes as JSON
  stacks report <session-id> --markdown         # Human-readable report
  stacks report <session-id> --markdown --file report.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, closeDB, err := openRecords()
		if err != nil {
			return err
		}
		defer closeDB()

		record, err := records.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if record == nil || record.Report == nil {
			return fmt.Errorf("no report available for session %s", args[0])
		}

		report := *record.Report
		if !reportDetailed {
			report.Outcomes = nil
		}

		if reportOut != "" {
			data, err := renderReport(&report)
			if err != nil {
				return err
			}
			if err := os.WriteFile(reportOut, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Report written to %s\n", reportOut)
			return nil
		}

		if reportMarkdown {
			fmt.Print(report.Markdown())
			return nil
		}
		return printOutput(&report)
	},
}

func renderReport(report interface{ Markdown() string }) ([]byte, error) {
	if reportMarkdown {
		return []byte(report.Markdown()), nil
	}
	// Reuse the --output format for files.
	return marshalOutput(report)
}

func init() {
	reportCmd.Flags().BoolVar(&reportDetailed, "detailed", false, "Include per-item outcomes")
	reportCmd.Flags().BoolVar(&reportMarkdown, "markdown", false, "Render the human-readable markdown report")
	reportCmd.Flags().StringVar(&reportOut, "file", "", "Write the report to a file instead of stdout")

	rootCmd.AddCommand(reportCmd)
}
