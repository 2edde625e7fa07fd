package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/grobid"
)

var extractorCmd = &cobra.Command{
	Use:   "extractor",
	Short: "Manage the GROBID extraction container",
	Long: `Manage the GROBID extraction container lifecycle.

GROBID performs structured text extraction from PDF documents. It runs in
a Docker container; the model load on first boot takes tens of seconds.

Examples:
  stacks extractor start   # Start the GROBID container
  stacks extractor stop    # Stop the container
  stacks extractor status  # Check container status
  stacks extractor logs    # View container logs`,
}

var extractorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the GROBID container",
	Long: `Start the GROBID container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getGrobidManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting GROBID...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start GROBID: %w", err)
		}

		fmt.Printf("GROBID is running at %s\n", mgr.URL())
		return nil
	},
}

var extractorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the GROBID container",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getGrobidManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping GROBID...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop GROBID: %w", err)
		}

		fmt.Println("GROBID stopped")
		return nil
	},
}

var extractorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show GROBID container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getGrobidManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case grobid.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())
		case grobid.StatusStopped:
			fmt.Printf("Status: %s (use 'stacks extractor start' to start)\n", status)
		case grobid.StatusNotFound:
			fmt.Printf("Status: %s (use 'stacks extractor start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var extractorLogsTail string

var extractorLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show GROBID container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getGrobidManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, extractorLogsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var extractorRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the GROBID container",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getGrobidManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing GROBID container...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("GROBID container removed")
		return nil
	},
}

var extractorWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for GROBID to be ready",
	Long: `Wait for GROBID to be ready to accept requests.

Useful in scripts to ensure the extractor is fully started before running
'stacks process'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getGrobidManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for GROBID (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(ctx, timeout); err != nil {
			return fmt.Errorf("GROBID not ready: %w", err)
		}

		fmt.Println("GROBID is ready")
		return nil
	},
}

func init() {
	extractorCmd.AddCommand(extractorStartCmd)
	extractorCmd.AddCommand(extractorStopCmd)
	extractorCmd.AddCommand(extractorStatusCmd)
	extractorCmd.AddCommand(extractorLogsCmd)
	extractorCmd.AddCommand(extractorRemoveCmd)
	extractorCmd.AddCommand(extractorWaitCmd)

	extractorLogsCmd.Flags().StringVar(&extractorLogsTail, "tail", "100", "Number of lines to show from the end")
	extractorWaitCmd.Flags().Duration("timeout", 90*time.Second, "Timeout waiting for GROBID")

	rootCmd.AddCommand(extractorCmd)
}

// getGrobidManager builds the container manager from the grobid config
// section.
func getGrobidManager() (*grobid.DockerManager, error) {
	cfg := cfgManager.Get().Grobid
	return grobid.NewDockerManager(grobid.DockerConfig{
		ContainerName: cfg.ContainerName,
		Image:         cfg.Image,
		HostPort:      cfg.Port,
	})
}
