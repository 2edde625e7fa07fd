package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/stacks/internal/work"
)

var (
	processTarget  int
	processResume  string
	processNoSave  bool
	processPollInt time.Duration
)

var processCmd = &cobra.Command{
	Use:   "process <manifest>",
	Short: "Process a manifest of documents through the pipeline",
	Long: `Process a manifest of documents through the four-phase pipeline.

The manifest is a YAML or JSON file listing the documents to process:

  items:
    - id: paper-001
      title: "Attention Is All You Need"
      source: /path/to/paper.pdf
    - id: paper-002
      title: "Deep Residual Learning"
      abstract: "We present a residual learning framework..."

Interrupting with Ctrl+C stops the session cooperatively: in-flight phases
finish, checkpoints are kept, and the session can be resumed later.

Examples:
  stacks process manifest.yaml                  # Process everything
  stacks process manifest.yaml --target 100     # First 100 items only
  stacks process manifest.yaml --resume <id>    # Resume an interrupted session`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		items, err := loadManifest(args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("manifest %s contains no items", args[0])
		}

		rt, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		sessionCfg := cfgManager.Get().SessionConfig()
		sessionCfg.SessionID = processResume

		id, err := rt.processor.StartSession(ctx, items, processTarget, sessionCfg)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s started (%d items)\n", id, len(items))

		if err := watchSession(ctx, rt, id); err != nil {
			return err
		}
		return summarizeSession(rt, id)
	},
}

func init() {
	processCmd.Flags().IntVar(&processTarget, "target", 0, "Process at most this many items (0 = all)")
	processCmd.Flags().StringVar(&processResume, "resume", "", "Resume a prior session by ID, reusing its checkpoints")
	processCmd.Flags().BoolVar(&processNoSave, "discard-checkpoints", false, "Wipe checkpoints when the session is interrupted")
	processCmd.Flags().DurationVar(&processPollInt, "poll-interval", 300*time.Millisecond, "Status poll interval")

	rootCmd.AddCommand(processCmd)
}

// manifest is the on-disk input format.
type manifest struct {
	Items []work.Item `yaml:"items" json:"items"`
}

// loadManifest reads a YAML or JSON manifest file.
func loadManifest(path string) ([]work.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m.Items, nil
}

// watchSession polls status until the session finishes, driving a progress
// bar on interactive terminals. Ctrl+C requests a cooperative stop and the
// watch continues until in-flight work settles.
func watchSession(ctx context.Context, rt *runtime, id string) error {
	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("processing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	done := make(chan struct{})
	go func() {
		_ = rt.processor.Wait(context.Background(), id)
		close(done)
	}()

	ticker := time.NewTicker(processPollInt)
	defer ticker.Stop()

	// Nil after the first interrupt so the closed channel stops firing.
	interrupt := ctx.Done()
	for {
		select {
		case <-done:
			if bar != nil {
				_ = bar.Finish()
			}
			return nil

		case <-interrupt:
			interrupt = nil
			fmt.Fprintln(os.Stderr, "\nStopping session (in-flight phases will finish)...")
			if err := rt.processor.StopSession(context.Background(), id, !processNoSave); err != nil {
				return err
			}

		case <-ticker.C:
			status, err := rt.processor.GetStatus(id)
			if err != nil {
				continue
			}
			if bar != nil {
				_ = bar.Set(int(status.Percent))
				if status.CurrentStep != "" {
					bar.Describe(status.CurrentStep)
				}
			}
		}
	}
}

// summarizeSession prints the terminal state and a result summary, and
// writes the detailed markdown report into the home reports directory.
func summarizeSession(rt *runtime, id string) error {
	status, err := rt.processor.GetStatus(id)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	yellow := color.New(color.FgYellow).SprintfFunc()

	fmt.Printf("\nSession %s: %s (%s)\n", id, status.State, status.Metrics.Elapsed.Round(time.Second))
	fmt.Printf("  %s  %s  %s\n",
		green("%d successful", status.Metrics.Successful),
		red("%d failed", status.Metrics.Failed),
		yellow("%d degraded", status.Metrics.Degraded),
	)
	if status.Metrics.ThroughputPerSec > 0 {
		fmt.Printf("  throughput: %.2f items/sec\n", status.Metrics.ThroughputPerSec)
	}

	report, err := rt.processor.GenerateReport(id, true)
	if err != nil {
		return nil
	}
	path := rt.home.ReportPath(id, "md")
	if err := os.WriteFile(path, []byte(report.Markdown()), 0o644); err != nil {
		logger.Warn("failed to write report", "path", path, "error", err)
		return nil
	}
	fmt.Printf("  report: %s\n", path)
	return nil
}
