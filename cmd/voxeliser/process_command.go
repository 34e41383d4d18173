package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"voxeliser/internal/workflow"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run a single poll cycle and print the outcome of each job",
		Long: "Fetch pending meshes once, process every valid job, and exit.\n" +
			"Job failures are reported but do not change the exit code; a\n" +
			"failed fetch or directory setup does.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			lockPath := cfg.LockPath()
			if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
				return fmt.Errorf("ensure lock directory: %w", err)
			}
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another voxeliser instance holds %s", lockPath)
			}
			defer func() { _ = lock.Unlock() }()

			logger, err := ctx.newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			manager, err := workflow.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}

			report, err := manager.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			renderCycleReport(cmd, report)
			return nil
		},
	}
}

func renderCycleReport(cmd *cobra.Command, report workflow.CycleReport) {
	out := cmd.OutOrStdout()
	if report.Fetched == 0 {
		fmt.Fprintln(out, "No pending meshes")
		return
	}
	if len(report.Outcomes) > 0 {
		table := make([][]string, 0, len(report.Outcomes))
		for _, o := range report.Outcomes {
			errText := ""
			if o.Err != nil {
				errText = o.Err.Error()
			}
			table = append(table, []string{
				o.JobID,
				workflow.Label(string(o.State)),
				orDash(workflow.Label(string(o.FailedStage))),
				orDash(o.VolumeID),
				yesNo(o.Skipped),
				o.Duration.Round(time.Millisecond).String(),
				orDash(errText),
			})
		}
		fmt.Fprint(out, renderTable(
			[]string{"Job", "State", "Failed Stage", "Volume", "Cached", "Duration", "Error"},
			table,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Fetched %d, completed %d, aborted %d, invalid %d\n",
		report.Fetched, report.Completed, report.Aborted, report.Invalid)
}
