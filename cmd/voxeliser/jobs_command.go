package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxeliser/internal/config"
	"voxeliser/internal/fileutil"
	"voxeliser/internal/jobs"
	"voxeliser/internal/services"
	"voxeliser/internal/services/voxapi"
)

// pendingJob is one row of `voxeliser jobs` output.
type pendingJob struct {
	ID         string `json:"id" yaml:"id"`
	File       string `json:"file" yaml:"file"`
	URL        string `json:"url" yaml:"url"`
	Valid      bool   `json:"valid" yaml:"valid"`
	Problem    string `json:"problem,omitempty" yaml:"problem,omitempty"`
	InputPath  string `json:"input_path,omitempty" yaml:"input_path,omitempty"`
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	Cached     bool   `json:"volume_exists" yaml:"volume_exists"`
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List meshes waiting to be processed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			outFormat, err := resolveFormat(cmd, format)
			if err != nil {
				return err
			}

			client := voxapi.NewFromConfig(cfg, nil)
			records, err := client.FetchPendingJobs(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch pending jobs: %w", err)
			}
			rows := describeRecords(cfg, records)

			switch outFormat {
			case formatJSON:
				return writeJSON(cmd, rows)
			case formatYAML:
				return writeYAML(cmd, rows)
			default:
				renderJobsTable(cmd, rows)
				return nil
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: table, json or yaml (default table on a terminal, json otherwise)")
	return cmd
}

func describeRecords(cfg *config.Config, records []jobs.Record) []pendingJob {
	rows := make([]pendingJob, 0, len(records))
	for _, rec := range records {
		row := pendingJob{ID: rec.Identifier()}
		if rec.File != nil {
			row.File = rec.File.Name
			row.URL = rec.File.URL
		}
		job, err := jobs.Validate(rec)
		if err != nil {
			row.Problem = services.Details(err).Message
			rows = append(rows, row)
			continue
		}
		paths := jobs.DerivePaths(cfg.Paths.InputDir, cfg.Paths.OutputDir, job, cfg.Voxelise.Dimension)
		row.Valid = true
		row.InputPath = paths.InputPath
		row.OutputPath = paths.OutputPath
		row.Cached = fileutil.FileExists(paths.OutputPath)
		rows = append(rows, row)
	}
	return rows
}

func renderJobsTable(cmd *cobra.Command, rows []pendingJob) {
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No pending meshes")
		return
	}
	table := make([][]string, 0, len(rows))
	for _, row := range rows {
		status := "ready"
		switch {
		case !row.Valid:
			status = row.Problem
		case row.Cached:
			status = "volume exists"
		}
		table = append(table, []string{orDash(row.ID), orDash(row.File), status, orDash(row.OutputPath)})
	}
	fmt.Fprint(out, renderTable([]string{"ID", "File", "Status", "Output"}, table, nil))
	fmt.Fprintln(out)
}
