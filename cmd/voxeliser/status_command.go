package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"voxeliser/internal/daemon"
	"voxeliser/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's poll loop status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var status daemon.Status
			code, err := callDaemon(cmd.Context(), cfg, http.MethodGet, "/api/status", &status)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("daemon status returned %d", code)
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd, status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status as JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, status daemon.Status) {
	wf := status.Workflow
	lastCycle := "-"
	if !wf.LastCycleAt.IsZero() {
		lastCycle = wf.LastCycleAt.Local().Format(time.DateTime)
	}
	rows := [][]string{
		{"Daemon", yesNo(status.Running)},
		{"Poll loop", yesNo(wf.Running)},
		{"Cycles", strconv.Itoa(wf.Cycles)},
		{"Completed", strconv.Itoa(wf.Completed)},
		{"Aborted", strconv.Itoa(wf.Aborted)},
		{"Invalid", strconv.Itoa(wf.Invalid)},
		{"Last cycle", lastCycle},
		{"Current job", orDash(wf.CurrentJob)},
		{"Current stage", orDash(wf.CurrentStage)},
		{"Last error", orDash(wf.LastError)},
	}
	if last := wf.LastOutcome; last != nil {
		rows = append(rows,
			[]string{"Last job", last.JobID},
			[]string{"Last result", describeOutcome(*last)},
		)
	}
	rows = append(rows,
		[]string{"API", status.APIBaseURL},
		[]string{"Log file", status.LogPath},
		[]string{"Lock file", status.LockFilePath},
	)
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil))
	fmt.Fprintln(out)
}

func describeOutcome(o workflow.OutcomeSummary) string {
	if o.FailedStage == "" {
		return o.StateLabel
	}
	return fmt.Sprintf("%s at %s", o.StateLabel, workflow.Label(string(o.FailedStage)))
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Ask the running daemon to send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var resp daemon.NotifyResponse
			code, err := callDaemon(cmd.Context(), cfg, http.MethodPost, "/api/notifications/test", &resp)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case resp.Message != "":
				fmt.Fprintln(out, resp.Message)
			case resp.Sent:
				fmt.Fprintln(out, "Test notification sent")
			default:
				fmt.Fprintln(out, "Notification not sent")
			}
			if code != http.StatusOK {
				if resp.Error != "" {
					return errors.New(resp.Error)
				}
				return fmt.Errorf("daemon returned %d", code)
			}
			return nil
		},
	}
}
