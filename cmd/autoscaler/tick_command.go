package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/camwatch/frameparser-autoscaler"
)

func newTickCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one reconciliation pass and print the report",
		Long: `Tick runs a single pass, suitable for a cron or serverless trigger.
It exits non-zero only when the desired or observed state could not be read;
per-camera failures are reported but do not fail the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := ctx.buildService(cmd.Context())
			if err != nil {
				return err
			}

			report := svc.Tick(cmd.Context())
			printReport(cmd.OutOrStdout(), report)
			if report.Err != nil {
				return report.Err
			}
			return nil
		},
	}
}

func printReport(w io.Writer, report autoscaler.Report) {
	fmt.Fprintf(w, "Desired: %d  Observed: %d  Duration: %s\n", report.Desired, report.Observed, report.Duration.Round(time.Millisecond))
	if report.Err != nil {
		fmt.Fprintf(w, "Snapshot failed: %v\n", report.Err)
		return
	}
	if len(report.Outcomes) == 0 {
		fmt.Fprintln(w, "Nothing to do")
		return
	}

	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		rows = append(rows, []string{
			o.CameraID,
			string(o.Action),
			string(o.State),
			o.WorkerHandle,
			yesNo(o.Alert),
			errText,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Camera", "Action", "State", "Worker", "Alert", "Error"},
		rows,
		nil,
	))

	if failed := report.Failed(); len(failed) > 0 {
		fmt.Fprintf(w, "%d camera(s) FAILED; clear with `autoscaler assignments clear <camera>`\n", len(failed))
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
