package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/camwatch/frameparser-autoscaler"
)

func newAssignmentsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "Inspect and repair camera assignments",
	}

	cmd.AddCommand(newAssignmentsListCommand(ctx))
	cmd.AddCommand(newAssignmentsClearCommand(ctx))

	return cmd
}

func newAssignmentsListCommand(ctx *commandContext) *cobra.Command {
	var stateFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments in the mapping store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var state autoscaler.AssignmentState
			if stateFlag != "" {
				state = autoscaler.AssignmentState(stateFlag)
				if !state.Valid() {
					return fmt.Errorf("unknown state %q (want PENDING, RUNNING, STOPPING or FAILED)", stateFlag)
				}
			}

			st, err := ctx.buildStore(cmd.Context())
			if err != nil {
				return err
			}
			list, err := st.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(list))
			for _, a := range list {
				if state != "" && a.State != state {
					continue
				}
				rows = append(rows, []string{
					a.CameraID,
					string(a.State),
					a.WorkerHandle,
					strconv.Itoa(a.FailureCount),
					formatTime(a.LastReconciledAt),
					a.LastError,
				})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No assignments")
				return nil
			}

			fmt.Fprintln(out, renderTable(
				[]string{"Camera", "State", "Worker", "Failures", "Last Reconciled", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFlag, "state", "", "Only show assignments in this state")

	return cmd
}

func newAssignmentsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <camera>",
		Short: "Reset a FAILED camera so the next tick retries its launch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := ctx.buildService(cmd.Context())
			if err != nil {
				return err
			}

			a, err := svc.Reconciler().ClearFailure(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to clear %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s: now %s (version %d)\n", a.CameraID, a.State, a.Version)
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
