package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/store"
)

// StatusReport is every scheduling state in the database.
type StatusReport struct {
	Systems []ir.SystemState `json:"systems"`
	Objects []ir.ObjectState `json:"objects"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show function and operation state",
		Long: `Show the state of every function and operation that has run.

The first table lists each (system, stage) with whether it is active and
running. The second lists each operation with its checkpoint and the
outcome of its last run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				report, err := loadStatus(cmdContext(cmd), st)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read state", err)
				}
				if rootOpts.Format == "json" {
					return rootOpts.formatter(cmd).Success(report)
				}
				renderStatus(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

// NewPauseCommand creates the pause command.
func NewPauseCommand(rootOpts *RootOptions) *cobra.Command {
	return newActiveCommand(rootOpts, "pause", "Stop a function from running", false)
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	return newActiveCommand(rootOpts, "resume", "Let a paused function run again", true)
}

func newActiveCommand(rootOpts *RootOptions, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <system> <stage>",
		Short:         short,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := ir.ParseStage(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid stage", err)
			}
			system := ir.SystemName(args[0])
			return withStore(rootOpts, func(st *store.Store) error {
				if err := st.SetSystemActive(cmdContext(cmd), system, stage, active); err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("%s/%s has never run", system, stage), err)
				}
				slog.Info("function state changed", "system", system, "stage", stage, "active", active)
				return rootOpts.formatter(cmd).Success(fmt.Sprintf("%s/%s active: %t", system, stage, active))
			})
		},
	}
}

// withStore opens the database for the duration of fn.
func withStore(opts *RootOptions, fn func(st *store.Store) error) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	return fn(st)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadStatus(ctx context.Context, st *store.Store) (StatusReport, error) {
	systems, err := st.ListSystemStates(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	objects, err := st.ListObjectStates(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Systems: systems, Objects: objects}, nil
}

func renderStatus(w io.Writer, report StatusReport) {
	if len(report.Systems) == 0 {
		fmt.Fprintln(w, "No functions have run yet.")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"System", "Stage", "Active", "Status", "Last Started", "Last Completed"})
	for _, ss := range report.Systems {
		tw.AppendRow(table.Row{
			string(ss.System),
			string(ss.Stage),
			yesNo(ss.Active),
			string(ss.Status),
			formatTime(ss.LastStarted),
			formatTime(ss.LastCompleted),
		})
	}
	tw.Render()

	if len(report.Objects) == 0 {
		return
	}
	ow := table.NewWriter()
	ow.SetOutputMirror(w)
	ow.AppendHeader(table.Row{"System", "Stage", "Object", "Checkpoint", "Result", "Message"})
	for _, os := range report.Objects {
		checkpoint := os.Checkpoint
		ow.AppendRow(table.Row{
			string(os.System),
			string(os.Stage),
			string(os.Object),
			formatTime(&checkpoint),
			string(os.LastResult),
			os.LastRunMessage,
		})
	}
	ow.Render()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
