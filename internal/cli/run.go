package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coresync/internal/config"
	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/sample"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Every repeats the runs at this interval until interrupted. Zero
	// runs once.
	Every time.Duration
}

// stageOrder is the order functions run in when no stage is named.
var stageOrder = []ir.LifecycleStage{ir.StageRead, ir.StagePromote, ir.StageWrite}

// OperationSummary is one operation result of a run.
type OperationSummary struct {
	Object  string        `json:"object"`
	Outcome string        `json:"outcome"`
	Message string        `json:"message"`
	Counts  engine.Counts `json:"counts"`
	Error   string        `json:"error,omitempty"`
}

// RunSummary is the outcome of one function run.
type RunSummary struct {
	System     string             `json:"system"`
	Stage      string             `json:"stage"`
	Skipped    string             `json:"skipped,omitempty"`
	Operations []OperationSummary `json:"operations"`
	NotReady   []string           `json:"not_ready,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Failed reports whether the run returned an error or recorded an Error
// result.
func (s RunSummary) Failed() bool {
	if s.Error != "" {
		return true
	}
	for _, op := range s.Operations {
		if op.Outcome == string(ir.ResultError) {
			return true
		}
	}
	return false
}

func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", s.System, s.Stage)
	switch {
	case s.Error != "":
		fmt.Fprintf(&b, " failed: %s", s.Error)
	case s.Skipped != "":
		fmt.Fprintf(&b, " skipped: %s", s.Skipped)
	case len(s.Operations) == 0:
		b.WriteString(" nothing due")
	default:
		for i, op := range s.Operations {
			sep := ", "
			if i == 0 {
				sep = ": "
			}
			fmt.Fprintf(&b, "%s%s %s (%s)", sep, op.Object, op.Outcome, op.Message)
		}
	}
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [system] [stage]",
		Short: "Run sync functions",
		Long: `Run the functions of configured systems.

With no arguments every system runs Read, Promote and Write in turn. A
system name runs its three stages; a system and a stage run one function.
Operations that are inactive or not due by their cron schedule are left
alone.

Exit codes:
  0 - Every operation succeeded
  1 - An operation failed
  2 - Command error (unknown system or stage, database not found, etc.)

Examples:
  coresync run
  coresync run crm
  coresync run crm Promote
  coresync run --every 5m`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctions(opts, args, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Every, "every", 0, "repeat at this interval until interrupted")

	return cmd
}

// plannedFunction is one function to run.
type plannedFunction struct {
	name ir.SystemName
	fn   engine.Function
}

// planFunctions resolves the arguments to functions, in run order.
func planFunctions(cfg *config.Config, args []string, ids engine.IDGenerator) ([]plannedFunction, error) {
	names := cfg.SystemNames()
	if len(args) > 0 {
		if _, ok := cfg.Systems[args[0]]; !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown system %q: configured systems are %v", args[0], names))
		}
		names = []string{args[0]}
	}
	stages := stageOrder
	if len(args) > 1 {
		stage, err := ir.ParseStage(args[1])
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid stage", err)
		}
		stages = []ir.LifecycleStage{stage}
	}

	var planned []plannedFunction
	for _, name := range names {
		fns, err := sample.Functions(ir.SystemName(name), cfg.Systems[name], ids)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid system", err)
		}
		for _, stage := range stages {
			planned = append(planned, plannedFunction{name: ir.SystemName(name), fn: fns[stage]})
		}
	}
	return planned, nil
}

func runFunctions(opts *RunOptions, args []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	planned, err := planFunctions(cfg, args, opts.IDs)
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No systems configured.")
		return nil
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	runnerOpts := []engine.RunnerOption{
		engine.WithClock(opts.clock()),
		engine.WithSettings(engine.Settings{
			FailFast:      cfg.FailFast,
			PageSize:      cfg.PageSize,
			StaleRunAfter: cfg.StaleRunAfter,
		}),
	}
	if opts.IDs != nil {
		runnerOpts = append(runnerOpts, engine.WithIDGenerator(opts.IDs))
	}
	runner := engine.NewRunner(engine.Stores{Ctl: st, Staged: st, Core: st, Tx: st}, runnerOpts...)

	if opts.Every <= 0 {
		return reportRuns(opts, cmd, runAll(cmdContext(cmd), runner, planned))
	}
	return runEvery(opts, cmd, runner, planned)
}

// runEvery repeats runAll until the command context is cancelled or the
// process receives SIGINT or SIGTERM.
func runEvery(opts *RunOptions, cmd *cobra.Command, runner *engine.Runner, planned []plannedFunction) error {
	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(opts.Every)
	defer ticker.Stop()

	slog.Info("running on an interval", "every", opts.Every, "functions", len(planned))
	for {
		summaries := runAll(ctx, runner, planned)
		for _, s := range summaries {
			if s.Failed() {
				slog.Error("function failed", "function", s.System+"/"+s.Stage, "summary", s.String())
			} else {
				opts.formatter(cmd).VerboseLog("%s", s)
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// runAll runs the planned functions in order. A function that fails stops
// the functions of the same system that come after it.
func runAll(ctx context.Context, runner *engine.Runner, planned []plannedFunction) []RunSummary {
	failed := make(map[ir.SystemName]bool)
	var summaries []RunSummary
	for _, p := range planned {
		if ctx.Err() != nil {
			break
		}
		if failed[p.name] {
			summaries = append(summaries, RunSummary{
				System:     string(p.name),
				Stage:      string(p.fn.Stage),
				Skipped:    "an earlier stage failed",
				Operations: []OperationSummary{},
			})
			continue
		}
		results, err := runner.Run(ctx, p.fn)
		summary := summarize(p, results, err)
		if summary.Failed() {
			failed[p.name] = true
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func summarize(p plannedFunction, results engine.FunctionRunResults, err error) RunSummary {
	s := RunSummary{
		System:     string(p.name),
		Stage:      string(p.fn.Stage),
		Skipped:    results.Skipped,
		Operations: make([]OperationSummary, 0, len(results.Results)),
	}
	for _, res := range results.Results {
		op := OperationSummary{
			Object:  string(res.Object),
			Outcome: string(res.Outcome),
			Message: res.Message,
			Counts:  res.Counts,
		}
		if res.Err != nil {
			op.Error = res.Err.Error()
		}
		s.Operations = append(s.Operations, op)
	}
	for _, obj := range results.NotReady {
		s.NotReady = append(s.NotReady, string(obj))
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func reportRuns(opts *RunOptions, cmd *cobra.Command, summaries []RunSummary) error {
	failures := 0
	for _, s := range summaries {
		if s.Failed() {
			failures++
		}
	}

	out := opts.formatter(cmd)
	if failures > 0 {
		msg := fmt.Sprintf("%d function(s) failed", failures)
		if err := out.Failure("E_RUN_FAILED", msg, runLines{summaries}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(runLines{summaries})
}

// runLines prints one line per run in text output and the summaries as
// a list in JSON.
type runLines struct {
	Runs []RunSummary `json:"runs"`
}

func (r runLines) String() string {
	lines := make([]string, len(r.Runs))
	for i, s := range r.Runs {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}
