package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// Function is the unit of scheduling: every operation of one system and
// one stage.
type Function struct {
	System     ir.SystemName
	Stage      ir.LifecycleStage
	Operations []Operation

	// Prioritise reorders the ready operations before they run. Optional.
	Prioritise Prioritiser
}

// ReadyOperation is an operation that is active and due, with its state.
type ReadyOperation struct {
	Operation Operation
	State     ir.ObjectState
}

// Prioritiser decides the order ready operations run in.
type Prioritiser func(ready []ReadyOperation) []ReadyOperation

func (fn Function) validate() error {
	if fn.System == "" {
		return fmt.Errorf("function has no system")
	}
	if _, err := ir.ParseStage(string(fn.Stage)); err != nil {
		return fmt.Errorf("function %s: %w", fn.System, err)
	}
	seen := make(map[ir.ObjectName]bool, len(fn.Operations))
	for _, op := range fn.Operations {
		cfg := op.Config()
		if op.Stage() != fn.Stage {
			return fmt.Errorf("function %s/%s: operation %s is a %s operation", fn.System, fn.Stage, cfg.Object, op.Stage())
		}
		if cfg.Object == "" {
			return fmt.Errorf("function %s/%s: operation has no object", fn.System, fn.Stage)
		}
		if seen[cfg.Object] {
			return fmt.Errorf("function %s/%s: object %s appears twice", fn.System, fn.Stage, cfg.Object)
		}
		seen[cfg.Object] = true
	}
	return nil
}

// Settings tune every run of a Runner.
type Settings struct {
	// FailFast returns domain errors from Run instead of recording them
	// as Error results.
	FailFast bool

	// PageSize is the batch size when an operation sets none.
	PageSize int

	// StaleRunAfter lets a run proceed over a Running state that started
	// at least this long ago. Zero never overrides.
	StaleRunAfter time.Duration
}

// Runner runs Functions against a set of repositories.
//
// Thread-safety: a Runner holds no mutable state; concurrent runs of the
// same function are kept apart by the Running status in SystemState.
type Runner struct {
	stores   Stores
	clock    Clock
	ids      IDGenerator
	settings Settings
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the clock that supplies function start times.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithIDGenerator sets the generator for new CoreIDs.
func WithIDGenerator(g IDGenerator) RunnerOption {
	return func(r *Runner) {
		r.ids = g
	}
}

// WithSettings sets run settings.
func WithSettings(s Settings) RunnerOption {
	return func(r *Runner) {
		r.settings = s
	}
}

// NewRunner creates a Runner using the wall clock and UUIDv7 ids.
func NewRunner(stores Stores, opts ...RunnerOption) *Runner {
	r := &Runner{
		stores: stores,
		clock:  SystemClock{},
		ids:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FunctionRunResults is the outcome of one Runner.Run.
type FunctionRunResults struct {
	System ir.SystemName
	Stage  ir.LifecycleStage
	Start  time.Time

	// Skipped is why the function did not run at all. Empty when it ran.
	Skipped string

	Results  []Result
	NotReady []ir.ObjectName
}

// Aborted reports whether an operation voted to stop the run.
func (r FunctionRunResults) Aborted() bool {
	for _, res := range r.Results {
		if res.Vote == ir.VoteAbort {
			return true
		}
	}
	return false
}

// Message summarizes the run on one line.
func (r FunctionRunResults) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", r.System, r.Stage)
	if r.Skipped != "" {
		fmt.Fprintf(&b, " skipped: %s", r.Skipped)
		return b.String()
	}
	fmt.Fprintf(&b, " ran %d operation(s)", len(r.Results))
	for i, res := range r.Results {
		sep := "; "
		if i == 0 {
			sep = ": "
		}
		fmt.Fprintf(&b, "%s%s %s (%s)", sep, res.Object, res.Outcome, res.Message)
	}
	if len(r.NotReady) > 0 {
		fmt.Fprintf(&b, ", %d not ready", len(r.NotReady))
	}
	if r.Aborted() {
		b.WriteString(", aborted")
	}
	return b.String()
}

// Run runs every ready operation of fn in order and stops at the first
// that votes Abort. Domain failures become Error results; validation,
// integrity and storage failures are returned as *OperationError after
// the object state has been recorded.
func (r *Runner) Run(ctx context.Context, fn Function) (results FunctionRunResults, err error) {
	if err := fn.validate(); err != nil {
		return FunctionRunResults{}, err
	}

	start := r.clock.Now().UTC()
	results = FunctionRunResults{System: fn.System, Stage: fn.Stage, Start: start}
	ctl := r.stores.Ctl

	ss, err := ctl.GetOrCreateSystemState(ctx, fn.System, fn.Stage)
	if err != nil {
		return results, fmt.Errorf("load system state %s/%s: %w", fn.System, fn.Stage, err)
	}
	if !ss.Active {
		results.Skipped = "system is inactive"
		slog.Info("function skipped", "system", fn.System, "stage", fn.Stage, "reason", results.Skipped)
		return results, nil
	}
	if ss.Status == ir.StatusRunning {
		if !r.stale(ss, start) {
			results.Skipped = "already running"
			slog.Info("function skipped", "system", fn.System, "stage", fn.Stage, "reason", results.Skipped)
			return results, nil
		}
		slog.Warn("overriding stale running state",
			"system", fn.System,
			"stage", fn.Stage,
			"last_started", ss.LastStarted,
		)
	}

	ss = ss.Running(start)
	if err := ctl.SaveSystemState(ctx, ss); err != nil {
		return results, fmt.Errorf("mark %s/%s running: %w", fn.System, fn.Stage, err)
	}
	defer func() {
		done := ss.Completed(r.clock.Now().UTC())
		if serr := ctl.SaveSystemState(context.WithoutCancel(ctx), done); serr != nil {
			err = errors.Join(err, fmt.Errorf("mark %s/%s idle: %w", fn.System, fn.Stage, serr))
		}
	}()

	ready, err := r.ready(ctx, fn, ss, start, &results)
	if err != nil {
		return results, err
	}
	if fn.Prioritise != nil {
		ready = fn.Prioritise(ready)
	}

	for _, ro := range ready {
		res, err := r.runOne(ctx, fn, ro, start)
		if err != nil {
			return results, err
		}
		results.Results = append(results.Results, res)
		if res.Vote == ir.VoteAbort {
			slog.Warn("operation voted abort",
				"system", fn.System,
				"stage", fn.Stage,
				"object", res.Object,
				"message", res.Message,
			)
			break
		}
	}

	slog.Info("function complete",
		"system", fn.System,
		"stage", fn.Stage,
		"message", results.Message(),
	)
	return results, nil
}

func (r *Runner) stale(ss ir.SystemState, now time.Time) bool {
	if r.settings.StaleRunAfter <= 0 || ss.LastStarted == nil {
		return false
	}
	return now.Sub(*ss.LastStarted) >= r.settings.StaleRunAfter
}

// ready loads each operation's state and keeps the active, due ones.
func (r *Runner) ready(ctx context.Context, fn Function, ss ir.SystemState, start time.Time, results *FunctionRunResults) ([]ReadyOperation, error) {
	var ready []ReadyOperation
	for _, op := range fn.Operations {
		cfg := op.Config()
		os, err := r.stores.Ctl.GetOrCreateObjectState(ctx, ss, cfg.Object, cfg.FirstCheckpoint)
		if err != nil {
			return nil, fmt.Errorf("load object state %s/%s/%s: %w", fn.System, fn.Stage, cfg.Object, err)
		}
		if !os.Active {
			results.NotReady = append(results.NotReady, cfg.Object)
			continue
		}
		due, err := IsDue(cfg.Cron, os.LastStart, start)
		if err != nil {
			return nil, fmt.Errorf("operation %s/%s/%s: %w", fn.System, fn.Stage, cfg.Object, err)
		}
		if !due {
			results.NotReady = append(results.NotReady, cfg.Object)
			continue
		}
		ready = append(ready, ReadyOperation{Operation: op, State: os})
	}
	return ready, nil
}

// runOne runs one operation and records its outcome on the object state.
func (r *Runner) runOne(ctx context.Context, fn Function, ro ReadyOperation, start time.Time) (Result, error) {
	ctl := r.stores.Ctl
	cfg := ro.Operation.Config()

	os := ro.State.Started(start)
	if err := ctl.SaveObjectState(ctx, os); err != nil {
		return Result{}, fmt.Errorf("save object state %s: %w", cfg.Object, err)
	}

	res, runErr := ro.Operation.Run(ctx, RunContext{
		System:   fn.System,
		Start:    start,
		State:    os,
		Stores:   r.stores,
		IDs:      r.ids,
		FailFast: r.settings.FailFast,
		PageSize: r.settings.PageSize,
	})
	end := r.clock.Now().UTC()

	if runErr != nil {
		os = os.Finished(start, end, ir.ResultError, ir.VoteAbort, fmt.Sprintf("error: %v", runErr), runErr.Error())
		opErr := &OperationError{System: fn.System, Stage: fn.Stage, Object: cfg.Object, Err: runErr}
		if err := ctl.SaveObjectState(context.WithoutCancel(ctx), os); err != nil {
			return Result{}, errors.Join(opErr, fmt.Errorf("save object state %s: %w", cfg.Object, err))
		}
		slog.Error("operation failed",
			"system", fn.System,
			"stage", fn.Stage,
			"object", cfg.Object,
			"error", runErr,
		)
		return Result{}, opErr
	}

	exception := ""
	if res.Err != nil {
		exception = res.Err.Error()
	}
	os = os.Finished(start, end, res.Outcome, res.Vote, res.Message, exception)
	if res.Outcome == ir.ResultSuccess && res.Next != nil {
		os = os.AdvanceTo(*res.Next, res.NextKey)
	}
	if err := ctl.SaveObjectState(ctx, os); err != nil {
		return Result{}, fmt.Errorf("save object state %s: %w", cfg.Object, err)
	}

	slog.Debug("operation complete",
		"system", fn.System,
		"stage", fn.Stage,
		"object", cfg.Object,
		"result", res.Outcome,
		"checkpoint", os.Checkpoint,
		"message", res.Message,
	)
	return res, nil
}
