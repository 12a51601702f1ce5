package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/store"
	"github.com/roach88/coresync/internal/testutil"
)

// Epoch is where every scenario clock starts.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the test execution engine.
// It runs one scenario with a deterministic clock and ids.
type Harness struct {
	store   *store.Store
	runner  *engine.Runner
	clock   *testutil.Clock
	systems map[ir.SystemName]*memorySystem
	fns     map[string]engine.Function
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Create fresh in-memory database and systems
//  2. Execute flow steps with expect validation
//  3. Evaluate assertions
//  4. Return result with pass/fail, trace, and errors
//
// A failed expectation or assertion fails the result. Only a broken
// harness (the store cannot be opened) returns an error.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{
		Ctx:     ctx,
		Store:   h.store,
		Systems: h.records,
	}) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	clock := testutil.NewSteppingClock(Epoch, time.Second)
	st, err := store.Open(":memory:",
		store.WithIDGenerator(testutil.NewSequenceGenerator("staged")),
		store.WithNow(clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{
		store: st,
		runner: engine.NewRunner(
			engine.Stores{Ctl: st, Staged: st, Core: st, Tx: st},
			engine.WithClock(clock),
			engine.WithIDGenerator(testutil.NewSequenceGenerator("core")),
			engine.WithSettings(engine.Settings{FailFast: scenario.FailFast}),
		),
		clock:   clock,
		systems: make(map[ir.SystemName]*memorySystem, len(scenario.Systems)),
		fns:     make(map[string]engine.Function),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, spec := range scenario.Systems {
		sys := newMemorySystem(spec)
		h.systems[sys.name] = sys
		for stage, fn := range sys.functions() {
			h.fns[fmt.Sprintf("%s/%s", sys.name, stage)] = fn
		}
	}
	return h, nil
}

// records looks up one row of a system for system_record assertions.
func (h *Harness) records(system, id string) (map[string]any, bool) {
	sys, ok := h.systems[ir.SystemName(system)]
	if !ok {
		return nil, false
	}
	r, ok := sys.record(id)
	if !ok {
		return nil, false
	}
	return r.fields(), true
}

func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) error {
	switch {
	case step.Put != nil:
		sys, ok := h.systems[ir.SystemName(step.Put.System)]
		if !ok {
			return fmt.Errorf("flow[%d]: unknown system %q", index, step.Put.System)
		}
		sys.put(Record{
			ID:      step.Put.ID,
			Name:    step.Put.Name,
			Email:   step.Put.Email,
			Phone:   step.Put.Phone,
			Updated: h.clock.Now(),
		})
		result.add(TraceEvent{Type: EventPut, System: step.Put.System, ID: step.Put.ID})
		h.logger.Debug("put", "system", step.Put.System, "id", step.Put.ID)

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
		h.clock.Advance(d)

	case step.Run != "":
		fn, ok := h.fns[step.Run]
		if !ok {
			return fmt.Errorf("flow[%d]: unknown function %q", index, step.Run)
		}
		results, runErr := h.runner.Run(ctx, fn)
		events := h.recordRun(step.Run, results, runErr, result)
		h.logger.Debug("run", "function", step.Run, "message", results.Message())
		if step.Expect != nil {
			for _, msg := range checkExpect(step.Run, step.Expect, events, runErr) {
				result.AddError(fmt.Sprintf("flow[%d]: %s", index, msg))
			}
		} else if runErr != nil {
			result.AddError(fmt.Sprintf("flow[%d]: %s failed: %v", index, step.Run, runErr))
		}
	}
	return nil
}

// recordRun adds one event per operation result, plus one for a skipped
// run or a returned error.
func (h *Harness) recordRun(function string, results engine.FunctionRunResults, runErr error, result *Result) []TraceEvent {
	var events []TraceEvent
	for _, res := range results.Results {
		ev := TraceEvent{
			Type:     EventRun,
			Function: function,
			Object:   string(res.Object),
			Outcome:  string(res.Outcome),
			Message:  res.Message,
			Counts:   res.Counts,
		}
		events = append(events, result.add(ev))
	}
	switch {
	case runErr != nil:
		events = append(events, result.add(TraceEvent{Type: EventRun, Function: function, Error: runErr.Error()}))
	case results.Skipped != "":
		events = append(events, result.add(TraceEvent{Type: EventRun, Function: function, Skipped: results.Skipped}))
	case len(results.Results) == 0:
		events = append(events, result.add(TraceEvent{Type: EventRun, Function: function, Skipped: "not ready"}))
	}
	return events
}

// checkExpect compares a run against its expect clause. Outcome, message
// and counts are taken from the run's first operation result.
func checkExpect(function string, exp *ExpectClause, events []TraceEvent, runErr error) []string {
	var errs []string

	if runErr != nil {
		if exp.Error == "" {
			errs = append(errs, fmt.Sprintf("%s failed: %v", function, runErr))
		} else if !strings.Contains(runErr.Error(), exp.Error) {
			errs = append(errs, fmt.Sprintf("%s: expected error containing %q, got %q", function, exp.Error, runErr.Error()))
		}
	} else if exp.Error != "" {
		errs = append(errs, fmt.Sprintf("%s: expected error containing %q, got none", function, exp.Error))
	}

	var first TraceEvent
	if len(events) > 0 {
		first = events[0]
	}

	if exp.Skipped != "" && first.Skipped != exp.Skipped {
		errs = append(errs, fmt.Sprintf("%s: expected skipped %q, got %q", function, exp.Skipped, first.Skipped))
	}
	if exp.Outcome != "" && first.Outcome != exp.Outcome {
		errs = append(errs, fmt.Sprintf("%s: expected outcome %s, got %q (%s)", function, exp.Outcome, first.Outcome, first.Message))
	}
	if exp.Message != "" && first.Message != exp.Message {
		errs = append(errs, fmt.Sprintf("%s: expected message %q, got %q", function, exp.Message, first.Message))
	}

	actual := countFields(first.Counts)
	keys := make([]string, 0, len(exp.Counts))
	for k := range exp.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown count %q", function, k))
			continue
		}
		if got != exp.Counts[k] {
			errs = append(errs, fmt.Sprintf("%s: expected %s %d, got %d", function, k, exp.Counts[k], got))
		}
	}
	return errs
}
