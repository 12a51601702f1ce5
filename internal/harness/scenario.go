package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/coresync/internal/ir"
)

// Scenario is one replayable sync story.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Systems are the in-memory systems the flow runs against.
	Systems []SystemSpec `yaml:"systems"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// FailFast makes domain errors fail the run instead of being recorded.
	FailFast bool `yaml:"fail_fast,omitempty"`
}

// SystemSpec configures one in-memory contact system.
type SystemSpec struct {
	Name string `yaml:"name"`

	// Bidirectional marks the system's Promote operation bidirectional.
	Bidirectional bool `yaml:"bidirectional,omitempty"`
}

// FlowStep is exactly one of put, run or advance.
type FlowStep struct {
	// Put creates or replaces a row in a system, stamped with the clock.
	Put *PutStep `yaml:"put,omitempty"`

	// Run runs a function named "<system>/<stage>".
	Run string `yaml:"run,omitempty"`

	// Advance moves the clock forward by a Go duration.
	Advance string `yaml:"advance,omitempty"`

	// Expect checks the outcome of a run step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// PutStep is a row written straight into a system.
type PutStep struct {
	System string `yaml:"system"`
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Phone  string `yaml:"phone,omitempty"`
}

// ExpectClause checks one run. Only the fields set are compared.
type ExpectClause struct {
	// Outcome is Success or Error for the function's operation.
	Outcome string `yaml:"outcome,omitempty"`

	// Message is compared exactly.
	Message string `yaml:"message,omitempty"`

	// Counts are compared by key: read, staged, created, updated,
	// ignored, skipped. Keys left out are not checked.
	Counts map[string]int `yaml:"counts,omitempty"`

	// Error is a substring of the error the run returned. A run that
	// returns an error without one is a failure.
	Error string `yaml:"error,omitempty"`

	// Skipped is why the function did not run.
	Skipped string `yaml:"skipped,omitempty"`
}

// Assertion validates the trace, the store or a system.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Function is "<system>/<stage>" (trace_contains, trace_count).
	Function string `yaml:"function,omitempty"`

	// Functions is the expected order (trace_order).
	Functions []string `yaml:"functions,omitempty"`

	// Count is the expected number of runs (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table and Where select one store row (final_state).
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// System and ID select one system row (system_record).
	System string `yaml:"system,omitempty"`
	ID     string `yaml:"id,omitempty"`

	// Expect holds the fields to compare, subset semantics.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertSystemRecord  = "system_record"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// splitFunction parses "<system>/<stage>".
func splitFunction(name string) (ir.SystemName, ir.LifecycleStage, error) {
	system, stage, ok := strings.Cut(name, "/")
	if !ok || system == "" {
		return "", "", fmt.Errorf("function %q is not <system>/<stage>", name)
	}
	st, err := ir.ParseStage(stage)
	if err != nil {
		return "", "", fmt.Errorf("function %q: %w", name, err)
	}
	return ir.SystemName(system), st, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Systems) == 0 {
		return fmt.Errorf("systems list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	systems := make(map[string]bool, len(s.Systems))
	for i, sys := range s.Systems {
		if sys.Name == "" {
			return fmt.Errorf("systems[%d]: name is required", i)
		}
		if strings.Contains(sys.Name, "/") {
			return fmt.Errorf("systems[%d]: name %q must not contain /", i, sys.Name)
		}
		if systems[sys.Name] {
			return fmt.Errorf("systems[%d]: duplicate system %q", i, sys.Name)
		}
		systems[sys.Name] = true
	}

	knownFunction := func(name string) error {
		system, _, err := splitFunction(name)
		if err != nil {
			return err
		}
		if !systems[string(system)] {
			return fmt.Errorf("function %q: unknown system %q", name, system)
		}
		return nil
	}

	for i, step := range s.Flow {
		set := 0
		if step.Put != nil {
			set++
		}
		if step.Run != "" {
			set++
		}
		if step.Advance != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("flow[%d]: exactly one of put, run or advance is required", i)
		}

		switch {
		case step.Put != nil:
			if !systems[step.Put.System] {
				return fmt.Errorf("flow[%d].put: unknown system %q", i, step.Put.System)
			}
			if step.Put.ID == "" {
				return fmt.Errorf("flow[%d].put: id is required", i)
			}
		case step.Run != "":
			if err := knownFunction(step.Run); err != nil {
				return fmt.Errorf("flow[%d].run: %w", i, err)
			}
		case step.Advance != "":
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("flow[%d].advance: %w", i, err)
			}
			if d < 0 {
				return fmt.Errorf("flow[%d].advance: clock cannot go back", i)
			}
		}
		if step.Expect != nil && step.Run == "" {
			return fmt.Errorf("flow[%d]: expect is only valid on run steps", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, knownFunction, systems); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, knownFunction func(string) error, systems map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if err := knownFunction(a.Function); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertTraceOrder:
		if len(a.Functions) == 0 {
			return fmt.Errorf("assertions[%d]: functions list is required for trace_order", index)
		}
		for _, fn := range a.Functions {
			if err := knownFunction(fn); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertTraceCount:
		if err := knownFunction(a.Function); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertSystemRecord:
		if !systems[a.System] {
			return fmt.Errorf("assertions[%d]: unknown system %q", index, a.System)
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for system_record", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for system_record", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
