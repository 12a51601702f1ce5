package harness

import (
	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
)

// Trace event types.
const (
	EventPut = "put"
	EventRun = "run"
)

// TraceEvent is one put, or one operation result of a run.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// System and ID are set for puts.
	System string `json:"system,omitempty"`
	ID     string `json:"id,omitempty"`

	// The rest are set for runs.
	Function string        `json:"function,omitempty"`
	Object   string        `json:"object,omitempty"`
	Outcome  string        `json:"outcome,omitempty"`
	Message  string        `json:"message,omitempty"`
	Counts   engine.Counts `json:"counts,omitempty"`
	Skipped  string        `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// fields flattens the event for subset matching.
func (e TraceEvent) fields() map[string]any {
	f := map[string]any{
		"function": e.Function,
		"object":   e.Object,
		"outcome":  e.Outcome,
		"message":  e.Message,
		"skipped":  e.Skipped,
		"error":    e.Error,
	}
	for k, v := range countFields(e.Counts) {
		f[k] = v
	}
	return f
}

func countFields(c engine.Counts) map[string]int {
	return map[string]int{
		"read":    c.Read,
		"staged":  c.Staged,
		"created": c.Created,
		"updated": c.Updated,
		"ignored": c.Ignored,
		"skipped": c.Skipped,
	}
}

// canonical renders the event with empty fields left out.
func (e TraceEvent) canonical() ir.IRObject {
	obj := ir.IRObject{
		"seq":  ir.IRInt(e.Seq),
		"type": ir.IRString(e.Type),
	}
	strs := map[string]string{
		"system":   e.System,
		"id":       e.ID,
		"function": e.Function,
		"object":   e.Object,
		"outcome":  e.Outcome,
		"message":  e.Message,
		"skipped":  e.Skipped,
		"error":    e.Error,
	}
	for k, v := range strs {
		if v != "" {
			obj[k] = ir.IRString(v)
		}
	}
	counts := ir.IRObject{}
	for k, v := range countFields(e.Counts) {
		if v != 0 {
			counts[k] = ir.IRInt(v)
		}
	}
	if len(counts) > 0 {
		obj["counts"] = counts
	}
	return obj
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every put and run result in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) TraceEvent {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
	return e
}
