package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// DefaultPageSize bounds the batch an operation loads per run.
const DefaultPageSize = 100

// OperationConfig is the part of an operation the runner schedules on.
type OperationConfig struct {
	// Object is the system entity type for Read and Promote, and the core
	// entity type for Write.
	Object ir.ObjectName

	// Cron is a cron expression; empty means run on every invocation.
	Cron string

	// FirstCheckpoint seeds the ObjectState on first use.
	FirstCheckpoint time.Time

	// Bidirectional marks a Promote operation whose entities may
	// originate elsewhere and come back through this system.
	Bidirectional bool

	// PageSize overrides the runner's page size when positive.
	PageSize int
}

// Operation is one object's work within a Function.
type Operation interface {
	Stage() ir.LifecycleStage
	Config() OperationConfig
	Run(ctx context.Context, rc RunContext) (Result, error)
}

// RunContext is what the runner hands an operation.
type RunContext struct {
	System ir.SystemName

	// Start is the function start time. Every timestamp an operation
	// writes is derived from it.
	Start time.Time

	State    ir.ObjectState
	Stores   Stores
	IDs      IDGenerator
	FailFast bool
	PageSize int
}

func (rc RunContext) pageSize(cfg OperationConfig) int {
	if cfg.PageSize > 0 {
		return cfg.PageSize
	}
	if rc.PageSize > 0 {
		return rc.PageSize
	}
	return DefaultPageSize
}

// hookFailure turns a domain error into an Error result, or returns it
// when it is fatal or fail-fast is on.
func (rc RunContext) hookFailure(object ir.ObjectName, hook string, err error) (Result, error) {
	herr := &HookError{Hook: hook, Err: err}
	if isFatal(err) || rc.FailFast {
		return Result{}, herr
	}
	return errorResult(object, herr), nil
}

// Counts tallies what an operation did.
type Counts struct {
	Read    int `json:"read,omitempty"`
	Staged  int `json:"staged,omitempty"`
	Created int `json:"created,omitempty"`
	Updated int `json:"updated,omitempty"`
	Ignored int `json:"ignored,omitempty"`
	Skipped int `json:"skipped,omitempty"`
}

// Result is the outcome of one operation run.
type Result struct {
	Object  ir.ObjectName
	Outcome ir.OperationResult
	Vote    ir.AbortVote
	Message string
	Err     error

	// Next is the checkpoint to advance to. Nil keeps the current one.
	Next *time.Time

	// NextKey orders the checkpoint among entities sharing Next.
	NextKey string

	Counts Counts
}

func successResult(object ir.ObjectName, next *time.Time, counts Counts, message string) Result {
	return Result{
		Object:  object,
		Outcome: ir.ResultSuccess,
		Vote:    ir.VoteContinue,
		Message: message,
		Next:    next,
		Counts:  counts,
	}
}

func errorResult(object ir.ObjectName, err error) Result {
	return Result{
		Object:  object,
		Outcome: ir.ResultError,
		Vote:    ir.VoteAbort,
		Message: fmt.Sprintf("error: %v", err),
		Err:     err,
	}
}
