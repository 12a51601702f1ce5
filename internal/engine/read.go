package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// ReadInput is what a ReadFunc receives.
type ReadInput struct {
	System ir.SystemName
	Type   ir.SystemEntityTypeName

	// Since is the checkpoint: read what changed after it.
	Since time.Time

	// Start is the function start time.
	Start time.Time
}

// ReadOutput is what a ReadFunc returns.
type ReadOutput struct {
	// Payloads are raw entity serializations, staged as-is.
	Payloads []string

	// LastUpdated is the newest change among Payloads. Zero means the
	// source does not report one and the function start time is used.
	LastUpdated time.Time
}

// ReadFunc fetches changes from an external system.
type ReadFunc func(ctx context.Context, in ReadInput) (ReadOutput, error)

// ReadOperation stages what a system reports as changed since the last
// checkpoint.
type ReadOperation struct {
	OperationConfig
	Read ReadFunc
}

// Stage returns StageRead.
func (op *ReadOperation) Stage() ir.LifecycleStage { return ir.StageRead }

// Config returns the scheduling config.
func (op *ReadOperation) Config() OperationConfig { return op.OperationConfig }

// Run calls the read function and stages its payloads.
//
// The next checkpoint is the function start when nothing was read, and
// the newest reported update otherwise.
func (op *ReadOperation) Run(ctx context.Context, rc RunContext) (Result, error) {
	typ := ir.SystemEntityTypeName(op.Object)

	out, err := op.Read(ctx, ReadInput{
		System: rc.System,
		Type:   typ,
		Since:  rc.State.Checkpoint,
		Start:  rc.Start,
	})
	if err != nil {
		return rc.hookFailure(op.Object, "read", err)
	}

	next := rc.Start
	if len(out.Payloads) == 0 {
		return successResult(op.Object, &next, Counts{}, "read 0, staged 0"), nil
	}
	if !out.LastUpdated.IsZero() {
		next = out.LastUpdated.UTC()
	}

	staged, err := rc.Stores.Staged.Stage(ctx, rc.Start, rc.System, typ, out.Payloads)
	if err != nil {
		return Result{}, fmt.Errorf("stage %s/%s: %w", rc.System, typ, err)
	}

	slog.Debug("read staged payloads",
		"system", rc.System,
		"type", typ,
		"read", len(out.Payloads),
		"staged", len(staged),
		"next_checkpoint", next,
	)

	counts := Counts{Read: len(out.Payloads), Staged: len(staged)}
	return successResult(op.Object, &next, counts, fmt.Sprintf("read %d, staged %d", counts.Read, counts.Staged)), nil
}
