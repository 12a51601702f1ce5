package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

type verdict int

const (
	verdictNone verdict = iota
	verdictPromote
	verdictIgnore
	verdictFail
)

// Evaluation is an evaluator's decision for one system entity. Build it
// with Promote, Ignore or Fail.
type Evaluation[C any] struct {
	verdict verdict
	core    C
	reason  string
	err     error
}

// Promote accepts the entity as core. Any CoreMeta on core is replaced by
// the engine.
func Promote[C any](core C) Evaluation[C] {
	return Evaluation[C]{verdict: verdictPromote, core: core}
}

// Ignore skips the entity. The reason is recorded on the staged entity.
func Ignore[C any](reason string) Evaluation[C] {
	return Evaluation[C]{verdict: verdictIgnore, reason: reason}
}

// Fail aborts the whole batch. Nothing from the batch is persisted.
func Fail[C any](err error) Evaluation[C] {
	return Evaluation[C]{verdict: verdictFail, err: err}
}

// EvaluationInput is what an Evaluator receives for one system entity.
type EvaluationInput[S any, C any] struct {
	System ir.SystemName
	Entity S

	// Existing is the current core entity mapped to Entity, nil when the
	// entity has not been seen before.
	Existing *C

	Related RelatedLookup
	Start   time.Time
}

// Evaluator maps a system entity to a core entity.
type Evaluator[S any, C any] func(ctx context.Context, in EvaluationInput[S, C]) Evaluation[C]

// PromoteOperation turns staged payloads of one system entity type into
// core entities of one core type.
type PromoteOperation[S ir.SystemEntity, C ir.CoreEntity[C]] struct {
	OperationConfig
	CoreType    ir.CoreEntityTypeName
	SystemCodec Codec[S]
	CoreCodec   Codec[C]
	Evaluate    Evaluator[S, C]
}

// Stage returns StagePromote.
func (op *PromoteOperation[S, C]) Stage() ir.LifecycleStage { return ir.StagePromote }

// Config returns the scheduling config.
func (op *PromoteOperation[S, C]) Config() OperationConfig { return op.OperationConfig }

// Run promotes one page of unpromoted staged entities.
//
// Steps, in order:
//  1. load the page of unpromoted staged entities
//  2. decode them and load their maps and existing core entities
//  3. evaluate each entity; any failure aborts with nothing persisted
//  4. keep only the most recently updated entity per SystemID
//  5. handle bounce-backs of entities that originated elsewhere
//  6. ignore entities whose core checksum did not change
//  7. upsert core entities and create or update maps
//  8. stamp every staged entity promoted or ignored
//
// Steps 7 and 8 run in one transaction when Stores.Tx is set.
//
// The next checkpoint is the newest DateStaged in the page.
func (op *PromoteOperation[S, C]) Run(ctx context.Context, rc RunContext) (Result, error) {
	p := &promotion[S, C]{
		op:     op,
		rc:     rc,
		system: rc.System,
		typ:    ir.SystemEntityTypeName(op.Object),
	}

	staged, err := rc.Stores.Staged.GetUnpromoted(ctx, p.system, p.typ, rc.State.Checkpoint, rc.pageSize(op.OperationConfig))
	if err != nil {
		return Result{}, fmt.Errorf("load unpromoted %s/%s: %w", p.system, p.typ, err)
	}
	if len(staged) == 0 {
		return successResult(op.Object, nil, Counts{}, "nothing to promote"), nil
	}

	steps := []func(context.Context) error{
		p.load,
		p.evaluate,
		p.dedupe,
		p.bounceBacks,
		p.detectChanges,
		p.persist,
	}
	p.bags = newBags[S, C](staged)
	for _, step := range steps {
		if err := step(ctx); err != nil {
			var he *HookError
			if errors.As(err, &he) {
				return rc.hookFailure(op.Object, he.Hook, he.Err)
			}
			return Result{}, err
		}
	}

	counts := p.counts()
	next := latestStaged(staged)

	slog.Debug("promoted batch",
		"system", p.system,
		"type", p.typ,
		"core_type", op.CoreType,
		"staged", len(staged),
		"created", counts.Created,
		"updated", counts.Updated,
		"ignored", counts.Ignored,
	)

	msg := fmt.Sprintf("staged %d: created %d, updated %d, ignored %d",
		len(staged), counts.Created, counts.Updated, counts.Ignored)
	return successResult(op.Object, &next, counts, msg), nil
}

func newBags[S ir.SystemEntity, C ir.CoreEntity[C]](staged []ir.StagedEntity) []*promotionBag[S, C] {
	bags := make([]*promotionBag[S, C], len(staged))
	for i, se := range staged {
		bags[i] = &promotionBag[S, C]{staged: se}
	}
	return bags
}

func latestStaged(staged []ir.StagedEntity) time.Time {
	var latest time.Time
	for _, se := range staged {
		if se.DateStaged.After(latest) {
			latest = se.DateStaged
		}
	}
	return latest
}
