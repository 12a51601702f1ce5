package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// ConvertInput is what a Converter receives for one core entity.
type ConvertInput[C any] struct {
	System ir.SystemName
	Core   C

	// Map is the existing map to the target system, nil for a create.
	Map *ir.Map

	Related RelatedLookup
}

// Converter turns a core entity into the target system's shape. On an
// update the returned entity must carry Map.SystemID.
type Converter[C any, S any] func(ctx context.Context, in ConvertInput[C]) (S, error)

// WriteItem is one entity headed for the target system.
type WriteItem[C any, S any] struct {
	Core   C
	Entity S

	// Map is set for updates.
	Map *ir.Map

	// Checksum is the system checksum of Entity.
	Checksum ir.Checksum
}

// WriteInput is the batch handed to a Writer.
type WriteInput[C any, S any] struct {
	System  ir.SystemName
	Creates []WriteItem[C, S]
	Updates []WriteItem[C, S]
}

// WriteOutput reports what the Writer persisted. Created entities must
// carry the SystemID the target system assigned.
type WriteOutput[C any, S any] struct {
	Created []WriteItem[C, S]
	Updated []WriteItem[C, S]
}

// Writer sends a batch to the target system.
type Writer[C any, S any] func(ctx context.Context, in WriteInput[C, S]) (WriteOutput[C, S], error)

// WriteOperation pushes core entities changed by other systems out to
// the operation's system.
type WriteOperation[C ir.CoreEntity[C], S ir.SystemEntity] struct {
	OperationConfig
	CoreCodec Codec[C]
	Convert   Converter[C, S]
	Write     Writer[C, S]
}

// Stage returns StageWrite.
func (op *WriteOperation[C, S]) Stage() ir.LifecycleStage { return ir.StageWrite }

// Config returns the scheduling config.
func (op *WriteOperation[C, S]) Config() OperationConfig { return op.OperationConfig }

// Run writes one page of core entities updated since the checkpoint by
// any other system.
//
// Entities without a map are creates. Entities with one are updates,
// skipped when the converted entity's checksum equals the map's. Maps are
// created or updated only after the writer succeeds.
//
// The checkpoint is a cursor on (DateUpdated, CoreID) and moves to the
// last fetched core, so a page can end inside a group of cores updated at
// one instant. A writer that reports fewer entities than it was handed
// fails the operation and the checkpoint stays put; the maps of what it
// did report are still saved, so a retry sees those as updates.
func (op *WriteOperation[C, S]) Run(ctx context.Context, rc RunContext) (Result, error) {
	system := rc.System
	coreType := ir.CoreEntityTypeName(op.Object)

	after := ir.CoreID(rc.State.CheckpointKey)
	records, err := rc.Stores.Core.GetEntitiesToWrite(ctx, system, coreType, rc.State.Checkpoint, after, rc.pageSize(op.OperationConfig))
	if err != nil {
		return Result{}, fmt.Errorf("load %s to write: %w", coreType, err)
	}
	if len(records) == 0 {
		return successResult(op.Object, nil, Counts{}, "nothing to write"), nil
	}

	cores := make([]C, 0, len(records))
	ids := make([]ir.CoreID, 0, len(records))
	for _, rec := range records {
		core, err := op.CoreCodec.Decode(rec.Data)
		if err != nil {
			return Result{}, fmt.Errorf("decode core %s %s: %w", coreType, rec.Meta.CoreID, err)
		}
		cores = append(cores, core.WithMeta(rec.Meta))
		ids = append(ids, rec.Meta.CoreID)
	}
	last := records[len(records)-1].Meta
	next := last.DateUpdated

	_, existing, err := rc.Stores.Ctl.GetNewAndExistingMapsFromCores(ctx, system, coreType, ids)
	if err != nil {
		return Result{}, fmt.Errorf("split %s creates and updates: %w", coreType, err)
	}
	byCoreID := make(map[ir.CoreID]ir.Map, len(existing))
	for _, m := range existing {
		byCoreID[m.CoreID] = m
	}

	related := newRelatedLookup(rc.Stores.Ctl, system)
	var in WriteInput[C, S]
	in.System = system
	skipped := 0
	for _, core := range cores {
		var mp *ir.Map
		if m, ok := byCoreID[core.Meta().CoreID]; ok {
			mm := m
			mp = &mm
		}

		entity, err := op.Convert(ctx, ConvertInput[C]{System: system, Core: core, Map: mp, Related: related})
		if err != nil {
			return rc.hookFailure(op.Object, "convert", fmt.Errorf("core %s: %w", core.Meta().CoreID, err))
		}
		sum, err := ir.SystemChecksum(entity.ChecksumSubset())
		if err != nil {
			return rc.hookFailure(op.Object, "system checksum", fmt.Errorf("core %s: %w", core.Meta().CoreID, err))
		}

		item := WriteItem[C, S]{Core: core, Entity: entity, Map: mp, Checksum: sum}
		switch {
		case mp == nil:
			in.Creates = append(in.Creates, item)
		case mp.SystemEntityChecksum == sum:
			skipped++
		default:
			in.Updates = append(in.Updates, item)
		}
	}

	counts := Counts{Skipped: skipped}
	if len(in.Creates) == 0 && len(in.Updates) == 0 {
		return writeResult(op.Object, next, last.CoreID, counts, len(records)), nil
	}

	out, err := op.Write(ctx, in)
	if err != nil {
		return rc.hookFailure(op.Object, "write", err)
	}

	creates := make([]ir.Map, 0, len(out.Created))
	for _, item := range out.Created {
		sum, err := ir.SystemChecksum(item.Entity.ChecksumSubset())
		if err != nil {
			return rc.hookFailure(op.Object, "system checksum", err)
		}
		creates = append(creates, ir.NewMap(system, coreType, item.Core.Meta().CoreID, item.Entity.SystemEntityID(), sum, rc.Start))
	}
	updates := make([]ir.Map, 0, len(out.Updated))
	for _, item := range out.Updated {
		if item.Map == nil {
			return Result{}, ir.NewValidationError(ir.ErrCodeInvalidState, "writer reported update of core %s without a map", item.Core.Meta().CoreID)
		}
		sum, err := ir.SystemChecksum(item.Entity.ChecksumSubset())
		if err != nil {
			return rc.hookFailure(op.Object, "system checksum", err)
		}
		updates = append(updates, item.Map.Updated(sum, rc.Start))
	}

	err = rc.Stores.inTx(ctx, func(ctx context.Context) error {
		if len(creates) > 0 {
			if _, err := rc.Stores.Ctl.CreateSysMaps(ctx, system, coreType, creates); err != nil {
				return fmt.Errorf("create maps: %w", err)
			}
		}
		if len(updates) > 0 {
			if _, err := rc.Stores.Ctl.UpdateSysMaps(ctx, system, coreType, updates); err != nil {
				return fmt.Errorf("update maps: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	counts.Created = len(creates)
	counts.Updated = len(updates)

	if len(out.Created) != len(in.Creates) || len(out.Updated) != len(in.Updates) {
		return rc.hookFailure(op.Object, "write", fmt.Errorf("writer reported %d of %d creates and %d of %d updates",
			len(out.Created), len(in.Creates), len(out.Updated), len(in.Updates)))
	}

	slog.Debug("wrote batch",
		"system", system,
		"core_type", coreType,
		"cores", len(records),
		"created", counts.Created,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
	)

	return writeResult(op.Object, next, last.CoreID, counts, len(records)), nil
}

func writeResult(object ir.ObjectName, next time.Time, key ir.CoreID, counts Counts, cores int) Result {
	res := successResult(object, &next, counts, writeMessage(cores, counts))
	res.NextKey = string(key)
	return res
}

func writeMessage(cores int, c Counts) string {
	return fmt.Sprintf("cores %d: created %d, updated %d, skipped %d", cores, c.Created, c.Updated, c.Skipped)
}
