package engine

import (
	"context"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// CtlRepository holds scheduling state and the core/system id maps.
//
// Map batches passed to CreateSysMaps and UpdateSysMaps must belong to one
// (system, core type) pair, hold no duplicate SystemID or CoreID, and must
// persist exactly len(batch) rows. Anything else is an *ir.ValidationError.
type CtlRepository interface {
	// GetOrCreateSystemState returns the state of (system, stage), creating
	// an active idle one on first use.
	GetOrCreateSystemState(ctx context.Context, system ir.SystemName, stage ir.LifecycleStage) (ir.SystemState, error)
	SaveSystemState(ctx context.Context, state ir.SystemState) error

	// GetOrCreateObjectState returns the state of one operation, creating
	// it with firstCheckpoint on first use.
	GetOrCreateObjectState(ctx context.Context, ss ir.SystemState, object ir.ObjectName, firstCheckpoint time.Time) (ir.ObjectState, error)
	SaveObjectState(ctx context.Context, state ir.ObjectState) error

	CreateSysMaps(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, maps []ir.Map) ([]ir.Map, error)
	UpdateSysMaps(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, maps []ir.Map) ([]ir.Map, error)

	// GetNewAndExistingMapsFromCores splits coreIDs into those with no map
	// in system and the maps of those that have one.
	GetNewAndExistingMapsFromCores(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID) ([]ir.CoreID, []ir.Map, error)
	GetMapsFromSystemIDs(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, ids []ir.SystemID) ([]ir.Map, error)
	GetExistingMapsFromCoreIDs(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID) ([]ir.Map, error)

	// GetRelatedSystemIDsFromCores resolves core ids of a related type to
	// their ids in system. With mandatory set, any unmapped id is a
	// *ir.MissingRelationError.
	GetRelatedSystemIDsFromCores(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID, mandatory bool) (map[ir.CoreID]ir.SystemID, error)
	GetRelatedCoreIDsFromSystemIDs(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, ids []ir.SystemID, mandatory bool) (map[ir.SystemID]ir.CoreID, error)
}

// StagedRepository holds raw payloads between Read and Promote.
type StagedRepository interface {
	// Stage persists payloads stamped at stagedAt. A payload whose checksum
	// matches a live (not ignored) entity of the same system and type is
	// dropped. Returns only the newly staged entities.
	Stage(ctx context.Context, stagedAt time.Time, system ir.SystemName, typ ir.SystemEntityTypeName, payloads []string) ([]ir.StagedEntity, error)

	// GetUnpromoted returns at most limit entities staged at or after
	// since that are neither promoted nor ignored, oldest first.
	GetUnpromoted(ctx context.Context, system ir.SystemName, typ ir.SystemEntityTypeName, since time.Time, limit int) ([]ir.StagedEntity, error)

	// Update persists promoted or ignored stamps. Only entities that are
	// not yet terminal in storage may be stamped.
	Update(ctx context.Context, entities []ir.StagedEntity) error

	DeletePromotedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) (int, error)
	DeleteStagedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) (int, error)
}

// CoreStorage holds the canonical entities.
type CoreStorage interface {
	// GetEntitiesToWrite returns at most limit entities updated by any
	// system other than exclude, ordered by (DateUpdated, CoreID) and
	// starting after the cursor (since, afterID). An empty afterID starts
	// strictly after since.
	GetEntitiesToWrite(ctx context.Context, exclude ir.SystemName, coreType ir.CoreEntityTypeName, since time.Time, afterID ir.CoreID, limit int) ([]ir.CoreRecord, error)
	GetExistingEntities(ctx context.Context, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID) ([]ir.CoreRecord, error)
	Upsert(ctx context.Context, coreType ir.CoreEntityTypeName, records []ir.CoreRecord) error
}

// Transactor runs fn so that every repository call made with the context
// it receives commits or rolls back together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Stores bundles the repositories an operation needs. Tx is optional:
// without it, promotion persists its writes one after another and a crash
// in between can leave staged entities unstamped. They are promoted again
// on the next run, and change detection turns the repeat into a no-op.
type Stores struct {
	Ctl    CtlRepository
	Staged StagedRepository
	Core   CoreStorage
	Tx     Transactor
}

func (s Stores) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.Tx == nil {
		return fn(ctx)
	}
	return s.Tx.InTx(ctx, fn)
}
