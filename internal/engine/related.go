package engine

import (
	"context"

	"github.com/roach88/coresync/internal/ir"
)

// RelatedLookup resolves foreign keys between core ids and the ids of the
// system an operation runs for. Evaluators use it to turn system ids into
// core ids; converters use it the other way round.
type RelatedLookup interface {
	SystemIDs(ctx context.Context, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID, mandatory bool) (map[ir.CoreID]ir.SystemID, error)
	CoreIDs(ctx context.Context, coreType ir.CoreEntityTypeName, ids []ir.SystemID, mandatory bool) (map[ir.SystemID]ir.CoreID, error)
}

type relatedLookup struct {
	ctl    CtlRepository
	system ir.SystemName
}

func newRelatedLookup(ctl CtlRepository, system ir.SystemName) RelatedLookup {
	return relatedLookup{ctl: ctl, system: system}
}

func (r relatedLookup) SystemIDs(ctx context.Context, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID, mandatory bool) (map[ir.CoreID]ir.SystemID, error) {
	return r.ctl.GetRelatedSystemIDsFromCores(ctx, r.system, coreType, coreIDs, mandatory)
}

func (r relatedLookup) CoreIDs(ctx context.Context, coreType ir.CoreEntityTypeName, ids []ir.SystemID, mandatory bool) (map[ir.SystemID]ir.CoreID, error) {
	return r.ctl.GetRelatedCoreIDsFromSystemIDs(ctx, r.system, coreType, ids, mandatory)
}
