package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/coresync/internal/ir"
)

// promotion is the state of one PromoteOperation run.
type promotion[S ir.SystemEntity, C ir.CoreEntity[C]] struct {
	op     *PromoteOperation[S, C]
	rc     RunContext
	system ir.SystemName
	typ    ir.SystemEntityTypeName
	bags   []*promotionBag[S, C]
}

func (p *promotion[S, C]) pending() []*promotionBag[S, C] {
	var out []*promotionBag[S, C]
	for _, b := range p.bags {
		if b.promote {
			out = append(out, b)
		}
	}
	return out
}

func (p *promotion[S, C]) ignore(b *promotionBag[S, C], reason string) {
	slog.Debug("ignoring staged entity",
		"system", p.system,
		"type", p.typ,
		"staged_id", b.staged.ID,
		"reason", reason,
	)
	b.ignore(reason)
}

// load decodes staged payloads and attaches each entity's map and current
// core entity.
func (p *promotion[S, C]) load(ctx context.Context) error {
	var ids []ir.SystemID
	seen := make(map[ir.SystemID]bool)
	for _, b := range p.bags {
		entity, err := p.op.SystemCodec.Decode([]byte(b.staged.Data))
		if err != nil {
			p.ignore(b, fmt.Sprintf("could not decode staged payload: %v", err))
			continue
		}
		sum, err := ir.SystemChecksum(entity.ChecksumSubset())
		if err != nil {
			return &HookError{Hook: "system checksum", Err: fmt.Errorf("staged %s: %w", b.staged.ID, err)}
		}
		b.entity = entity
		b.sysChecksum = sum
		if id := entity.SystemEntityID(); !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	maps, err := p.rc.Stores.Ctl.GetMapsFromSystemIDs(ctx, p.system, p.op.CoreType, ids)
	if err != nil {
		return fmt.Errorf("load maps: %w", err)
	}
	bySystemID := make(map[ir.SystemID]ir.Map, len(maps))
	coreIDs := make([]ir.CoreID, 0, len(maps))
	for _, m := range maps {
		bySystemID[m.SystemID] = m
		coreIDs = append(coreIDs, m.CoreID)
	}

	cores, err := p.loadCores(ctx, coreIDs)
	if err != nil {
		return err
	}

	for _, b := range p.bags {
		if !b.open() {
			continue
		}
		m, ok := bySystemID[b.entity.SystemEntityID()]
		if !ok {
			continue
		}
		if err := p.attach(b, m, cores); err != nil {
			return err
		}
	}
	return nil
}

// loadCores fetches and decodes core records by id. The record's meta
// column wins over whatever the payload carries.
func (p *promotion[S, C]) loadCores(ctx context.Context, ids []ir.CoreID) (map[ir.CoreID]loadedCore[C], error) {
	out := make(map[ir.CoreID]loadedCore[C], len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	records, err := p.rc.Stores.Core.GetExistingEntities(ctx, p.op.CoreType, ids)
	if err != nil {
		return nil, fmt.Errorf("load core entities: %w", err)
	}
	for _, rec := range records {
		core, err := p.op.CoreCodec.Decode(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("decode core %s %s: %w", p.op.CoreType, rec.Meta.CoreID, err)
		}
		out[rec.Meta.CoreID] = loadedCore[C]{core: core.WithMeta(rec.Meta), checksum: rec.Checksum}
	}
	return out, nil
}

type loadedCore[C any] struct {
	core     C
	checksum ir.Checksum
}

func (p *promotion[S, C]) attach(b *promotionBag[S, C], m ir.Map, cores map[ir.CoreID]loadedCore[C]) error {
	lc, ok := cores[m.CoreID]
	if !ok {
		return &ir.IntegrityError{
			Code:       ir.ErrCodeMissingCore,
			Message:    fmt.Sprintf("map for system id %s points at a missing core entity", m.SystemID),
			CoreType:   p.op.CoreType,
			CoreID:     m.CoreID,
			SystemName: p.system,
		}
	}
	mm := m
	core := lc.core
	b.existingMap = &mm
	b.existing = &core
	b.existingChecksum = lc.checksum
	return nil
}

// evaluate asks the evaluator about every open bag and assigns CoreMeta
// to the entities it promotes.
func (p *promotion[S, C]) evaluate(ctx context.Context) error {
	related := newRelatedLookup(p.rc.Stores.Ctl, p.system)
	for _, b := range p.bags {
		if !b.open() {
			continue
		}
		ev := p.op.Evaluate(ctx, EvaluationInput[S, C]{
			System:   p.system,
			Entity:   b.entity,
			Existing: b.existing,
			Related:  related,
			Start:    p.rc.Start,
		})

		switch ev.verdict {
		case verdictPromote:
			var meta ir.CoreMeta
			if b.existing != nil {
				meta = (*b.existing).Meta().UpdatedBy(p.system, p.rc.Start)
			} else {
				meta = ir.NewCoreMeta(ir.CoreID(p.rc.IDs.Generate()), p.system, b.entity.SystemEntityID(), p.rc.Start)
			}
			b.pending = ev.core.WithMeta(meta)
			b.promote = true
		case verdictIgnore:
			reason := ev.reason
			if reason == "" {
				reason = ReasonIgnoredNoReason
			}
			p.ignore(b, reason)
		case verdictFail:
			return &HookError{Hook: "evaluate", Err: fmt.Errorf("staged %s: %w", b.staged.ID, ev.err)}
		default:
			return &HookError{Hook: "evaluate", Err: fmt.Errorf("staged %s: evaluator returned no decision", b.staged.ID)}
		}
	}
	return nil
}

// dedupe keeps the most recently updated entity per SystemID.
func (p *promotion[S, C]) dedupe(context.Context) error {
	pending := p.pending()
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].entity.LastUpdatedDate().After(pending[j].entity.LastUpdatedDate())
	})

	seen := make(map[ir.SystemID]bool, len(pending))
	for _, b := range pending {
		id := b.entity.SystemEntityID()
		if seen[id] {
			p.ignore(b, ReasonDuplicateInBatch)
			continue
		}
		seen[id] = true
	}
	return nil
}

// bounceBacks handles entities that originated in another system and
// came back through this one.
//
// A unidirectional operation drops them. A bidirectional one keeps them,
// but first re-checks the maps for entities that claim to originate here:
// a map created since load (by a concurrent Write) means the entity is
// really an existing core entity, and its origin ids are corrected to
// point at it. Only ids may change; a checksum that moves is an
// *ir.IntegrityError.
func (p *promotion[S, C]) bounceBacks(ctx context.Context) error {
	if !p.op.Bidirectional {
		for _, b := range p.pending() {
			if b.pending.Meta().System != p.system {
				p.ignore(b, ReasonBounceBack)
			}
		}
		return nil
	}

	var candidates []*promotionBag[S, C]
	var ids []ir.SystemID
	for _, b := range p.pending() {
		if b.pending.Meta().System == p.system {
			candidates = append(candidates, b)
			ids = append(ids, b.pending.Meta().SystemID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	maps, err := p.rc.Stores.Ctl.GetMapsFromSystemIDs(ctx, p.system, p.op.CoreType, ids)
	if err != nil {
		return fmt.Errorf("load bounce-back maps: %w", err)
	}
	bySystemID := make(map[ir.SystemID]ir.Map, len(maps))
	var coreIDs []ir.CoreID
	for _, m := range maps {
		bySystemID[m.SystemID] = m
		coreIDs = append(coreIDs, m.CoreID)
	}

	var cores map[ir.CoreID]loadedCore[C]
	for _, b := range candidates {
		meta := b.pending.Meta()
		m, ok := bySystemID[meta.SystemID]
		if !ok || m.CoreID == meta.CoreID {
			continue
		}
		if cores == nil {
			if cores, err = p.loadCores(ctx, coreIDs); err != nil {
				return err
			}
		}
		if err := p.correctOrigin(b, m, cores); err != nil {
			return err
		}
	}
	return nil
}

func (p *promotion[S, C]) correctOrigin(b *promotionBag[S, C], m ir.Map, cores map[ir.CoreID]loadedCore[C]) error {
	before, err := ir.CoreChecksum(b.pending.ChecksumSubset())
	if err != nil {
		return &HookError{Hook: "core checksum", Err: err}
	}

	if err := p.attach(b, m, cores); err != nil {
		return err
	}
	origin := (*b.existing).Meta()
	meta := b.pending.Meta().WithOrigin(origin.CoreID, origin.System, origin.SystemID, origin.DateCreated)
	corrected := b.pending.WithMeta(meta)

	after, err := ir.CoreChecksum(corrected.ChecksumSubset())
	if err != nil {
		return &HookError{Hook: "core checksum", Err: err}
	}
	if before != after {
		return &ir.IntegrityError{
			Code:       ir.ErrCodeBounceBackChecksum,
			Message:    "core checksum changed after correcting bounce-back ids; the checksum subset must not include ids",
			CoreType:   p.op.CoreType,
			CoreID:     origin.CoreID,
			SystemName: p.system,
		}
	}

	slog.Debug("corrected bounce-back origin",
		"system", p.system,
		"core_type", p.op.CoreType,
		"system_id", m.SystemID,
		"core_id", origin.CoreID,
	)
	b.pending = corrected
	return nil
}

// detectChanges computes core checksums and drops updates that change
// nothing.
func (p *promotion[S, C]) detectChanges(context.Context) error {
	for _, b := range p.pending() {
		sum, err := ir.CoreChecksum(b.pending.ChecksumSubset())
		if err != nil {
			return &HookError{Hook: "core checksum", Err: fmt.Errorf("staged %s: %w", b.staged.ID, err)}
		}
		b.pendingChecksum = sum
		if b.existing != nil && sum == b.existingChecksum {
			p.ignore(b, ReasonNoChange)
		}
	}
	return nil
}

// persist writes core entities and maps, then stamps every staged entity.
func (p *promotion[S, C]) persist(ctx context.Context) error {
	coreType := p.op.CoreType
	start := p.rc.Start

	var records []ir.CoreRecord
	var creates, updates []ir.Map
	for _, b := range p.pending() {
		data, err := p.op.CoreCodec.Encode(b.pending)
		if err != nil {
			return fmt.Errorf("encode core %s: %w", coreType, err)
		}
		meta := b.pending.Meta()
		records = append(records, ir.CoreRecord{
			Type:     coreType,
			Meta:     meta,
			Checksum: b.pendingChecksum,
			Data:     data,
		})
		if b.existingMap == nil {
			creates = append(creates, ir.NewMap(p.system, coreType, meta.CoreID, b.entity.SystemEntityID(), b.sysChecksum, start))
		} else {
			updates = append(updates, b.existingMap.Updated(b.sysChecksum, start))
		}
	}

	stamped := make([]ir.StagedEntity, 0, len(p.bags))
	for _, b := range p.bags {
		se, err := b.stamped(start)
		if err != nil {
			return ir.NewValidationError(ir.ErrCodeInvalidState, "stamp staged entity: %v", err)
		}
		stamped = append(stamped, se)
	}

	return p.rc.Stores.inTx(ctx, func(ctx context.Context) error {
		if len(records) > 0 {
			if err := p.rc.Stores.Core.Upsert(ctx, coreType, records); err != nil {
				return fmt.Errorf("upsert core entities: %w", err)
			}
		}
		if len(creates) > 0 {
			if _, err := p.rc.Stores.Ctl.CreateSysMaps(ctx, p.system, coreType, creates); err != nil {
				return fmt.Errorf("create maps: %w", err)
			}
		}
		if len(updates) > 0 {
			if _, err := p.rc.Stores.Ctl.UpdateSysMaps(ctx, p.system, coreType, updates); err != nil {
				return fmt.Errorf("update maps: %w", err)
			}
		}
		if err := p.rc.Stores.Staged.Update(ctx, stamped); err != nil {
			return fmt.Errorf("stamp staged entities: %w", err)
		}
		return nil
	})
}

func (p *promotion[S, C]) counts() Counts {
	var c Counts
	for _, b := range p.bags {
		switch {
		case !b.promote:
			c.Ignored++
		case b.existing == nil:
			c.Created++
		default:
			c.Updated++
		}
	}
	return c
}
