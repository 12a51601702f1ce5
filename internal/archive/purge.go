package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// Repository is the part of the staged repository a purge needs.
type Repository interface {
	StagedTypes(ctx context.Context) (map[ir.SystemName][]ir.SystemEntityTypeName, error)
	ListPromotedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) ([]ir.StagedEntity, error)
	ListStagedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) ([]ir.StagedEntity, error)
	DeletePromotedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) (int, error)
	DeleteStagedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) (int, error)
}

// Policy is how long staged entities are kept. A zero duration disables
// that half of the purge.
type Policy struct {
	// Promoted deletes promoted entities this long after promotion.
	Promoted time.Duration

	// Staged deletes every entity this long after staging, whatever its
	// state.
	Staged time.Duration
}

// Result reports the purge of one (system, type).
type Result struct {
	System   ir.SystemName
	Type     ir.SystemEntityTypeName
	Promoted int
	Staged   int
	Keys     []string
}

// Purger deletes staged entities past their retention, archiving them to
// a Sink first when one is set.
type Purger struct {
	repo   Repository
	sink   Sink
	policy Policy
	now    func() time.Time
}

// NewPurger creates a Purger. sink may be nil to delete without
// archiving.
func NewPurger(repo Repository, sink Sink, policy Policy, now func() time.Time) *Purger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Purger{repo: repo, sink: sink, policy: policy, now: now}
}

// Purge runs the policy over every staged (system, type). An archive
// failure stops the purge before anything of that batch is deleted.
func (p *Purger) Purge(ctx context.Context) ([]Result, error) {
	staged, err := p.repo.StagedTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list staged types: %w", err)
	}

	now := p.now().UTC()
	var results []Result
	for _, system := range sortedSystems(staged) {
		for _, typ := range staged[system] {
			res := Result{System: system, Type: typ}
			if p.policy.Promoted > 0 {
				n, key, err := p.purge(ctx, "promoted", now.Add(-p.policy.Promoted), system, typ,
					p.repo.ListPromotedBefore, p.repo.DeletePromotedBefore)
				if err != nil {
					return results, err
				}
				res.Promoted = n
				res.Keys = appendKey(res.Keys, key)
			}
			if p.policy.Staged > 0 {
				n, key, err := p.purge(ctx, "staged", now.Add(-p.policy.Staged), system, typ,
					p.repo.ListStagedBefore, p.repo.DeleteStagedBefore)
				if err != nil {
					return results, err
				}
				res.Staged = n
				res.Keys = appendKey(res.Keys, key)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

type listFunc func(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) ([]ir.StagedEntity, error)

type deleteFunc func(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) (int, error)

func (p *Purger) purge(ctx context.Context, kind string, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName, list listFunc, del deleteFunc) (int, string, error) {
	var key string
	if p.sink != nil {
		entities, err := list(ctx, before, system, typ)
		if err != nil {
			return 0, "", fmt.Errorf("list %s %s/%s: %w", kind, system, typ, err)
		}
		if len(entities) == 0 {
			return 0, "", nil
		}
		data, err := EncodeJSONL(entities)
		if err != nil {
			return 0, "", err
		}
		key = Key(system, typ, kind, before)
		if err := p.sink.Put(ctx, key, data); err != nil {
			return 0, "", fmt.Errorf("archive %s %s/%s: %w", kind, system, typ, err)
		}
	}

	n, err := del(ctx, before, system, typ)
	if err != nil {
		return 0, key, fmt.Errorf("delete %s %s/%s: %w", kind, system, typ, err)
	}
	slog.Info("purged staged entities",
		"system", system,
		"type", typ,
		"kind", kind,
		"before", before,
		"deleted", n,
		"archive_key", key,
	)
	return n, key, nil
}

// Key names the archive object for one purge batch.
func Key(system ir.SystemName, typ ir.SystemEntityTypeName, kind string, before time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s.jsonl", system, typ, kind, before.UTC().Format("20060102T150405Z"))
}

// EncodeJSONL writes one staged entity per line.
func EncodeJSONL(entities []ir.StagedEntity) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, se := range entities {
		if err := enc.Encode(se); err != nil {
			return nil, fmt.Errorf("encode staged entity %s: %w", se.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func appendKey(keys []string, key string) []string {
	if key == "" {
		return keys
	}
	return append(keys, key)
}

func sortedSystems(staged map[ir.SystemName][]ir.SystemEntityTypeName) []ir.SystemName {
	systems := make([]ir.SystemName, 0, len(staged))
	for s := range staged {
		systems = append(systems, s)
	}
	sort.Slice(systems, func(i, j int) bool { return systems[i] < systems[j] })
	return systems
}
