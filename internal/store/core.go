package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// GetEntitiesToWrite returns at most limit core entities of coreType
// updated by any system other than exclude, ordered by update time and
// then core id, starting after the cursor (since, afterID).
//
// An empty afterID starts strictly after since. Otherwise entities
// updated at since with an id above afterID come first, so a page can end
// inside a group updated at one instant.
func (s *Store) GetEntitiesToWrite(ctx context.Context, exclude ir.SystemName, coreType ir.CoreEntityTypeName, since time.Time, afterID ir.CoreID, limit int) ([]ir.CoreRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, coreSelect+`
		WHERE core_entity_type = ? AND last_update_system != ?
		  AND (date_updated > ? OR (date_updated = ? AND ? != '' AND core_id > ? COLLATE BINARY))
		ORDER BY date_updated ASC, core_id COLLATE BINARY ASC
		LIMIT ?
	`, string(coreType), string(exclude), nanos(since), nanos(since), string(afterID), string(afterID), limit)
	if err != nil {
		return nil, fmt.Errorf("query entities to write: %w", err)
	}
	return collectCores(rows)
}

// GetExistingEntities returns the core entities with the given ids,
// ordered by core id. Unknown ids are left out.
func (s *Store) GetExistingEntities(ctx context.Context, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID) ([]ir.CoreRecord, error) {
	records := []ir.CoreRecord{}
	for _, chunk := range chunks(stringArgs(coreIDs)) {
		query := coreSelect + fmt.Sprintf(`
			WHERE core_entity_type = ? AND core_id IN (%s)
		`, placeholders(len(chunk)))
		args := append([]any{string(coreType)}, chunk...)

		rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query core entities: %w", err)
		}
		got, err := collectCores(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, got...)
	}
	slices.SortFunc(records, func(a, b ir.CoreRecord) int {
		return strings.Compare(string(a.Meta.CoreID), string(b.Meta.CoreID))
	})
	return records, nil
}

// ListCoreEntities returns every core entity of coreType, oldest update
// first.
func (s *Store) ListCoreEntities(ctx context.Context, coreType ir.CoreEntityTypeName) ([]ir.CoreRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, coreSelect+`
		WHERE core_entity_type = ?
		ORDER BY date_updated ASC, core_id COLLATE BINARY ASC
	`, string(coreType))
	if err != nil {
		return nil, fmt.Errorf("query core entities: %w", err)
	}
	return collectCores(rows)
}

// Upsert inserts or replaces core entities atomically. Every record must
// be of coreType and appear once.
func (s *Store) Upsert(ctx context.Context, coreType ir.CoreEntityTypeName, records []ir.CoreRecord) error {
	seen := make(map[ir.CoreID]bool, len(records))
	for _, rec := range records {
		if rec.Type != coreType {
			return ir.NewValidationError(ir.ErrCodeMixedBatch, "core %s is a %s, batch is %s", rec.Meta.CoreID, rec.Type, coreType)
		}
		if seen[rec.Meta.CoreID] {
			return ir.NewValidationError(ir.ErrCodeDuplicateKey, "core id %s appears twice in %s batch", rec.Meta.CoreID, coreType)
		}
		seen[rec.Meta.CoreID] = true
	}

	err := s.InTx(ctx, func(ctx context.Context) error {
		for _, rec := range records {
			_, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO core_entities
				(core_entity_type, core_id, system_id, system, last_update_system, date_created, date_updated, checksum, data)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(core_entity_type, core_id) DO UPDATE SET
					system_id = excluded.system_id,
					system = excluded.system,
					last_update_system = excluded.last_update_system,
					date_created = excluded.date_created,
					date_updated = excluded.date_updated,
					checksum = excluded.checksum,
					data = excluded.data
			`,
				string(rec.Type),
				string(rec.Meta.CoreID),
				string(rec.Meta.SystemID),
				string(rec.Meta.System),
				string(rec.Meta.LastUpdateSystem),
				nanos(rec.Meta.DateCreated),
				nanos(rec.Meta.DateUpdated),
				string(rec.Checksum),
				string(rec.Data),
			)
			if err != nil {
				return fmt.Errorf("upsert core %s: %w", rec.Meta.CoreID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

const coreSelect = `
	SELECT core_entity_type, core_id, system_id, system, last_update_system, date_created, date_updated, checksum, data
	FROM core_entities
`

func collectCores(rows *sql.Rows) ([]ir.CoreRecord, error) {
	defer rows.Close()

	records := []ir.CoreRecord{}
	for rows.Next() {
		var rec ir.CoreRecord
		var typ, coreID, sysID, system, lastUpdate, checksum, data string
		var created, updated int64
		if err := rows.Scan(&typ, &coreID, &sysID, &system, &lastUpdate, &created, &updated, &checksum, &data); err != nil {
			return nil, fmt.Errorf("scan core entity: %w", err)
		}
		rec.Type = ir.CoreEntityTypeName(typ)
		rec.Meta = ir.CoreMeta{
			CoreID:           ir.CoreID(coreID),
			SystemID:         ir.SystemID(sysID),
			System:           ir.SystemName(system),
			LastUpdateSystem: ir.SystemName(lastUpdate),
			DateCreated:      fromNanos(created),
			DateUpdated:      fromNanos(updated),
		}
		rec.Checksum = ir.Checksum(checksum)
		rec.Data = []byte(data)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate core entities: %w", err)
	}
	return records, nil
}
