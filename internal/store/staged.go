package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/coresync/internal/ir"
)

// Stage persists payloads as staged entities stamped at stagedAt.
//
// A payload whose checksum matches a live entity of the same system and
// type (staged or promoted, but not ignored) is dropped, and so is a
// repeat within the batch. Returns only the newly staged entities, in
// payload order.
func (s *Store) Stage(ctx context.Context, stagedAt time.Time, system ir.SystemName, typ ir.SystemEntityTypeName, payloads []string) ([]ir.StagedEntity, error) {
	staged := []ir.StagedEntity{}
	err := s.InTx(ctx, func(ctx context.Context) error {
		for _, data := range payloads {
			se := ir.NewStagedEntity(ir.StagedID(s.ids.Generate()), system, typ, stagedAt, data)
			res, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO staged_entities
				(id, system, system_entity_type, date_staged, data, checksum)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`,
				string(se.ID),
				string(se.System),
				string(se.SystemEntityType),
				nanos(se.DateStaged),
				se.Data,
				string(se.Checksum),
			)
			if err != nil {
				return fmt.Errorf("insert staged entity: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if n > 0 {
				staged = append(staged, se)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	return staged, nil
}

// GetUnpromoted returns at most limit entities staged at or after since
// that are neither promoted nor ignored, oldest first.
//
// Entities staged at the since instant are included: one Read stages a
// whole batch at one instant, and a page may end inside it. Handled
// entities are stamped, so the rest of the batch is what comes back.
func (s *Store) GetUnpromoted(ctx context.Context, system ir.SystemName, typ ir.SystemEntityTypeName, since time.Time, limit int) ([]ir.StagedEntity, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, stagedSelect+`
		WHERE system = ? AND system_entity_type = ? AND date_staged >= ?
		  AND date_promoted IS NULL AND ignore_reason IS NULL
		ORDER BY date_staged ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, string(system), string(typ), nanos(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query unpromoted: %w", err)
	}
	return collectStaged(rows)
}

// Update persists the promoted or ignored stamp of each entity. Every
// entity must be terminal, and must still be unstamped in storage.
func (s *Store) Update(ctx context.Context, entities []ir.StagedEntity) error {
	for _, se := range entities {
		if !se.Terminal() {
			return ir.NewValidationError(ir.ErrCodeInvalidState, "staged entity %s is neither promoted nor ignored", se.ID)
		}
	}

	err := s.InTx(ctx, func(ctx context.Context) error {
		for _, se := range entities {
			res, err := s.conn(ctx).ExecContext(ctx, `
				UPDATE staged_entities
				SET date_promoted = ?, ignore_reason = ?
				WHERE id = ? AND date_promoted IS NULL AND ignore_reason IS NULL
			`, nullNanos(se.DatePromoted), nullString(se.IgnoreReason), string(se.ID))
			if err != nil {
				return fmt.Errorf("update staged entity: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if n != 1 {
				return ir.NewValidationError(ir.ErrCodeInvalidState, "staged entity %s is missing or already stamped", se.ID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update staged: %w", err)
	}
	return nil
}

// ListPromotedBefore returns promoted entities of (system, type) promoted
// strictly before before, oldest first.
func (s *Store) ListPromotedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) ([]ir.StagedEntity, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, stagedSelect+`
		WHERE system = ? AND system_entity_type = ?
		  AND date_promoted IS NOT NULL AND date_promoted < ?
		ORDER BY date_staged ASC, id COLLATE BINARY ASC
	`, string(system), string(typ), nanos(before))
	if err != nil {
		return nil, fmt.Errorf("query promoted: %w", err)
	}
	return collectStaged(rows)
}

// ListStagedBefore returns every entity of (system, type) staged strictly
// before before, whatever its state, oldest first.
func (s *Store) ListStagedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) ([]ir.StagedEntity, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, stagedSelect+`
		WHERE system = ? AND system_entity_type = ? AND date_staged < ?
		ORDER BY date_staged ASC, id COLLATE BINARY ASC
	`, string(system), string(typ), nanos(before))
	if err != nil {
		return nil, fmt.Errorf("query staged: %w", err)
	}
	return collectStaged(rows)
}

// DeletePromotedBefore deletes entities promoted strictly before before.
func (s *Store) DeletePromotedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM staged_entities
		WHERE system = ? AND system_entity_type = ?
		  AND date_promoted IS NOT NULL AND date_promoted < ?
	`, string(system), string(typ), nanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete promoted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete promoted: rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteStagedBefore deletes entities staged strictly before before,
// whatever their state.
func (s *Store) DeleteStagedBefore(ctx context.Context, before time.Time, system ir.SystemName, typ ir.SystemEntityTypeName) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM staged_entities
		WHERE system = ? AND system_entity_type = ? AND date_staged < ?
	`, string(system), string(typ), nanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete staged: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete staged: rows affected: %w", err)
	}
	return int(n), nil
}

// StagedTypes returns every (system, type) pair with staged entities.
func (s *Store) StagedTypes(ctx context.Context) (map[ir.SystemName][]ir.SystemEntityTypeName, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT DISTINCT system, system_entity_type
		FROM staged_entities
		ORDER BY system COLLATE BINARY ASC, system_entity_type COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query staged types: %w", err)
	}
	defer rows.Close()

	out := make(map[ir.SystemName][]ir.SystemEntityTypeName)
	for rows.Next() {
		var system, typ string
		if err := rows.Scan(&system, &typ); err != nil {
			return nil, fmt.Errorf("scan staged type: %w", err)
		}
		out[ir.SystemName(system)] = append(out[ir.SystemName(system)], ir.SystemEntityTypeName(typ))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged types: %w", err)
	}
	return out, nil
}

const stagedSelect = `
	SELECT id, system, system_entity_type, date_staged, data, checksum, date_promoted, ignore_reason
	FROM staged_entities
`

func collectStaged(rows *sql.Rows) ([]ir.StagedEntity, error) {
	defer rows.Close()

	staged := []ir.StagedEntity{}
	for rows.Next() {
		var se ir.StagedEntity
		var id, system, typ, data, checksum string
		var dateStaged int64
		var promoted sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&id, &system, &typ, &dateStaged, &data, &checksum, &promoted, &reason); err != nil {
			return nil, fmt.Errorf("scan staged entity: %w", err)
		}
		se.ID = ir.StagedID(id)
		se.System = ir.SystemName(system)
		se.SystemEntityType = ir.SystemEntityTypeName(typ)
		se.DateStaged = fromNanos(dateStaged)
		se.Data = data
		se.Checksum = ir.Checksum(checksum)
		se.DatePromoted = fromNullNanos(promoted)
		se.IgnoreReason = fromNullString(reason)
		staged = append(staged, se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged entities: %w", err)
	}
	return staged, nil
}
