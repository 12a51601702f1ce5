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

// GetOrCreateSystemState returns the state of (system, stage), creating an
// active idle state on first use.
func (s *Store) GetOrCreateSystemState(ctx context.Context, system ir.SystemName, stage ir.LifecycleStage) (ir.SystemState, error) {
	fresh := ir.NewSystemState(system, stage, s.now())
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO system_states (system, stage, active, status, date_created, date_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(system, stage) DO NOTHING
	`,
		string(system),
		string(stage),
		boolInt(fresh.Active),
		string(fresh.Status),
		nanos(fresh.DateCreated),
		nanos(fresh.DateUpdated),
	)
	if err != nil {
		return ir.SystemState{}, fmt.Errorf("create system state: %w", err)
	}

	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT system, stage, active, status, date_created, date_updated, last_started, last_completed
		FROM system_states
		WHERE system = ? AND stage = ?
	`, string(system), string(stage))
	ss, err := scanSystemState(row)
	if err != nil {
		return ir.SystemState{}, fmt.Errorf("read system state: %w", err)
	}
	return ss, nil
}

// SaveSystemState overwrites a system state. The state must exist.
func (s *Store) SaveSystemState(ctx context.Context, ss ir.SystemState) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE system_states
		SET active = ?, status = ?, date_updated = ?, last_started = ?, last_completed = ?
		WHERE system = ? AND stage = ?
	`,
		boolInt(ss.Active),
		string(ss.Status),
		nanos(ss.DateUpdated),
		nullNanos(ss.LastStarted),
		nullNanos(ss.LastCompleted),
		string(ss.System),
		string(ss.Stage),
	)
	if err != nil {
		return fmt.Errorf("save system state: %w", err)
	}
	return expectRows(res, 1, "save system state %s/%s", ss.System, ss.Stage)
}

// ListSystemStates returns every system state ordered by system and stage.
func (s *Store) ListSystemStates(ctx context.Context) ([]ir.SystemState, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT system, stage, active, status, date_created, date_updated, last_started, last_completed
		FROM system_states
		ORDER BY system COLLATE BINARY ASC, stage COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query system states: %w", err)
	}
	defer rows.Close()

	states := []ir.SystemState{}
	for rows.Next() {
		ss, err := scanSystemState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system states: %w", err)
	}
	return states, nil
}

// SetSystemActive turns a (system, stage) on or off.
func (s *Store) SetSystemActive(ctx context.Context, system ir.SystemName, stage ir.LifecycleStage, active bool) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE system_states SET active = ?, date_updated = ? WHERE system = ? AND stage = ?
	`, boolInt(active), nanos(s.now()), string(system), string(stage))
	if err != nil {
		return fmt.Errorf("set system active: %w", err)
	}
	return expectRows(res, 1, "set system active %s/%s", system, stage)
}

// GetOrCreateObjectState returns the state of one operation, creating it
// with firstCheckpoint on first use.
func (s *Store) GetOrCreateObjectState(ctx context.Context, ss ir.SystemState, object ir.ObjectName, firstCheckpoint time.Time) (ir.ObjectState, error) {
	fresh := ir.NewObjectState(ss, object, firstCheckpoint, s.now())
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO object_states
		(system, stage, object, active, checkpoint, date_created, date_updated, last_result, last_abort_vote)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(system, stage, object) DO NOTHING
	`,
		string(fresh.System),
		string(fresh.Stage),
		string(fresh.Object),
		boolInt(fresh.Active),
		nanos(fresh.Checkpoint),
		nanos(fresh.DateCreated),
		nanos(fresh.DateUpdated),
		string(fresh.LastResult),
		string(fresh.LastAbortVote),
	)
	if err != nil {
		return ir.ObjectState{}, fmt.Errorf("create object state: %w", err)
	}

	row := s.conn(ctx).QueryRowContext(ctx, objectStateSelect+`
		WHERE system = ? AND stage = ? AND object = ?
	`, string(ss.System), string(ss.Stage), string(object))
	os, err := scanObjectState(row)
	if err != nil {
		return ir.ObjectState{}, fmt.Errorf("read object state: %w", err)
	}
	return os, nil
}

// SaveObjectState overwrites an object state. The state must exist.
func (s *Store) SaveObjectState(ctx context.Context, os ir.ObjectState) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE object_states
		SET active = ?, checkpoint = ?, checkpoint_key = ?, date_updated = ?,
		    last_start = ?, last_completed = ?, last_success_start = ?, last_success_completed = ?,
		    last_result = ?, last_abort_vote = ?, last_run_message = ?, last_run_exception = ?
		WHERE system = ? AND stage = ? AND object = ?
	`,
		boolInt(os.Active),
		nanos(os.Checkpoint),
		os.CheckpointKey,
		nanos(os.DateUpdated),
		nullNanos(os.LastStart),
		nullNanos(os.LastCompleted),
		nullNanos(os.LastSuccessStart),
		nullNanos(os.LastSuccessCompleted),
		string(os.LastResult),
		string(os.LastAbortVote),
		emptyToNull(os.LastRunMessage),
		emptyToNull(os.LastRunException),
		string(os.System),
		string(os.Stage),
		string(os.Object),
	)
	if err != nil {
		return fmt.Errorf("save object state: %w", err)
	}
	return expectRows(res, 1, "save object state %s/%s/%s", os.System, os.Stage, os.Object)
}

// ListObjectStates returns every object state ordered by system, stage
// and object.
func (s *Store) ListObjectStates(ctx context.Context) ([]ir.ObjectState, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, objectStateSelect+`
		ORDER BY system COLLATE BINARY ASC, stage COLLATE BINARY ASC, object COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query object states: %w", err)
	}
	defer rows.Close()

	states := []ir.ObjectState{}
	for rows.Next() {
		os, err := scanObjectState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, os)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate object states: %w", err)
	}
	return states, nil
}

const objectStateSelect = `
	SELECT system, stage, object, active, checkpoint, checkpoint_key, date_created, date_updated,
	       last_start, last_completed, last_success_start, last_success_completed,
	       last_result, last_abort_vote, last_run_message, last_run_exception
	FROM object_states
`

// CreateSysMaps inserts a batch of new maps atomically. A map whose core
// id or system id is already mapped fails the whole batch.
func (s *Store) CreateSysMaps(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, maps []ir.Map) ([]ir.Map, error) {
	if err := ir.ValidateMapBatch(system, coreType, maps); err != nil {
		return nil, fmt.Errorf("create maps: %w", err)
	}

	err := s.InTx(ctx, func(ctx context.Context) error {
		var inserted int64
		for _, m := range maps {
			res, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO maps
				(system, core_entity_type, core_id, system_id, system_entity_checksum, date_created, date_updated)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`,
				string(m.System),
				string(m.CoreEntityType),
				string(m.CoreID),
				string(m.SystemID),
				string(m.SystemEntityChecksum),
				nanos(m.DateCreated),
				nanos(m.DateUpdated),
			)
			if err != nil {
				return fmt.Errorf("insert map: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += n
		}
		if inserted != int64(len(maps)) {
			return ir.NewValidationError(ir.ErrCodeDuplicateKey,
				"created %d of %d %s/%s maps; the rest are already mapped", inserted, len(maps), system, coreType)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create maps: %w", err)
	}
	return maps, nil
}

// UpdateSysMaps stores new system checksums for existing maps atomically.
// Every map in the batch must exist.
func (s *Store) UpdateSysMaps(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, maps []ir.Map) ([]ir.Map, error) {
	if err := ir.ValidateMapBatch(system, coreType, maps); err != nil {
		return nil, fmt.Errorf("update maps: %w", err)
	}

	err := s.InTx(ctx, func(ctx context.Context) error {
		var updated int64
		for _, m := range maps {
			res, err := s.conn(ctx).ExecContext(ctx, `
				UPDATE maps
				SET system_entity_checksum = ?, date_updated = ?
				WHERE system = ? AND core_entity_type = ? AND core_id = ? AND system_id = ?
			`,
				string(m.SystemEntityChecksum),
				nanos(m.DateUpdated),
				string(m.System),
				string(m.CoreEntityType),
				string(m.CoreID),
				string(m.SystemID),
			)
			if err != nil {
				return fmt.Errorf("update map: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			updated += n
		}
		if updated != int64(len(maps)) {
			return ir.NewValidationError(ir.ErrCodeBatchMismatch,
				"updated %d of %d %s/%s maps", updated, len(maps), system, coreType)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update maps: %w", err)
	}
	return maps, nil
}

// GetNewAndExistingMapsFromCores splits coreIDs into those with no map in
// system, in input order, and the maps of the rest.
func (s *Store) GetNewAndExistingMapsFromCores(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID) ([]ir.CoreID, []ir.Map, error) {
	existing, err := s.GetExistingMapsFromCoreIDs(ctx, system, coreType, coreIDs)
	if err != nil {
		return nil, nil, err
	}
	mapped := make(map[ir.CoreID]bool, len(existing))
	for _, m := range existing {
		mapped[m.CoreID] = true
	}
	missing := []ir.CoreID{}
	for _, id := range coreIDs {
		if !mapped[id] {
			missing = append(missing, id)
		}
	}
	return missing, existing, nil
}

// GetExistingMapsFromCoreIDs returns the maps of the given core ids in
// system. Unmapped ids are left out.
func (s *Store) GetExistingMapsFromCoreIDs(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID) ([]ir.Map, error) {
	return s.queryMaps(ctx, system, coreType, "core_id", stringArgs(coreIDs))
}

// GetMapsFromSystemIDs returns the maps of the given system ids.
// Unmapped ids are left out.
func (s *Store) GetMapsFromSystemIDs(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, ids []ir.SystemID) ([]ir.Map, error) {
	return s.queryMaps(ctx, system, coreType, "system_id", stringArgs(ids))
}

// queryMaps selects maps where column is one of ids, ordered by core id.
// column is one of the two id columns, never user input.
func (s *Store) queryMaps(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, column string, ids []any) ([]ir.Map, error) {
	maps := []ir.Map{}
	for _, chunk := range chunks(ids) {
		query := fmt.Sprintf(`
			SELECT system, core_entity_type, core_id, system_id, system_entity_checksum, date_created, date_updated
			FROM maps
			WHERE system = ? AND core_entity_type = ? AND %s IN (%s)
		`, column, placeholders(len(chunk)))
		args := append([]any{string(system), string(coreType)}, chunk...)

		got, err := s.scanMaps(ctx, query, args)
		if err != nil {
			return nil, err
		}
		maps = append(maps, got...)
	}
	slices.SortFunc(maps, func(a, b ir.Map) int {
		return strings.Compare(string(a.CoreID), string(b.CoreID))
	})
	return maps, nil
}

func (s *Store) scanMaps(ctx context.Context, query string, args []any) ([]ir.Map, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query maps: %w", err)
	}
	defer rows.Close()

	var maps []ir.Map
	for rows.Next() {
		var m ir.Map
		var sys, typ, coreID, sysID, checksum string
		var created, updated int64
		if err := rows.Scan(&sys, &typ, &coreID, &sysID, &checksum, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		m.System = ir.SystemName(sys)
		m.CoreEntityType = ir.CoreEntityTypeName(typ)
		m.CoreID = ir.CoreID(coreID)
		m.SystemID = ir.SystemID(sysID)
		m.SystemEntityChecksum = ir.Checksum(checksum)
		m.DateCreated = fromNanos(created)
		m.DateUpdated = fromNanos(updated)
		maps = append(maps, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maps: %w", err)
	}
	return maps, nil
}

// GetRelatedSystemIDsFromCores resolves core ids of coreType to their ids
// in system. With mandatory set, any unmapped id is an
// *ir.MissingRelationError.
func (s *Store) GetRelatedSystemIDsFromCores(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, coreIDs []ir.CoreID, mandatory bool) (map[ir.CoreID]ir.SystemID, error) {
	maps, err := s.GetExistingMapsFromCoreIDs(ctx, system, coreType, coreIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[ir.CoreID]ir.SystemID, len(maps))
	for _, m := range maps {
		out[m.CoreID] = m.SystemID
	}
	if mandatory {
		var missing []string
		for _, id := range coreIDs {
			if _, ok := out[id]; !ok {
				missing = append(missing, string(id))
			}
		}
		if len(missing) > 0 {
			return nil, &ir.MissingRelationError{System: system, CoreType: coreType, Missing: missing}
		}
	}
	return out, nil
}

// GetRelatedCoreIDsFromSystemIDs resolves system ids to core ids of
// coreType. With mandatory set, any unmapped id is an
// *ir.MissingRelationError.
func (s *Store) GetRelatedCoreIDsFromSystemIDs(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, ids []ir.SystemID, mandatory bool) (map[ir.SystemID]ir.CoreID, error) {
	maps, err := s.GetMapsFromSystemIDs(ctx, system, coreType, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[ir.SystemID]ir.CoreID, len(maps))
	for _, m := range maps {
		out[m.SystemID] = m.CoreID
	}
	if mandatory {
		var missing []string
		for _, id := range ids {
			if _, ok := out[id]; !ok {
				missing = append(missing, string(id))
			}
		}
		if len(missing) > 0 {
			return nil, &ir.MissingRelationError{System: system, CoreType: coreType, Missing: missing}
		}
	}
	return out, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSystemState(row rowScanner) (ir.SystemState, error) {
	var ss ir.SystemState
	var system, stage, status string
	var active int
	var created, updated int64
	var started, completed sql.NullInt64
	if err := row.Scan(&system, &stage, &active, &status, &created, &updated, &started, &completed); err != nil {
		return ir.SystemState{}, fmt.Errorf("scan system state: %w", err)
	}
	ss.System = ir.SystemName(system)
	ss.Stage = ir.LifecycleStage(stage)
	ss.Active = active != 0
	ss.Status = ir.SystemStatus(status)
	ss.DateCreated = fromNanos(created)
	ss.DateUpdated = fromNanos(updated)
	ss.LastStarted = fromNullNanos(started)
	ss.LastCompleted = fromNullNanos(completed)
	return ss, nil
}

func scanObjectState(row rowScanner) (ir.ObjectState, error) {
	var os ir.ObjectState
	var system, stage, object, checkpointKey, result, vote string
	var active int
	var checkpoint, created, updated int64
	var start, completed, successStart, successCompleted sql.NullInt64
	var message, exception sql.NullString
	if err := row.Scan(
		&system, &stage, &object, &active, &checkpoint, &checkpointKey, &created, &updated,
		&start, &completed, &successStart, &successCompleted,
		&result, &vote, &message, &exception,
	); err != nil {
		return ir.ObjectState{}, fmt.Errorf("scan object state: %w", err)
	}
	os.System = ir.SystemName(system)
	os.Stage = ir.LifecycleStage(stage)
	os.Object = ir.ObjectName(object)
	os.Active = active != 0
	os.Checkpoint = fromNanos(checkpoint)
	os.CheckpointKey = checkpointKey
	os.DateCreated = fromNanos(created)
	os.DateUpdated = fromNanos(updated)
	os.LastStart = fromNullNanos(start)
	os.LastCompleted = fromNullNanos(completed)
	os.LastSuccessStart = fromNullNanos(successStart)
	os.LastSuccessCompleted = fromNullNanos(successCompleted)
	os.LastResult = ir.OperationResult(result)
	os.LastAbortVote = ir.AbortVote(vote)
	os.LastRunMessage = message.String
	os.LastRunException = exception.String
	return os, nil
}

// expectRows fails with a BATCH_MISMATCH validation error when res did
// not touch exactly want rows.
func expectRows(res sql.Result, want int64, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != want {
		return ir.NewValidationError(ir.ErrCodeBatchMismatch, "%s: %d rows affected, want %d", fmt.Sprintf(format, args...), n, want)
	}
	return nil
}
