package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coresync/internal/ir"
)

func TestSystemState_CreatedOnceThenSaved(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ss, err := s.GetOrCreateSystemState(ctx, "crm", ir.StageRead)
	require.NoError(t, err)
	assert.True(t, ss.Active)
	assert.Equal(t, ir.StatusIdle, ss.Status)
	assert.Equal(t, t0, ss.DateCreated)
	assert.Nil(t, ss.LastStarted)

	running := ss.Running(t0.Add(time.Minute))
	require.NoError(t, s.SaveSystemState(ctx, running))

	again, err := s.GetOrCreateSystemState(ctx, "crm", ir.StageRead)
	require.NoError(t, err)
	assert.Equal(t, running, again)
}

func TestSaveSystemState_MissingIsValidationError(t *testing.T) {
	s := createTestStore(t)
	err := s.SaveSystemState(context.Background(), ir.NewSystemState("nope", ir.StageRead, t0))
	require.Error(t, err)
	assert.True(t, ir.IsValidationError(err))
}

func TestSetSystemActive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateSystemState(ctx, "crm", ir.StageWrite)
	require.NoError(t, err)
	require.NoError(t, s.SetSystemActive(ctx, "crm", ir.StageWrite, false))

	ss, err := s.GetOrCreateSystemState(ctx, "crm", ir.StageWrite)
	require.NoError(t, err)
	assert.False(t, ss.Active)
}

func TestObjectState_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ss, err := s.GetOrCreateSystemState(ctx, "crm", ir.StagePromote)
	require.NoError(t, err)

	first := t0.Add(-24 * time.Hour)
	os, err := s.GetOrCreateObjectState(ctx, ss, "contact", first)
	require.NoError(t, err)
	assert.Equal(t, first, os.Checkpoint)
	assert.Equal(t, ir.ResultUnknown, os.LastResult)
	assert.Equal(t, ir.VoteContinue, os.LastAbortVote)

	start := t0.Add(time.Minute)
	end := start.Add(time.Second)
	os = os.Started(start).Finished(start, end, ir.ResultSuccess, ir.VoteContinue, "staged 1", "").AdvanceTo(start, "k7")
	require.NoError(t, s.SaveObjectState(ctx, os))

	// A later first checkpoint does not reset an existing state.
	again, err := s.GetOrCreateObjectState(ctx, ss, "contact", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, os, again)
	assert.Equal(t, start, again.Checkpoint)
	assert.Equal(t, "k7", again.CheckpointKey)
	require.NotNil(t, again.LastSuccessCompleted)
	assert.Equal(t, end, *again.LastSuccessCompleted)
}

func TestObjectState_ZeroFirstCheckpoint(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ss, err := s.GetOrCreateSystemState(ctx, "crm", ir.StageRead)
	require.NoError(t, err)
	os, err := s.GetOrCreateObjectState(ctx, ss, "contact", time.Time{})
	require.NoError(t, err)
	assert.True(t, os.Checkpoint.IsZero())
}

func TestListStates_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, sys := range []ir.SystemName{"sheet", "crm"} {
		ss, err := s.GetOrCreateSystemState(ctx, sys, ir.StageRead)
		require.NoError(t, err)
		_, err = s.GetOrCreateObjectState(ctx, ss, "b", time.Time{})
		require.NoError(t, err)
		_, err = s.GetOrCreateObjectState(ctx, ss, "a", time.Time{})
		require.NoError(t, err)
	}

	systems, err := s.ListSystemStates(ctx)
	require.NoError(t, err)
	require.Len(t, systems, 2)
	assert.Equal(t, ir.SystemName("crm"), systems[0].System)

	objects, err := s.ListObjectStates(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 4)
	assert.Equal(t, ir.ObjectName("a"), objects[0].Object)
	assert.Equal(t, ir.SystemName("sheet"), objects[3].System)
}

func TestCreateSysMaps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSysMaps(ctx, "crm", "contact", []ir.Map{testMap("k1", "s1"), testMap("k2", "s2")})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	maps, err := s.GetMapsFromSystemIDs(ctx, "crm", "contact", []ir.SystemID{"s2", "s1", "unknown"})
	require.NoError(t, err)
	require.Len(t, maps, 2)
	assert.Equal(t, testMap("k1", "s1"), maps[0])
}

func TestGetMapsFromSystemIDs_ManyIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := maxInArgs + 3
	maps := make([]ir.Map, n)
	ids := make([]ir.SystemID, n)
	for i := range maps {
		maps[i] = testMap(fmt.Sprintf("k%04d", n-i), fmt.Sprintf("s%04d", i))
		ids[i] = maps[i].SystemID
	}
	_, err := s.CreateSysMaps(ctx, "crm", "contact", maps)
	require.NoError(t, err)

	got, err := s.GetMapsFromSystemIDs(ctx, "crm", "contact", ids)
	require.NoError(t, err)
	require.Len(t, got, n)
	assert.Equal(t, ir.CoreID("k0001"), got[0].CoreID, "ordered by core id across chunks")
}

func TestCreateSysMaps_RejectsBadBatches(t *testing.T) {
	tests := []struct {
		name  string
		maps  []ir.Map
		code  ir.ErrorCode
		setup []ir.Map
	}{
		{"duplicate system id in batch", []ir.Map{testMap("k1", "s1"), testMap("k2", "s1")}, ir.ErrCodeDuplicateKey, nil},
		{"mixed type", []ir.Map{ir.NewMap("crm", "company", "k1", "s1", "c", t0)}, ir.ErrCodeMixedBatch, nil},
		{"core already mapped", []ir.Map{testMap("k2", "s2"), testMap("k1", "s3")}, ir.ErrCodeDuplicateKey, []ir.Map{testMap("k1", "s1")}},
		{"system id already mapped", []ir.Map{testMap("k9", "s1")}, ir.ErrCodeDuplicateKey, []ir.Map{testMap("k1", "s1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			ctx := context.Background()
			if tt.setup != nil {
				_, err := s.CreateSysMaps(ctx, "crm", "contact", tt.setup)
				require.NoError(t, err)
			}

			_, err := s.CreateSysMaps(ctx, "crm", "contact", tt.maps)
			require.Error(t, err)
			var ve *ir.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code)

			// Nothing from a failed batch is persisted.
			_, existing, err := s.GetNewAndExistingMapsFromCores(ctx, "crm", "contact", []ir.CoreID{"k2", "k9"})
			require.NoError(t, err)
			assert.Empty(t, existing)
		})
	}
}

func TestUpdateSysMaps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSysMaps(ctx, "crm", "contact", []ir.Map{testMap("k1", "s1")})
	require.NoError(t, err)

	later := t0.Add(time.Hour)
	updated := testMap("k1", "s1").Updated("new-sum", later)
	_, err = s.UpdateSysMaps(ctx, "crm", "contact", []ir.Map{updated})
	require.NoError(t, err)

	maps, err := s.GetExistingMapsFromCoreIDs(ctx, "crm", "contact", []ir.CoreID{"k1"})
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, ir.Checksum("new-sum"), maps[0].SystemEntityChecksum)
	assert.Equal(t, later, maps[0].DateUpdated)
	assert.Equal(t, t0, maps[0].DateCreated)
}

func TestUpdateSysMaps_MissingMapIsBatchMismatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSysMaps(ctx, "crm", "contact", []ir.Map{testMap("k1", "s1")})
	require.NoError(t, err)

	_, err = s.UpdateSysMaps(ctx, "crm", "contact", []ir.Map{
		testMap("k1", "s1").Updated("x", t0),
		testMap("k2", "s2").Updated("x", t0),
	})
	var ve *ir.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ir.ErrCodeBatchMismatch, ve.Code)

	// The first update was rolled back with the batch.
	maps, err := s.GetExistingMapsFromCoreIDs(ctx, "crm", "contact", []ir.CoreID{"k1"})
	require.NoError(t, err)
	assert.Equal(t, ir.Checksum("sum-s1"), maps[0].SystemEntityChecksum)
}

func TestGetNewAndExistingMapsFromCores(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSysMaps(ctx, "crm", "contact", []ir.Map{testMap("k2", "s2")})
	require.NoError(t, err)

	missing, existing, err := s.GetNewAndExistingMapsFromCores(ctx, "crm", "contact", []ir.CoreID{"k3", "k2", "k1"})
	require.NoError(t, err)
	assert.Equal(t, []ir.CoreID{"k3", "k1"}, missing)
	require.Len(t, existing, 1)
	assert.Equal(t, ir.CoreID("k2"), existing[0].CoreID)

	// Maps of other systems do not count.
	missing, existing, err = s.GetNewAndExistingMapsFromCores(ctx, "sheet", "contact", []ir.CoreID{"k2"})
	require.NoError(t, err)
	assert.Equal(t, []ir.CoreID{"k2"}, missing)
	assert.Empty(t, existing)
}

func TestRelatedLookups(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSysMaps(ctx, "crm", "contact", []ir.Map{testMap("k1", "s1")})
	require.NoError(t, err)

	sysIDs, err := s.GetRelatedSystemIDsFromCores(ctx, "crm", "contact", []ir.CoreID{"k1", "k2"}, false)
	require.NoError(t, err)
	assert.Equal(t, map[ir.CoreID]ir.SystemID{"k1": "s1"}, sysIDs)

	_, err = s.GetRelatedSystemIDsFromCores(ctx, "crm", "contact", []ir.CoreID{"k1", "k2"}, true)
	var me *ir.MissingRelationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, []string{"k2"}, me.Missing)

	coreIDs, err := s.GetRelatedCoreIDsFromSystemIDs(ctx, "crm", "contact", []ir.SystemID{"s1"}, true)
	require.NoError(t, err)
	assert.Equal(t, map[ir.SystemID]ir.CoreID{"s1": "k1"}, coreIDs)

	_, err = s.GetRelatedCoreIDsFromSystemIDs(ctx, "crm", "contact", []ir.SystemID{"s9"}, true)
	assert.True(t, ir.IsMissingRelation(err))
}
