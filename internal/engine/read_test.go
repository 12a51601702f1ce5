package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coresync/internal/ir"
)

func TestRead_StagesPayloads(t *testing.T) {
	env := setupTestEnv(t)
	crm := newFakeSystem("a")
	crm.put(ann)
	later := bob
	later.Updated = t0.Add(30 * time.Second)
	crm.put(later)
	start := t0.Add(time.Minute)

	res, err := readContacts(crm).Run(context.Background(), env.runContext("crm", start, time.Time{}))
	require.NoError(t, err)

	assert.Equal(t, ir.ResultSuccess, res.Outcome)
	assert.Equal(t, Counts{Read: 2, Staged: 2}, res.Counts)
	assert.Equal(t, "read 2, staged 2", res.Message)
	require.NotNil(t, res.Next)
	assert.WithinDuration(t, later.Updated, *res.Next, 0, "checkpoint moves to the newest update")

	staged := env.staged(t, "crm")
	require.Len(t, staged, 2)
	for _, se := range staged {
		assert.WithinDuration(t, start, se.DateStaged, 0)
		assert.False(t, se.Terminal())
	}
}

func TestRead_PassesCheckpointAsSince(t *testing.T) {
	env := setupTestEnv(t)
	var got ReadInput
	op := &ReadOperation{
		OperationConfig: OperationConfig{Object: "contact"},
		Read: func(_ context.Context, in ReadInput) (ReadOutput, error) {
			got = in
			return ReadOutput{}, nil
		},
	}

	checkpoint := t0.Add(-time.Hour)
	_, err := op.Run(context.Background(), env.runContext("crm", t0, checkpoint))
	require.NoError(t, err)

	assert.Equal(t, ir.SystemName("crm"), got.System)
	assert.Equal(t, ir.SystemEntityTypeName("contact"), got.Type)
	assert.WithinDuration(t, checkpoint, got.Since, 0)
	assert.WithinDuration(t, t0, got.Start, 0)
}

func TestRead_EmptyReadMovesCheckpointToStart(t *testing.T) {
	env := setupTestEnv(t)
	crm := newFakeSystem("a")

	res, err := readContacts(crm).Run(context.Background(), env.runContext("crm", t0, time.Time{}))
	require.NoError(t, err)

	assert.Equal(t, "read 0, staged 0", res.Message)
	require.NotNil(t, res.Next)
	assert.WithinDuration(t, t0, *res.Next, 0)
}

func TestRead_UnknownLastUpdatedUsesStart(t *testing.T) {
	env := setupTestEnv(t)
	op := &ReadOperation{
		OperationConfig: OperationConfig{Object: "contact"},
		Read: func(context.Context, ReadInput) (ReadOutput, error) {
			return ReadOutput{Payloads: []string{`{"id":"a1"}`}}, nil
		},
	}

	res, err := op.Run(context.Background(), env.runContext("crm", t0, time.Time{}))
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.WithinDuration(t, t0, *res.Next, 0)
}

func TestRead_RepeatedPayloadIsStagedOnce(t *testing.T) {
	env := setupTestEnv(t)
	crm := newFakeSystem("a")
	crm.put(ann)
	op := readContacts(crm)

	_, err := op.Run(context.Background(), env.runContext("crm", t0.Add(time.Minute), time.Time{}))
	require.NoError(t, err)

	// Same checkpoint again: the source returns the same payload.
	res, err := op.Run(context.Background(), env.runContext("crm", t0.Add(2*time.Minute), time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, Counts{Read: 1, Staged: 0}, res.Counts)
	assert.Equal(t, "read 1, staged 0", res.Message)
	assert.Len(t, env.staged(t, "crm"), 1)
}

func TestRead_ErrorBecomesErrorResult(t *testing.T) {
	env := setupTestEnv(t)
	crm := newFakeSystem("a")
	crm.err = errors.New("connection refused")

	res, err := readContacts(crm).Run(context.Background(), env.runContext("crm", t0, time.Time{}))
	require.NoError(t, err)

	assert.Equal(t, ir.ResultError, res.Outcome)
	assert.Equal(t, ir.VoteAbort, res.Vote)
	assert.Equal(t, "error: read: connection refused", res.Message)
	assert.Nil(t, res.Next)
	assert.Empty(t, env.staged(t, "crm"))
}

func TestRead_ErrorWithFailFast(t *testing.T) {
	env := setupTestEnv(t)
	crm := newFakeSystem("a")
	crm.err = errors.New("connection refused")

	rc := env.runContext("crm", t0, time.Time{})
	rc.FailFast = true
	_, err := readContacts(crm).Run(context.Background(), rc)

	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "read", he.Hook)
}
