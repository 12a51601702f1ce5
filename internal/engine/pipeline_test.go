package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/testutil"
)

// pipeline wires two fake systems, crm and sheet, through one store.
type pipeline struct {
	t      *testing.T
	env    *testEnv
	runner *Runner
	clock  *testutil.Clock
	crm    *fakeSystem
	sheet  *fakeSystem
	fns    map[string]Function
}

func newPipeline(t *testing.T) *pipeline {
	env := setupTestEnv(t)
	clock := testutil.NewSteppingClock(t0.Add(time.Minute), time.Second)
	p := &pipeline{
		t:      t,
		env:    env,
		runner: NewRunner(env.stores, WithClock(clock), WithIDGenerator(env.ids)),
		clock:  clock,
		crm:    newFakeSystem("a"),
		sheet:  newFakeSystem("row"),
	}
	p.fns = map[string]Function{
		"crm/Read":      {System: "crm", Stage: ir.StageRead, Operations: []Operation{readContacts(p.crm)}},
		"crm/Promote":   {System: "crm", Stage: ir.StagePromote, Operations: []Operation{promoteContacts(true)}},
		"crm/Write":     {System: "crm", Stage: ir.StageWrite, Operations: []Operation{writeContacts(p.crm)}},
		"sheet/Read":    {System: "sheet", Stage: ir.StageRead, Operations: []Operation{readContacts(p.sheet)}},
		"sheet/Promote": {System: "sheet", Stage: ir.StagePromote, Operations: []Operation{promoteContacts(true)}},
		"sheet/Write":   {System: "sheet", Stage: ir.StageWrite, Operations: []Operation{writeContacts(p.sheet)}},
	}
	return p
}

func (p *pipeline) run(name string) Result {
	p.t.Helper()
	results, err := p.runner.Run(context.Background(), p.fns[name])
	require.NoError(p.t, err, name)
	require.Len(p.t, results.Results, 1, name)
	res := results.Results[0]
	require.Equal(p.t, ir.ResultSuccess, res.Outcome, "%s: %s", name, res.Message)
	return res
}

func TestPipeline_RoundTripWithoutPingPong(t *testing.T) {
	p := newPipeline(t)
	p.crm.put(ann)
	p.crm.put(bob)

	// crm -> core -> sheet
	assert.Equal(t, Counts{Read: 2, Staged: 2}, p.run("crm/Read").Counts)
	assert.Equal(t, Counts{Created: 2}, p.run("crm/Promote").Counts)
	assert.Equal(t, Counts{Created: 2}, p.run("sheet/Write").Counts)
	require.Len(t, p.sheet.rows, 2)
	assert.Equal(t, "Ann", p.sheet.rows["row-1"].Name)

	// The sheet reads back what was just written: nothing changes.
	assert.Equal(t, Counts{Read: 2, Staged: 2}, p.run("sheet/Read").Counts)
	assert.Equal(t, Counts{Ignored: 2}, p.run("sheet/Promote").Counts)

	// An edit in the sheet flows to core and on to crm.
	edited := p.sheet.rows["row-1"]
	edited.Name = "Ann Sheet"
	edited.Updated = p.clock.Peek()
	p.sheet.put(edited)

	assert.Equal(t, Counts{Read: 1, Staged: 1}, p.run("sheet/Read").Counts)
	assert.Equal(t, Counts{Updated: 1}, p.run("sheet/Promote").Counts)

	cores := p.env.cores(t)
	require.Len(t, cores, 2)
	// Oldest update first: Bob is untouched, Ann was just edited.
	edit := cores[1]
	assert.Equal(t, ir.CoreID("core-1"), edit.CoreID)
	assert.Equal(t, "Ann Sheet", edit.Name)
	assert.Equal(t, ir.SystemName("crm"), edit.System, "origin is unchanged")
	assert.Equal(t, ir.SystemID("a1"), edit.SystemID)
	assert.Equal(t, ir.SystemName("sheet"), edit.LastUpdateSystem)

	assert.Equal(t, Counts{Updated: 1}, p.run("crm/Write").Counts)
	assert.Equal(t, "Ann Sheet", p.crm.rows["a1"].Name)
	assert.Equal(t, "nothing to write", p.run("sheet/Write").Message, "the sheet's own edit is not written back to it")

	// crm reads its updated row back; promotion sees no change.
	assert.Equal(t, Counts{Read: 1, Staged: 1}, p.run("crm/Read").Counts)
	assert.Equal(t, Counts{Ignored: 1}, p.run("crm/Promote").Counts)

	staged := p.env.staged(t, "crm")
	require.Len(t, staged, 3)
	assert.Equal(t, ReasonNoChange, reasonOf(staged[2]))
}
