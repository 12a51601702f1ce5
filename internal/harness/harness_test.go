package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: d
systems: [{name: crm}]
flow:
  - put: { system: crm, id: a1, name: Ann, email: ann@example.com }
  - run: crm/Read
    expect:
      message: "read 5, staged 5"
      counts: { read: 5 }
assertions:
  - { type: trace_count, function: crm/Read, count: 1 }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `expected message "read 5, staged 5", got "read 1, staged 1"`)
	assert.Contains(t, result.Errors[1], "expected read 5, got 1")
}

func TestRun_UnknownCountKey(t *testing.T) {
	s := mustParse(t, `
name: unknown_count
description: d
systems: [{name: crm}]
flow:
  - run: crm/Read
    expect:
      counts: { fetched: 0 }
assertions:
  - { type: trace_count, function: crm/Read, count: 1 }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `unknown count "fetched"`)
}

func TestRun_EmptyReadMovesOn(t *testing.T) {
	s := mustParse(t, `
name: empty
description: d
systems: [{name: crm}]
flow:
  - run: crm/Read
    expect:
      outcome: Success
      message: "read 0, staged 0"
  - run: crm/Write
    expect:
      message: "nothing to write"
assertions:
  - { type: trace_order, functions: [crm/Read, crm/Write] }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Equal(t, "contact", result.Trace[1].Object)
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	s := mustParse(t, `
name: wrong_state
description: d
systems: [{name: crm}]
flow:
  - put: { system: crm, id: a1, name: Ann, email: ann@example.com }
  - run: crm/Read
  - run: crm/Promote
assertions:
  - type: system_record
    system: crm
    id: a1
    expect: { name: Bob }
  - type: final_state
    table: core_entities
    where: { core_id: core-9 }
    expect: { system: crm }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "system_record")
	assert.Contains(t, result.Errors[1], "row not found")
}

func TestRun_PutStampsClock(t *testing.T) {
	s := mustParse(t, `
name: stamps
description: d
systems: [{name: crm}]
flow:
  - put: { system: crm, id: a1, name: Ann, email: ann@example.com }
  - advance: 1h
  - put: { system: crm, id: a2, name: Bob, email: bob@example.com }
assertions:
  - type: system_record
    system: crm
    id: a1
    expect: { updated: "2024-01-01T00:00:00Z" }
  - type: system_record
    system: crm
    id: a2
    expect: { updated: "2024-01-01T01:00:01Z" }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestCheckExpect_Errors(t *testing.T) {
	events := []TraceEvent{{Type: EventRun, Function: "crm/Read", Error: "boom"}}

	errs := checkExpect("crm/Read", &ExpectClause{Error: "boom"}, events, assert.AnError)
	require.Len(t, errs, 1, "error text must contain the expected substring")
	assert.Contains(t, errs[0], "expected error containing")

	errs = checkExpect("crm/Read", &ExpectClause{Error: "assert.AnError"}, events, assert.AnError)
	assert.Empty(t, errs)

	errs = checkExpect("crm/Read", &ExpectClause{Outcome: "Success"}, events, assert.AnError)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "crm/Read failed")

	errs = checkExpect("crm/Read", &ExpectClause{Error: "boom"}, nil, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "got none")
}
