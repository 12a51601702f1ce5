package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: minimal
description: "One contact is read"
systems:
  - name: crm
flow:
  - put: { system: crm, id: a1, name: Ann, email: ann@example.com }
  - run: crm/Read
assertions:
  - type: trace_count
    function: crm/Read
    count: 1
`

func TestLoadScenario_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Systems, 1)
	require.Len(t, s.Flow, 2)
	assert.Equal(t, "a1", s.Flow[0].Put.ID)
	assert.Equal(t, "crm/Read", s.Flow[1].Run)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(validScenario + "\nflow_token: abc\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no description",
			yaml: `
name: x
systems: [{name: crm}]
flow: [{run: crm/Read}]
assertions: [{type: trace_count, function: crm/Read, count: 1}]
`,
			want: "description is required",
		},
		{
			name: "duplicate system",
			yaml: `
name: x
description: d
systems: [{name: crm}, {name: crm}]
flow: [{run: crm/Read}]
assertions: [{type: trace_count, function: crm/Read, count: 1}]
`,
			want: `duplicate system "crm"`,
		},
		{
			name: "two actions in one step",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{run: crm/Read, advance: 1m}]
assertions: [{type: trace_count, function: crm/Read, count: 1}]
`,
			want: "exactly one of put, run or advance",
		},
		{
			name: "unknown stage",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{run: crm/Sync}]
assertions: [{type: trace_count, function: crm/Read, count: 1}]
`,
			want: "flow[0].run",
		},
		{
			name: "unknown system",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{put: {system: sheet, id: r1}}]
assertions: [{type: trace_count, function: crm/Read, count: 1}]
`,
			want: `unknown system "sheet"`,
		},
		{
			name: "negative advance",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{advance: -1m}]
assertions: [{type: trace_count, function: crm/Read, count: 1}]
`,
			want: "clock cannot go back",
		},
		{
			name: "expect on put",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{put: {system: crm, id: a1}, expect: {outcome: Success}}]
assertions: [{type: trace_count, function: crm/Read, count: 1}]
`,
			want: "expect is only valid on run steps",
		},
		{
			name: "unknown assertion",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{run: crm/Read}]
assertions: [{type: trace_matches}]
`,
			want: `unknown assertion type "trace_matches"`,
		},
		{
			name: "final_state without expect",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{run: crm/Read}]
assertions: [{type: final_state, table: maps}]
`,
			want: "expect is required for final_state",
		},
		{
			name: "system_record without id",
			yaml: `
name: x
description: d
systems: [{name: crm}]
flow: [{run: crm/Read}]
assertions: [{type: system_record, system: crm, expect: {name: Ann}}]
`,
			want: "id is required for system_record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSplitFunction(t *testing.T) {
	system, stage, err := splitFunction("crm/Promote")
	require.NoError(t, err)
	assert.Equal(t, "crm", string(system))
	assert.Equal(t, "Promote", string(stage))

	_, _, err = splitFunction("crm")
	assert.Error(t, err)
	_, _, err = splitFunction("/Read")
	assert.Error(t, err)
}
