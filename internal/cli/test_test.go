package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One contact is read and promoted"
systems:
  - name: crm
flow:
  - put: { system: crm, id: a1, name: Ann, email: ann@example.com }
  - run: crm/Read
    expect:
      message: "read 1, staged 1"
  - run: crm/Promote
assertions:
  - type: trace_count
    function: crm/Read
    count: 1
  - type: final_state
    table: core_entities
    where: { core_id: core-1 }
    expect: { system: crm, system_id: a1 }
`

const failingScenario = `
name: failing
description: "Expects a read that never happens"
systems:
  - name: crm
flow:
  - run: crm/Read
assertions:
  - type: trace_count
    function: crm/Read
    count: 2
`

func writeScenario(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestTest_PassesAndUpdatesGolden(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	writeScenario(t, dir, "minimal.yaml", minimalScenario)

	out, err := env.execute("test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 minimal\n")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.NoFileExists(t, filepath.Join(dir, "golden", "minimal.golden"))

	out, err = env.execute("test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 minimal (golden updated)")
	golden, err := os.ReadFile(filepath.Join(dir, "golden", "minimal.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `{"scenario":"minimal"}`)

	_, err = env.execute("test", dir)
	require.NoError(t, err, "the trace matches the fresh golden file")
}

func TestTest_GoldenMismatch(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	writeScenario(t, dir, "minimal.yaml", minimalScenario)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "minimal.golden"), []byte("{}\n"), 0o644))

	out, err := env.execute("test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "\u2717 minimal")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_FailingScenarioJSON(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	writeScenario(t, dir, "minimal.yaml", minimalScenario)
	writeScenario(t, dir, "failing.yaml", failingScenario)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	out, err := env.execute("--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "failing", resp.Data.Scenarios[0].Name, "scenarios run in file name order")
	assert.False(t, resp.Data.Scenarios[0].Pass)
	require.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTest_Filter(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	writeScenario(t, dir, "minimal.yaml", minimalScenario)
	writeScenario(t, dir, "failing.yaml", failingScenario)

	out, err := env.execute("test", dir, "--filter", "min*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")

	out, err = env.execute("test", dir, "--filter", "nothing*")
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)

	_, err = env.execute("test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_LoadError(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, err := env.execute("test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "\u2717 broken")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTest_MissingDir(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.execute("test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_HarnessScenarios(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.execute("test", "../harness/testdata/scenarios", "--golden-dir", "../harness/testdata/golden")
	require.NoError(t, err, out)
	assert.Contains(t, out, "\u2713 All scenarios passed")
}
