package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coresync/internal/config"
	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/testutil"
)

var testEpoch = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// cliEnv is a config with two JSON drop folder systems, alpha and beta,
// over a database in a temp dir.
type cliEnv struct {
	root  string
	opts  *RootOptions
	clock *testutil.Clock
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	root := t.TempDir()
	clock := testutil.NewSteppingClock(testEpoch, time.Second)
	cfg := &config.Config{
		Database:      filepath.Join(root, "coresync.db"),
		PageSize:      engine.DefaultPageSize,
		StaleRunAfter: time.Hour,
		Log:           config.LogConfig{Level: "error", Format: "text"},
		Archive:       config.ArchiveConfig{Kind: config.ArchiveNone},
		Systems: map[string]config.SystemConfig{
			"alpha": {Kind: config.KindJSONFile, Path: filepath.Join(root, "alpha")},
			"beta":  {Kind: config.KindJSONFile, Path: filepath.Join(root, "beta")},
		},
	}
	return &cliEnv{
		root:  root,
		clock: clock,
		opts: &RootOptions{
			Config: cfg,
			Clock:  clock,
			IDs:    testutil.NewSequenceGenerator("id"),
		},
	}
}

// execute runs the command line and returns stdout.
func (e *cliEnv) execute(args ...string) (string, error) {
	return e.executeWithInput(nil, args...)
}

func (e *cliEnv) executeWithInput(in io.Reader, args ...string) (string, error) {
	cmd := newRootCommand(e.opts)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if in != nil {
		cmd.SetIn(in)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// put writes one contact document into a system's folder.
func (e *cliEnv) put(t *testing.T, system, file, doc string) {
	t.Helper()
	dir := filepath.Join(e.root, system)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(doc), 0o644))
}

func (e *cliEnv) files(t *testing.T, system string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(e.root, system, "*.json"))
	require.NoError(t, err)
	return matches
}

const annDoc = `{"id":"a1","name":"Ann","email":"ann@example.com","updated_at":"2024-01-01T00:00:00Z"}`

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "coresync", cmd.Use)
	assert.Equal(t, ir.Version, cmd.Version)
	assert.Contains(t, cmd.Long, "Read stages raw payloads")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "status", "pause", "resume", "stage", "purge", "validate", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	everyFlag := runCmd.Flags().Lookup("every")
	require.NotNil(t, everyFlag)
	assert.Equal(t, "0s", everyFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.execute("--format", "yaml", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestDBFlagOverridesConfig(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(env.root, "other.db")

	_, err := env.execute("--db", path, "status")
	require.NoError(t, err)
	assert.Equal(t, path, env.opts.Config.Database)
	assert.FileExists(t, path)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := newRootCommandWithArgs("--config", filepath.Join(t.TempDir(), "nope.yaml"), "status")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestConfigFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coresync.yaml")
	db := filepath.Join(dir, "from-file.db")
	yaml := strings.Join([]string{
		"database: " + db,
		"systems:",
		"  crm:",
		"    kind: jsonfile",
		"    path: " + filepath.Join(dir, "crm"),
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	out, err := newRootCommandWithArgs("--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration OK: 1 system(s), database "+db)
}

func newRootCommandWithArgs(args ...string) (string, error) {
	cmd := NewRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}
