package cli

import (
	"context"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/store"
	"github.com/roach88/coresync/internal/testutil"
)

// seedStatus creates one system state and its object state at testEpoch.
func seedStatus(t *testing.T, env *cliEnv) {
	t.Helper()
	st, err := store.Open(env.opts.Config.Database, store.WithNow(testutil.NewClock(testEpoch).Now))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	ss, err := st.GetOrCreateSystemState(ctx, "alpha", ir.StageRead)
	require.NoError(t, err)
	_, err = st.GetOrCreateObjectState(ctx, ss, "contact", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestStatus_Empty(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.execute("status")
	require.NoError(t, err)
	assert.Equal(t, "No functions have run yet.\n", out)
}

func TestStatus_Text(t *testing.T) {
	env := newCLIEnv(t)
	seedStatus(t, env)

	out, err := env.execute("status")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "status_text", []byte(out))
}

func TestStatus_JSON(t *testing.T) {
	env := newCLIEnv(t)
	seedStatus(t, env)

	out, err := env.execute("--format", "json", "status")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "status_json", []byte(out))
}

func TestStatus_AfterRun(t *testing.T) {
	env := newCLIEnv(t)
	env.put(t, "alpha", "a1.json", annDoc)

	_, err := env.execute("run", "alpha")
	require.NoError(t, err)

	out, err := env.execute("status")
	require.NoError(t, err)
	assert.Contains(t, out, "| SYSTEM | STAGE   | ACTIVE | STATUS |")
	assert.Contains(t, out, "| alpha  | Promote | yes    | Idle   |")
	assert.Contains(t, out, "read 1, staged 1")
	assert.NotContains(t, out, "beta")
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))
	zero := time.Time{}
	assert.Equal(t, "-", formatTime(&zero))
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-01-02T02:04:05Z", formatTime(&ts))
}
