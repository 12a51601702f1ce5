package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir with sequential
// staged ids and a clock fixed at t0.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithIDGenerator(testutil.NewSequenceGenerator("staged")),
		WithNow(testutil.NewClock(t0).Now),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMap(coreID, sysID string) ir.Map {
	return ir.NewMap("crm", "contact", ir.CoreID(coreID), ir.SystemID(sysID), ir.Checksum("sum-"+sysID), t0)
}

func testCore(coreID, system string, updated time.Time) ir.CoreRecord {
	return ir.CoreRecord{
		Type: "contact",
		Meta: ir.CoreMeta{
			CoreID:           ir.CoreID(coreID),
			SystemID:         ir.SystemID("s-" + coreID),
			System:           ir.SystemName(system),
			LastUpdateSystem: ir.SystemName(system),
			DateCreated:      t0,
			DateUpdated:      updated,
		},
		Checksum: ir.Checksum("c-" + coreID),
		Data:     []byte(`{"name":"` + coreID + `"}`),
	}
}
