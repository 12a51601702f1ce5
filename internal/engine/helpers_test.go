package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/store"
	"github.com/roach88/coresync/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testSysContact is a contact as an external system serves it.
type testSysContact struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Updated time.Time `json:"updated"`
}

func (c testSysContact) SystemEntityID() ir.SystemID { return ir.SystemID(c.ID) }
func (c testSysContact) LastUpdatedDate() time.Time { return c.Updated }
func (c testSysContact) ChecksumSubset() ir.IRObject { return contactSubset(c.Name, c.Email) }

// testContact is the canonical contact.
type testContact struct {
	ir.CoreMeta `json:"meta"`
	Name        string `json:"name"`
	Email       string `json:"email"`
}

func (c testContact) Meta() ir.CoreMeta { return c.CoreMeta }

func (c testContact) WithMeta(m ir.CoreMeta) testContact {
	c.CoreMeta = m
	return c
}

func (c testContact) ChecksumSubset() ir.IRObject { return contactSubset(c.Name, c.Email) }

// leakyContact puts its CoreID in the checksum subset, which the engine
// must refuse when it has to rewrite ids.
type leakyContact struct {
	testContact
}

func (c leakyContact) WithMeta(m ir.CoreMeta) leakyContact {
	c.CoreMeta = m
	return c
}

func (c leakyContact) ChecksumSubset() ir.IRObject {
	subset := c.testContact.ChecksumSubset()
	subset["core_id"] = ir.IRString(c.CoreID)
	return subset
}

func contactSubset(name, email string) ir.IRObject {
	return ir.IRObject{
		"name":  ir.IRString(name),
		"email": ir.IRString(email),
	}
}

func evaluateContact(_ context.Context, in EvaluationInput[testSysContact, testContact]) Evaluation[testContact] {
	if in.Entity.Email == "" {
		return Ignore[testContact]("missing email")
	}
	return Promote(testContact{Name: in.Entity.Name, Email: in.Entity.Email})
}

func promoteContacts(bidirectional bool) *PromoteOperation[testSysContact, testContact] {
	return &PromoteOperation[testSysContact, testContact]{
		OperationConfig: OperationConfig{Object: "contact", Bidirectional: bidirectional},
		CoreType:        "contact",
		SystemCodec:     JSONCodec[testSysContact]{},
		CoreCodec:       JSONCodec[testContact]{},
		Evaluate:        evaluateContact,
	}
}

func convertContact(_ context.Context, in ConvertInput[testContact]) (testSysContact, error) {
	out := testSysContact{Name: in.Core.Name, Email: in.Core.Email, Updated: in.Core.DateUpdated}
	if in.Map != nil {
		out.ID = string(in.Map.SystemID)
	}
	return out, nil
}

// fakeSystem is an in-memory external system. It serves reads and
// accepts writes, assigning row ids to creates.
type fakeSystem struct {
	rows   map[ir.SystemID]testSysContact
	order  []ir.SystemID
	next   int
	calls  int
	err    error
	prefix string
}

func newFakeSystem(prefix string) *fakeSystem {
	return &fakeSystem{rows: make(map[ir.SystemID]testSysContact), prefix: prefix}
}

func (f *fakeSystem) put(c testSysContact) {
	id := c.SystemEntityID()
	if _, ok := f.rows[id]; !ok {
		f.order = append(f.order, id)
	}
	f.rows[id] = c
}

func (f *fakeSystem) read(_ context.Context, in ReadInput) (ReadOutput, error) {
	if f.err != nil {
		return ReadOutput{}, f.err
	}
	var out ReadOutput
	for _, id := range f.order {
		c := f.rows[id]
		if !c.Updated.After(in.Since) {
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			return ReadOutput{}, err
		}
		out.Payloads = append(out.Payloads, string(data))
		if c.Updated.After(out.LastUpdated) {
			out.LastUpdated = c.Updated
		}
	}
	return out, nil
}

func (f *fakeSystem) write(_ context.Context, in WriteInput[testContact, testSysContact]) (WriteOutput[testContact, testSysContact], error) {
	f.calls++
	if f.err != nil {
		return WriteOutput[testContact, testSysContact]{}, f.err
	}
	var out WriteOutput[testContact, testSysContact]
	for _, item := range in.Creates {
		f.next++
		item.Entity.ID = fmt.Sprintf("%s-%d", f.prefix, f.next)
		f.put(item.Entity)
		out.Created = append(out.Created, item)
	}
	for _, item := range in.Updates {
		f.put(item.Entity)
		out.Updated = append(out.Updated, item)
	}
	return out, nil
}

func readContacts(fs *fakeSystem) *ReadOperation {
	return &ReadOperation{
		OperationConfig: OperationConfig{Object: "contact"},
		Read:            fs.read,
	}
}

func writeContacts(fs *fakeSystem) *WriteOperation[testContact, testSysContact] {
	return &WriteOperation[testContact, testSysContact]{
		OperationConfig: OperationConfig{Object: "contact"},
		CoreCodec:       JSONCodec[testContact]{},
		Convert:         convertContact,
		Write:           fs.write,
	}
}

// testEnv is a store-backed set of repositories with deterministic
// core ids.
type testEnv struct {
	store  *store.Store
	stores Stores
	ids    *testutil.SequenceGenerator
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithIDGenerator(testutil.NewSequenceGenerator("staged")),
		store.WithNow(testutil.NewClock(t0).Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &testEnv{
		store:  st,
		stores: Stores{Ctl: st, Staged: st, Core: st, Tx: st},
		ids:    testutil.NewSequenceGenerator("core"),
	}
}

func (e *testEnv) runContext(system ir.SystemName, start time.Time, checkpoint time.Time) RunContext {
	return RunContext{
		System: system,
		Start:  start,
		State:  ir.ObjectState{System: system, Object: "contact", Active: true, Checkpoint: checkpoint},
		Stores: e.stores,
		IDs:    e.ids,
	}
}

func (e *testEnv) stage(t *testing.T, system ir.SystemName, at time.Time, contacts ...testSysContact) {
	t.Helper()
	payloads := make([]string, len(contacts))
	for i, c := range contacts {
		data, err := json.Marshal(c)
		require.NoError(t, err)
		payloads[i] = string(data)
	}
	staged, err := e.store.Stage(context.Background(), at, system, "contact", payloads)
	require.NoError(t, err)
	require.Len(t, staged, len(contacts))
}

// seedCore stores a core contact with a correct checksum.
func (e *testEnv) seedCore(t *testing.T, c testContact) {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	rec := ir.CoreRecord{
		Type:     "contact",
		Meta:     c.Meta(),
		Checksum: ir.MustCoreChecksum(c.ChecksumSubset()),
		Data:     data,
	}
	require.NoError(t, e.store.Upsert(context.Background(), "contact", []ir.CoreRecord{rec}))
}

func (e *testEnv) seedMap(t *testing.T, system ir.SystemName, coreID ir.CoreID, sysID ir.SystemID, subset ir.IRObject) {
	t.Helper()
	m := ir.NewMap(system, "contact", coreID, sysID, ir.MustSystemChecksum(subset), t0)
	_, err := e.store.CreateSysMaps(context.Background(), system, "contact", []ir.Map{m})
	require.NoError(t, err)
}

func (e *testEnv) cores(t *testing.T) []testContact {
	t.Helper()
	records, err := e.store.ListCoreEntities(context.Background(), "contact")
	require.NoError(t, err)
	out := make([]testContact, len(records))
	for i, rec := range records {
		c, err := JSONCodec[testContact]{}.Decode(rec.Data)
		require.NoError(t, err)
		out[i] = c.WithMeta(rec.Meta)
	}
	return out
}

func (e *testEnv) mapFor(t *testing.T, system ir.SystemName, coreID ir.CoreID) (ir.Map, bool) {
	t.Helper()
	maps, err := e.store.GetExistingMapsFromCoreIDs(context.Background(), system, "contact", []ir.CoreID{coreID})
	require.NoError(t, err)
	if len(maps) == 0 {
		return ir.Map{}, false
	}
	return maps[0], true
}

func (e *testEnv) staged(t *testing.T, system ir.SystemName) []ir.StagedEntity {
	t.Helper()
	all, err := e.store.ListStagedBefore(context.Background(), t0.Add(365*24*time.Hour), system, "contact")
	require.NoError(t, err)
	return all
}

// hideFirstMapLookup hides every map from the first GetMapsFromSystemIDs
// call, as if the maps were created by a concurrent run right after it.
type hideFirstMapLookup struct {
	CtlRepository
	called bool
}

func (h *hideFirstMapLookup) GetMapsFromSystemIDs(ctx context.Context, system ir.SystemName, coreType ir.CoreEntityTypeName, ids []ir.SystemID) ([]ir.Map, error) {
	if !h.called {
		h.called = true
		return []ir.Map{}, nil
	}
	return h.CtlRepository.GetMapsFromSystemIDs(ctx, system, coreType, ids)
}

// failingCreateMaps fails every CreateSysMaps call.
type failingCreateMaps struct {
	CtlRepository
}

func (failingCreateMaps) CreateSysMaps(context.Context, ir.SystemName, ir.CoreEntityTypeName, []ir.Map) ([]ir.Map, error) {
	return nil, fmt.Errorf("disk full")
}
