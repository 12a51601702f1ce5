package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/sample"
)

// Record is a contact as an in-memory system serves it.
type Record struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Phone   string    `json:"phone,omitempty"`
	Updated time.Time `json:"updated"`
}

func (r Record) SystemEntityID() ir.SystemID { return ir.SystemID(r.ID) }
func (r Record) LastUpdatedDate() time.Time { return r.Updated }
func (r Record) ChecksumSubset() ir.IRObject { return sample.ContactSubset(r.Name, r.Email, r.Phone) }
func (r Record) ContactFields() (string, string, string) { return r.Name, r.Email, r.Phone }

// fields flattens the record for system_record assertions.
func (r Record) fields() map[string]any {
	return map[string]any{
		"id":      r.ID,
		"name":    r.Name,
		"email":   r.Email,
		"phone":   r.Phone,
		"updated": r.Updated.UTC().Format(time.RFC3339Nano),
	}
}

// memorySystem keeps records in insertion order. Rows created by Write
// are named "<system>-N".
type memorySystem struct {
	name  ir.SystemName
	spec  SystemSpec
	rows  map[string]Record
	order []string
	next  int
}

func newMemorySystem(spec SystemSpec) *memorySystem {
	return &memorySystem{
		name: ir.SystemName(spec.Name),
		spec: spec,
		rows: make(map[string]Record),
	}
}

func (m *memorySystem) put(r Record) {
	if _, ok := m.rows[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.rows[r.ID] = r
}

func (m *memorySystem) record(id string) (Record, bool) {
	r, ok := m.rows[id]
	return r, ok
}

func (m *memorySystem) read(_ context.Context, in engine.ReadInput) (engine.ReadOutput, error) {
	var out engine.ReadOutput
	for _, id := range m.order {
		r := m.rows[id]
		if !r.Updated.After(in.Since) {
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return engine.ReadOutput{}, fmt.Errorf("encode %s: %w", id, err)
		}
		out.Payloads = append(out.Payloads, string(data))
		if r.Updated.After(out.LastUpdated) {
			out.LastUpdated = r.Updated
		}
	}
	return out, nil
}

func (m *memorySystem) write(_ context.Context, in engine.WriteInput[sample.Contact, Record]) (engine.WriteOutput[sample.Contact, Record], error) {
	var out engine.WriteOutput[sample.Contact, Record]
	for _, item := range in.Updates {
		if _, ok := m.rows[item.Entity.ID]; !ok {
			return engine.WriteOutput[sample.Contact, Record]{}, fmt.Errorf("update %s: no such record", item.Entity.ID)
		}
		m.put(item.Entity)
		out.Updated = append(out.Updated, item)
	}
	for _, item := range in.Creates {
		m.next++
		item.Entity.ID = fmt.Sprintf("%s-%d", m.name, m.next)
		m.put(item.Entity)
		out.Created = append(out.Created, item)
	}
	return out, nil
}

func convertRecord(_ context.Context, in engine.ConvertInput[sample.Contact]) (Record, error) {
	r := Record{
		Name:    in.Core.Name,
		Email:   in.Core.Email,
		Phone:   in.Core.Phone,
		Updated: in.Core.DateUpdated,
	}
	if in.Map != nil {
		r.ID = string(in.Map.SystemID)
	}
	return r, nil
}

// functions builds the system's Read, Promote and Write functions.
func (m *memorySystem) functions() map[ir.LifecycleStage]engine.Function {
	base := engine.OperationConfig{Object: sample.ContactType}
	promote := base
	promote.Bidirectional = m.spec.Bidirectional

	return map[ir.LifecycleStage]engine.Function{
		ir.StageRead: {
			System:     m.name,
			Stage:      ir.StageRead,
			Operations: []engine.Operation{&engine.ReadOperation{OperationConfig: base, Read: m.read}},
		},
		ir.StagePromote: {
			System: m.name,
			Stage:  ir.StagePromote,
			Operations: []engine.Operation{&engine.PromoteOperation[Record, sample.Contact]{
				OperationConfig: promote,
				CoreType:        sample.ContactType,
				SystemCodec:     engine.JSONCodec[Record]{},
				CoreCodec:       engine.JSONCodec[sample.Contact]{},
				Evaluate:        sample.EvaluateContact[Record],
			}},
		},
		ir.StageWrite: {
			System: m.name,
			Stage:  ir.StageWrite,
			Operations: []engine.Operation{&engine.WriteOperation[sample.Contact, Record]{
				OperationConfig: base,
				CoreCodec:       engine.JSONCodec[sample.Contact]{},
				Convert:         convertRecord,
				Write:           m.write,
			}},
		},
	}
}
