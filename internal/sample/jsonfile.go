package sample

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
)

// Default field paths of a JSON drop folder.
const (
	DefaultIDPath      = "id"
	DefaultUpdatedPath = "updated_at"
)

// JSONRecord is a contact extracted from one JSON document.
type JSONRecord struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Updated time.Time
}

func (r JSONRecord) SystemEntityID() ir.SystemID { return ir.SystemID(r.ID) }
func (r JSONRecord) LastUpdatedDate() time.Time { return r.Updated }
func (r JSONRecord) ChecksumSubset() ir.IRObject { return ContactSubset(r.Name, r.Email, r.Phone) }
func (r JSONRecord) ContactFields() (string, string, string) { return r.Name, r.Email, r.Phone }

// JSONFileSystem is a folder of *.json files, each holding one contact
// object or an array of them. The id and update time are found with gjson
// paths so producers keep their own layout; name, email and phone are
// read from top-level fields of the same names.
//
// Documents are staged verbatim, so the checksum dedup sees exactly what
// the producer wrote.
type JSONFileSystem struct {
	dir         string
	idPath      string
	updatedPath string
	ids         engine.IDGenerator
}

// NewJSONFileSystem creates a JSONFileSystem over dir. Empty paths use
// DefaultIDPath and DefaultUpdatedPath; nil ids uses UUIDv7.
func NewJSONFileSystem(dir, idPath, updatedPath string, ids engine.IDGenerator) *JSONFileSystem {
	if idPath == "" {
		idPath = DefaultIDPath
	}
	if updatedPath == "" {
		updatedPath = DefaultUpdatedPath
	}
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}
	return &JSONFileSystem{dir: dir, idPath: idPath, updatedPath: updatedPath, ids: ids}
}

// Decode extracts a JSONRecord from one document.
func (s *JSONFileSystem) Decode(data []byte) (JSONRecord, error) {
	if !gjson.ValidBytes(data) {
		return JSONRecord{}, fmt.Errorf("invalid json")
	}
	id := gjson.GetBytes(data, s.idPath)
	if !id.Exists() || id.String() == "" {
		return JSONRecord{}, fmt.Errorf("no id at %q", s.idPath)
	}
	updated, err := parseUpdated(gjson.GetBytes(data, s.updatedPath))
	if err != nil {
		return JSONRecord{}, fmt.Errorf("%s: %w", s.updatedPath, err)
	}
	return JSONRecord{
		ID:      id.String(),
		Name:    gjson.GetBytes(data, "name").String(),
		Email:   gjson.GetBytes(data, "email").String(),
		Phone:   gjson.GetBytes(data, "phone").String(),
		Updated: updated,
	}, nil
}

// Encode lays r over base, keeping every field of base it does not set.
func (s *JSONFileSystem) Encode(base []byte, r JSONRecord) ([]byte, error) {
	if len(base) == 0 {
		base = []byte("{}")
	}
	sets := []struct {
		path  string
		value any
	}{
		{s.idPath, r.ID},
		{"name", r.Name},
		{"email", r.Email},
		{"phone", r.Phone},
		{s.updatedPath, r.Updated.UTC().Format(time.RFC3339Nano)},
	}
	out := base
	for _, set := range sets {
		var err error
		out, err = sjson.SetBytes(out, set.path, set.value)
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", set.path, err)
		}
	}
	return out, nil
}

// codec adapts the drop folder's layout to engine.Codec.
func (s *JSONFileSystem) codec() engine.Codec[JSONRecord] {
	return engine.CodecFuncs[JSONRecord]{
		DecodeFunc: s.Decode,
		EncodeFunc: func(r JSONRecord) ([]byte, error) { return s.Encode(nil, r) },
	}
}

// parseUpdated accepts an RFC 3339 string or unix seconds. A missing
// value is the zero time.
func parseUpdated(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.Null:
		return time.Time{}, nil
	case gjson.Number:
		return time.Unix(v.Int(), 0).UTC(), nil
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot use %s as a time", v.Type)
	}
}

// document is one contact document and the file it came from.
type document struct {
	file   string
	raw    string
	record JSONRecord

	// single is set when the file holds only this document.
	single bool
}

// documents loads every decodable document in the folder, in file name
// order. Invalid files and documents are logged and skipped. A missing
// folder is empty.
func (s *JSONFileSystem) documents() ([]document, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	sort.Strings(files)

	var docs []document
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		if !gjson.ValidBytes(data) {
			slog.Warn("skipping invalid json file", "file", file)
			continue
		}

		parsed := gjson.ParseBytes(data)
		var raws []string
		if parsed.IsArray() {
			parsed.ForEach(func(_, v gjson.Result) bool {
				raws = append(raws, v.Raw)
				return true
			})
		} else {
			raws = []string{strings.TrimSpace(parsed.Raw)}
		}

		for _, raw := range raws {
			rec, err := s.Decode([]byte(raw))
			if err != nil {
				slog.Warn("skipping json document", "file", file, "error", err)
				continue
			}
			docs = append(docs, document{file: file, raw: raw, record: rec, single: !parsed.IsArray()})
		}
	}
	return docs, nil
}

// Records returns every contact in the folder.
func (s *JSONFileSystem) Records() ([]JSONRecord, error) {
	docs, err := s.documents()
	if err != nil {
		return nil, err
	}
	out := make([]JSONRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record)
	}
	return out, nil
}

// Read stages documents updated after the checkpoint.
func (s *JSONFileSystem) Read(_ context.Context, in engine.ReadInput) (engine.ReadOutput, error) {
	docs, err := s.documents()
	if err != nil {
		return engine.ReadOutput{}, err
	}

	var out engine.ReadOutput
	for _, d := range docs {
		if !d.record.Updated.After(in.Since) {
			continue
		}
		out.Payloads = append(out.Payloads, d.raw)
		if d.record.Updated.After(out.LastUpdated) {
			out.LastUpdated = d.record.Updated
		}
	}
	return out, nil
}

// Write saves each contact as a document. An update rewrites the file the
// contact was found in when that file holds it alone; anything else goes
// to <id>.json.
func (s *JSONFileSystem) Write(_ context.Context, in engine.WriteInput[Contact, JSONRecord]) (engine.WriteOutput[Contact, JSONRecord], error) {
	var out engine.WriteOutput[Contact, JSONRecord]
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return out, fmt.Errorf("create %s: %w", s.dir, err)
	}

	docs, err := s.documents()
	if err != nil {
		return out, err
	}
	byID := make(map[string]document, len(docs))
	for _, d := range docs {
		if d.single {
			byID[d.record.ID] = d
		}
	}

	for _, item := range in.Updates {
		file := s.fileFor(item.Entity.ID)
		var base []byte
		if d, ok := byID[item.Entity.ID]; ok {
			file = d.file
			base = []byte(d.raw)
		}
		if err := s.save(file, base, item.Entity); err != nil {
			return engine.WriteOutput[Contact, JSONRecord]{}, err
		}
		out.Updated = append(out.Updated, item)
	}

	for _, item := range in.Creates {
		item.Entity.ID = s.ids.Generate()
		if err := s.save(s.fileFor(item.Entity.ID), nil, item.Entity); err != nil {
			return engine.WriteOutput[Contact, JSONRecord]{}, err
		}
		out.Created = append(out.Created, item)
	}
	return out, nil
}

func (s *JSONFileSystem) fileFor(id string) string {
	return filepath.Join(s.dir, strings.NewReplacer("/", "_", "\\", "_").Replace(id)+".json")
}

func (s *JSONFileSystem) save(file string, base []byte, r JSONRecord) error {
	data, err := s.Encode(base, r)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.ID, err)
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

// convertJSONRecord shapes a core contact as a document.
func convertJSONRecord(_ context.Context, in engine.ConvertInput[Contact]) (JSONRecord, error) {
	r := JSONRecord{
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
