package sample

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/coresync/internal/engine"
	"github.com/roach88/coresync/internal/ir"
)

// DefaultSheetName is the worksheet used when none is configured.
const DefaultSheetName = "Contacts"

var sheetHeaders = []any{"id", "name", "email", "phone", "updated"}

// SheetRow is a contact as one spreadsheet row.
type SheetRow struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Phone   string    `json:"phone,omitempty"`
	Updated time.Time `json:"updated"`
}

func (r SheetRow) SystemEntityID() ir.SystemID { return ir.SystemID(r.ID) }
func (r SheetRow) LastUpdatedDate() time.Time { return r.Updated }
func (r SheetRow) ChecksumSubset() ir.IRObject { return ContactSubset(r.Name, r.Email, r.Phone) }
func (r SheetRow) ContactFields() (string, string, string) { return r.Name, r.Email, r.Phone }

func (r SheetRow) values() []any {
	return []any{r.ID, r.Name, r.Email, r.Phone, r.Updated.UTC().Format(time.RFC3339Nano)}
}

// SheetSystem keeps contacts in one worksheet of an .xlsx workbook. The
// first row holds the headers; columns are id, name, email, phone and
// updated (RFC 3339).
type SheetSystem struct {
	path  string
	sheet string
	ids   engine.IDGenerator
}

// NewSheetSystem creates a SheetSystem over the workbook at path. ids
// names rows created by Write; nil uses UUIDv7.
func NewSheetSystem(path, sheet string, ids engine.IDGenerator) *SheetSystem {
	if sheet == "" {
		sheet = DefaultSheetName
	}
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}
	return &SheetSystem{path: path, sheet: sheet, ids: ids}
}

// open opens the workbook, or creates an empty one with the header row
// when the file does not exist yet.
func (s *SheetSystem) open() (*excelize.File, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		f := excelize.NewFile()
		if err := f.SetSheetName("Sheet1", s.sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("name sheet %s: %w", s.sheet, err)
		}
		if err := f.SetSheetRow(s.sheet, "A1", &sheetHeaders); err != nil {
			f.Close()
			return nil, fmt.Errorf("write headers: %w", err)
		}
		return f, nil
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", s.path, err)
	}
	if idx, err := f.GetSheetIndex(s.sheet); err != nil || idx < 0 {
		if _, err := f.NewSheet(s.sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", s.sheet, err)
		}
		if err := f.SetSheetRow(s.sheet, "A1", &sheetHeaders); err != nil {
			f.Close()
			return nil, fmt.Errorf("write headers: %w", err)
		}
	}
	return f, nil
}

// sheetLine is a parsed row and its 1-based row number in the sheet.
type sheetLine struct {
	row SheetRow
	num int
}

// lines parses every data row. Rows without an id or with an unparseable
// updated cell are logged and skipped.
func (s *SheetSystem) lines(f *excelize.File) ([]sheetLine, int, error) {
	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, 0, fmt.Errorf("read sheet %s: %w", s.sheet, err)
	}

	var out []sheetLine
	for i, cells := range rows {
		if i == 0 {
			continue
		}
		num := i + 1
		row := SheetRow{
			ID:    cell(cells, 0),
			Name:  cell(cells, 1),
			Email: cell(cells, 2),
			Phone: cell(cells, 3),
		}
		if row.ID == "" {
			slog.Warn("skipping sheet row without id", "path", s.path, "sheet", s.sheet, "row", num)
			continue
		}
		if v := cell(cells, 4); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				slog.Warn("skipping sheet row with bad updated cell", "path", s.path, "sheet", s.sheet, "row", num, "error", err)
				continue
			}
			row.Updated = t.UTC()
		}
		out = append(out, sheetLine{row: row, num: num})
	}
	return out, len(rows), nil
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

// Rows returns every contact row of the sheet. A missing workbook has
// none.
func (s *SheetSystem) Rows() ([]SheetRow, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, _, err := s.lines(f)
	if err != nil {
		return nil, err
	}
	rows := make([]SheetRow, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, l.row)
	}
	return rows, nil
}

// Read stages rows updated after the checkpoint.
func (s *SheetSystem) Read(_ context.Context, in engine.ReadInput) (engine.ReadOutput, error) {
	rows, err := s.Rows()
	if err != nil {
		return engine.ReadOutput{}, err
	}

	var out engine.ReadOutput
	for _, row := range rows {
		if !row.Updated.After(in.Since) {
			continue
		}
		data, err := json.Marshal(row)
		if err != nil {
			return engine.ReadOutput{}, fmt.Errorf("encode row %s: %w", row.ID, err)
		}
		out.Payloads = append(out.Payloads, string(data))
		if row.Updated.After(out.LastUpdated) {
			out.LastUpdated = row.Updated
		}
	}
	return out, nil
}

// Write appends created rows and overwrites updated ones in place, then
// saves the workbook once.
func (s *SheetSystem) Write(_ context.Context, in engine.WriteInput[Contact, SheetRow]) (engine.WriteOutput[Contact, SheetRow], error) {
	var out engine.WriteOutput[Contact, SheetRow]

	f, err := s.open()
	if err != nil {
		return out, err
	}
	defer f.Close()

	lines, total, err := s.lines(f)
	if err != nil {
		return out, err
	}
	byID := make(map[string]int, len(lines))
	for _, l := range lines {
		byID[l.row.ID] = l.num
	}

	for _, item := range in.Updates {
		num, ok := byID[item.Entity.ID]
		if !ok {
			return engine.WriteOutput[Contact, SheetRow]{}, fmt.Errorf("update row %s: not in sheet %s", item.Entity.ID, s.sheet)
		}
		if err := s.setRow(f, num, item.Entity); err != nil {
			return engine.WriteOutput[Contact, SheetRow]{}, err
		}
		out.Updated = append(out.Updated, item)
	}

	next := total + 1
	for _, item := range in.Creates {
		item.Entity.ID = s.ids.Generate()
		if err := s.setRow(f, next, item.Entity); err != nil {
			return engine.WriteOutput[Contact, SheetRow]{}, err
		}
		next++
		out.Created = append(out.Created, item)
	}

	if err := f.SaveAs(s.path); err != nil {
		return engine.WriteOutput[Contact, SheetRow]{}, fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	return out, nil
}

func (s *SheetSystem) setRow(f *excelize.File, num int, row SheetRow) error {
	axis, err := excelize.CoordinatesToCellName(1, num)
	if err != nil {
		return fmt.Errorf("row %d: %w", num, err)
	}
	values := row.values()
	if err := f.SetSheetRow(s.sheet, axis, &values); err != nil {
		return fmt.Errorf("write row %s: %w", row.ID, err)
	}
	return nil
}

// convertSheetRow shapes a core contact as a row. Updated carries the
// core's update time.
func convertSheetRow(_ context.Context, in engine.ConvertInput[Contact]) (SheetRow, error) {
	row := SheetRow{
		Name:    in.Core.Name,
		Email:   in.Core.Email,
		Phone:   in.Core.Phone,
		Updated: in.Core.DateUpdated,
	}
	if in.Map != nil {
		row.ID = string(in.Map.SystemID)
	}
	return row, nil
}
