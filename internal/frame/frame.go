// Package frame implements the tabular artifact every datasource adapter
// produces: rows identified by the (datetime UTC, site) pair, a geometry
// column, a datasource tag, and a value/units column pair per variable.
// It also holds the merge, resample and validation primitives adapters use
// to assemble multi-variable frames from independently fetched series.
package frame

import (
	"sort"
	"time"
)

// Column names shared by every conformant frame.
const (
	ColGeometry        = "geometry"
	ColSite            = "site"
	ColDataSource      = "datasource"
	ColMeasurementDate = "measurementDate"
	ColQualityCode     = "quality_code"

	// UnitsSuffix pairs a value column with its units column.
	UnitsSuffix = "_units"
)

// Cell is one named value in a row. Nil means missing.
type Cell struct {
	Column string
	Value  any
}

// C is shorthand for building a Cell.
func C(column string, value any) Cell {
	return Cell{Column: column, Value: value}
}

// Row is one observation: the (Time, Site) index pair plus the cells.
type Row struct {
	Time  time.Time
	Site  string
	Cells map[string]any
}

// Value returns the cell for a column. Missing and nil cells both report ok=false.
func (r Row) Value(column string) (any, bool) {
	v, ok := r.Cells[column]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Float returns the cell as a float64 if present.
func (r Row) Float(column string) (float64, bool) {
	v, ok := r.Value(column)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Frame is an ordered set of rows with a fixed column order.
type Frame struct {
	columns []string
	rows    []Row
}

// New creates a frame with the given column order. Columns appended later
// through rows are added after these, in first-seen order.
func New(columns ...string) *Frame {
	f := &Frame{}
	for _, c := range columns {
		f.ensureColumn(c)
	}
	return f
}

func (f *Frame) ensureColumn(name string) {
	for _, c := range f.columns {
		if c == name {
			return
		}
	}
	f.columns = append(f.columns, name)
}

// Append adds a row. Unknown cell columns are registered in argument order.
func (f *Frame) Append(t time.Time, site string, cells ...Cell) {
	row := Row{Time: t, Site: site, Cells: make(map[string]any, len(cells))}
	for _, c := range cells {
		f.ensureColumn(c.Column)
		row.Cells[c.Column] = c.Value
	}
	f.rows = append(f.rows, row)
}

// AppendRow adds an already-built row, registering any new columns in
// sorted order so the result is deterministic.
func (f *Frame) AppendRow(row Row) {
	names := make([]string, 0, len(row.Cells))
	for name := range row.Cells {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f.ensureColumn(name)
	}
	f.rows = append(f.rows, row)
}

// Len returns the number of rows. Safe on a nil frame.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rows)
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// HasColumn reports whether the frame declares the column.
func (f *Frame) HasColumn(name string) bool {
	if f == nil {
		return false
	}
	for _, c := range f.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Rows returns the underlying rows. Callers must not mutate them.
func (f *Frame) Rows() []Row {
	if f == nil {
		return nil
	}
	return f.rows
}

// Row returns the i-th row.
func (f *Frame) Row(i int) Row {
	return f.rows[i]
}

// Records flattens the frame into one map per row for JSON encoding. The
// index fields appear as "datetime" and "site".
func (f *Frame) Records() []map[string]any {
	if f == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(f.rows))
	for _, r := range f.rows {
		rec := make(map[string]any, len(r.Cells)+2)
		rec["datetime"] = r.Time
		rec["site"] = r.Site
		for k, v := range r.Cells {
			rec[k] = v
		}
		out = append(out, rec)
	}
	return out
}

// SetConst assigns the same value to a column on every row, creating the
// column when needed. Used for geometry and datasource tags.
func (f *Frame) SetConst(column string, value any) {
	f.ensureColumn(column)
	for i := range f.rows {
		if f.rows[i].Cells == nil {
			f.rows[i].Cells = make(map[string]any, 1)
		}
		f.rows[i].Cells[column] = value
	}
}

// Filter returns a frame keeping only the listed columns, in the given order.
// Row index fields are always preserved.
func (f *Frame) Filter(columns ...string) *Frame {
	if f == nil {
		return nil
	}
	out := New()
	for _, c := range columns {
		if f.HasColumn(c) {
			out.ensureColumn(c)
		}
	}
	for _, r := range f.rows {
		nr := Row{Time: r.Time, Site: r.Site, Cells: make(map[string]any, len(out.columns))}
		for _, c := range out.columns {
			if v, ok := r.Cells[c]; ok {
				nr.Cells[c] = v
			}
		}
		out.rows = append(out.rows, nr)
	}
	return out
}

// DropNulls removes rows that have a nil or missing cell in any of the given
// columns. With no columns it considers every declared column.
func (f *Frame) DropNulls(columns ...string) *Frame {
	if f == nil {
		return nil
	}
	if len(columns) == 0 {
		columns = f.columns
	}
	out := &Frame{columns: append([]string(nil), f.columns...)}
	for _, r := range f.rows {
		keep := true
		for _, c := range columns {
			if _, ok := r.Value(c); !ok {
				keep = false
				break
			}
		}
		if keep {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// Sort orders rows ascending by time, then site.
func (f *Frame) Sort() {
	if f == nil {
		return
	}
	sort.SliceStable(f.rows, func(i, j int) bool {
		if !f.rows[i].Time.Equal(f.rows[j].Time) {
			return f.rows[i].Time.Before(f.rows[j].Time)
		}
		return f.rows[i].Site < f.rows[j].Site
	})
}

// key identifies a row by its index pair.
type key struct {
	unix int64
	site string
}

func rowKey(r Row) key {
	return key{unix: r.Time.UnixNano(), site: r.Site}
}

// Equal reports whether two frames have identical columns and rows.
// Intended for tests.
func (f *Frame) Equal(other *Frame) bool {
	if f.Len() != other.Len() {
		return false
	}
	if f.Len() == 0 {
		return true
	}
	if len(f.columns) != len(other.columns) {
		return false
	}
	for i := range f.columns {
		if f.columns[i] != other.columns[i] {
			return false
		}
	}
	for i := range f.rows {
		a, b := f.rows[i], other.rows[i]
		if !a.Time.Equal(b.Time) || a.Site != b.Site {
			return false
		}
		for _, c := range f.columns {
			av, aok := a.Value(c)
			bv, bok := b.Value(c)
			if aok != bok {
				return false
			}
			if !aok {
				continue
			}
			if at, ok := av.(time.Time); ok {
				bt, ok := bv.(time.Time)
				if !ok || !at.Equal(bt) {
					return false
				}
				continue
			}
			if av != bv {
				return false
			}
		}
	}
	return true
}
