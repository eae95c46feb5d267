package frame

import "fmt"

// Column is a named, typed sequence of Values.
type Column struct {
	Name   string
	Type   ColumnType
	Values []Value
}

// Frame is an ordered set of uniquely named columns of uniform length.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewFrame builds a Frame from columns, which must be uniquely named and
// of uniform length.
func NewFrame(cols ...*Column) (*Frame, error) {
	var f = &Frame{index: make(map[string]int, len(cols))}
	for _, col := range cols {
		if _, ok := f.index[col.Name]; ok {
			return nil, fmt.Errorf("duplicate column %q", col.Name)
		}
		if len(f.cols) != 0 && len(col.Values) != f.rows {
			return nil, fmt.Errorf("column %q has %d rows; expected %d",
				col.Name, len(col.Values), f.rows)
		}
		f.index[col.Name] = len(f.cols)
		f.cols = append(f.cols, col)
		f.rows = len(col.Values)
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.rows }

// Columns returns the ordered columns. Callers must not mutate.
func (f *Frame) Columns() []*Column { return f.cols }

// Column returns the named column, or nil.
func (f *Frame) Column(name string) *Column {
	if i, ok := f.index[name]; ok {
		return f.cols[i]
	}
	return nil
}

// Names returns the ordered column names.
func (f *Frame) Names() []string {
	var out = make([]string, len(f.cols))
	for i, col := range f.cols {
		out[i] = col.Name
	}
	return out
}

// Row materializes row i as a map of non-null cells.
func (f *Frame) Row(i int) map[string]Value {
	var out = make(map[string]Value, len(f.cols))
	for _, col := range f.cols {
		if v := col.Values[i]; !v.IsNull() {
			out[col.Name] = v
		}
	}
	return out
}
