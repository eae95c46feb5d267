package frame

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oslokommune/data-uploader/go/uploader"
)

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	// ISO-8601 with optional fractional seconds and optional Z/offset.
	timestampPattern = regexp.MustCompile(
		`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})(\.\d{1,6})?(Z|[+-]\d{2}:?\d{2})?$`)
)

// Infer converts a Batch into a typed Frame.
//
// Columns whose values are entirely null are dropped. Uniform primitive
// columns keep their primitive type, with mixed integers and floats
// widening to Float. All-string columns are inspected for a uniform date
// or timestamp layout and promoted when every value matches; mixed
// layouts, partial dates and date/timestamp mixtures stay String.
// Columns mixing primitive classes fail with InvalidType naming the
// offending columns.
func Infer(batch Batch) (*Frame, error) {
	var names, cells = collectColumns(batch)

	var cols []*Column
	var mixed []string
	for i, name := range names {
		col, ok := inferColumn(name, cells[i])
		if !ok {
			mixed = append(mixed, name)
			continue
		}
		if col != nil {
			cols = append(cols, col)
		}
	}
	if len(mixed) > 0 {
		sort.Strings(mixed)
		return nil, uploader.E(uploader.InvalidType,
			"Invalid or mixed types detected in column(s): %s", strings.Join(mixed, ", "))
	}
	return NewFrame(cols...)
}

// collectColumns gathers column names in first-seen order, with one cell
// per row per column. Cells absent from a row are null.
func collectColumns(batch Batch) ([]string, [][]Value) {
	var names []string
	var index = make(map[string]int)

	for _, row := range batch {
		for _, key := range row.Keys() {
			if _, ok := index[key]; !ok {
				index[key] = len(names)
				names = append(names, key)
			}
		}
	}

	var cells = make([][]Value, len(names))
	for i := range cells {
		cells[i] = make([]Value, len(batch))
	}
	for r, row := range batch {
		for key, i := range index {
			if v, ok := row.Get(key); ok {
				cells[i][r] = v
			}
		}
	}
	return names, cells
}

// inferColumn types a single column. It returns (nil, true) for all-null
// columns (dropped), and ok=false for unresolvable mixed types.
func inferColumn(name string, cells []Value) (*Column, bool) {
	var ints, floats, bools, strs, poisoned int
	var nonNull int

	for _, v := range cells {
		if v.IsNull() {
			continue
		}
		nonNull++
		switch {
		case v.invalid:
			poisoned++
		case v.typ == Int:
			ints++
		case v.typ == Float:
			floats++
		case v.typ == Bool:
			bools++
		case v.typ == String:
			strs++
		}
	}
	if nonNull == 0 {
		return nil, true
	}
	if poisoned > 0 {
		return nil, false
	}

	switch {
	case ints == nonNull:
		return &Column{Name: name, Type: Int, Values: cells}, true
	case ints+floats == nonNull && floats > 0:
		return &Column{Name: name, Type: Float, Values: widenToFloat(cells)}, true
	case bools == nonNull:
		return &Column{Name: name, Type: Bool, Values: cells}, true
	case strs == nonNull:
		return inspectStrings(name, cells), true
	default:
		return nil, false
	}
}

func widenToFloat(cells []Value) []Value {
	var out = make([]Value, len(cells))
	for i, v := range cells {
		if !v.IsNull() && v.typ == Int {
			out[i] = NewFloat(float64(v.i))
		} else {
			out[i] = v
		}
	}
	return out
}

// inspectStrings promotes an all-string column to Date or Timestamp when
// every value shares a single accepted layout, else keeps it String.
func inspectStrings(name string, cells []Value) *Column {
	if col, ok := tryDates(name, cells); ok {
		return col
	}
	if col, ok := tryTimestamps(name, cells); ok {
		return col
	}
	return &Column{Name: name, Type: String, Values: cells}
}

func tryDates(name string, cells []Value) (*Column, bool) {
	var out = make([]Value, len(cells))
	for i, v := range cells {
		if v.IsNull() {
			continue
		}
		if !datePattern.MatchString(v.s) {
			return nil, false
		}
		t, err := time.Parse("2006-01-02", v.s)
		if err != nil {
			return nil, false
		}
		out[i] = NewDate(int32(t.Unix() / 86400))
	}
	return &Column{Name: name, Type: Date, Values: out}, true
}

// tsShape is the layout signature of one timestamp string: whether it
// carries fractional seconds and whether it carries a zone designator.
// All values of a column must share one shape to be promoted.
type tsShape struct{ frac, zone bool }

func tryTimestamps(name string, cells []Value) (*Column, bool) {
	var out = make([]Value, len(cells))
	var shape tsShape
	var first = true

	for i, v := range cells {
		if v.IsNull() {
			continue
		}
		micros, s, ok := parseTimestamp(v.s)
		if !ok {
			return nil, false
		}
		if first {
			shape, first = s, false
		} else if s != shape {
			return nil, false
		}
		out[i] = NewTimestamp(micros)
	}
	return &Column{Name: name, Type: Timestamp, Values: out}, true
}

// parseTimestamp parses one ISO-8601 timestamp string, normalized to UTC
// microseconds, and reports its layout shape.
func parseTimestamp(s string) (int64, tsShape, bool) {
	var m = timestampPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, tsShape{}, false
	}
	base, err := time.Parse("2006-01-02T15:04:05", m[1])
	if err != nil {
		return 0, tsShape{}, false
	}

	var micros = base.UnixMicro()
	if m[2] != "" {
		// Pad the fraction out to microsecond precision.
		var digits = m[2][1:] + strings.Repeat("0", 6-len(m[2][1:]))
		frac, _ := strconv.ParseInt(digits, 10, 64)
		micros += frac
	}
	if m[3] != "" && m[3] != "Z" {
		var off = m[3]
		var sign = int64(1)
		if off[0] == '-' {
			sign = -1
		}
		hh, _ := strconv.ParseInt(off[1:3], 10, 64)
		mm, _ := strconv.ParseInt(strings.TrimPrefix(off[3:], ":"), 10, 64)
		if mm >= 60 {
			return 0, tsShape{}, false
		}
		micros -= sign * (hh*3600 + mm*60) * 1e6
	}
	return micros, tsShape{frac: m[2] != "", zone: m[3] != ""}, true
}
