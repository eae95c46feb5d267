package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/oslokommune/data-uploader/go/frame"
	"github.com/parquet-go/parquet-go"
)

// ErrTableNotFound is returned by ReadTable when no table exists at the
// path.
var ErrTableNotFound = errors.New("table not found")

// TableContentType is the content type of written table objects.
const TableContentType = "application/vnd.apache.parquet"

// WriteTable materializes a frame as a parquet table at the path,
// overwriting any table already there. All columns are written optional;
// dates as DATE int32 days and timestamps as TIMESTAMP(µs, UTC) int64.
func WriteTable(ctx context.Context, blob Blob, path string, f *frame.Frame) error {
	if len(f.Columns()) == 0 {
		return fmt.Errorf("writing table %s: frame has no columns", path)
	}
	var schema = tableSchema(f)

	var buf bytes.Buffer
	var w = parquet.NewWriter(&buf, schema)
	if _, err := w.WriteRows(tableRows(schema, f)); err != nil {
		return fmt.Errorf("writing table %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing table %s: %w", path, err)
	}

	// Drop previous parts so that the new table fully replaces them.
	existing, err := listParts(ctx, blob, path)
	if err != nil {
		return err
	}
	if err = blob.Delete(ctx, existing...); err != nil {
		return fmt.Errorf("clearing table %s: %w", path, err)
	}
	return blob.Put(ctx, path+"/part-00000.parquet", buf.Bytes(), TableContentType)
}

// ReadTable reconstitutes the frame of the parquet table at the path, or
// returns ErrTableNotFound if no table exists there.
func ReadTable(ctx context.Context, blob Blob, path string) (*frame.Frame, error) {
	var parts, err = listParts(ctx, blob, path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, ErrTableNotFound
	}

	var cols []*frame.Column
	var index = make(map[string]int)
	var rows int

	for _, part := range parts {
		data, err := blob.Get(ctx, part)
		if err != nil {
			return nil, err
		}
		file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("opening table part %s: %w", part, err)
		}
		if cols, index, rows, err = readPart(file, cols, index, rows); err != nil {
			return nil, fmt.Errorf("reading table part %s: %w", part, err)
		}
	}
	return frame.NewFrame(cols...)
}

func listParts(ctx context.Context, blob Blob, path string) ([]string, error) {
	var keys, err = blob.List(ctx, path+"/")
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, key := range keys {
		if strings.HasSuffix(key, ".parquet") {
			parts = append(parts, key)
		}
	}
	return parts, nil
}

func tableSchema(f *frame.Frame) *parquet.Schema {
	var group = parquet.Group{}
	for _, col := range f.Columns() {
		var node parquet.Node
		switch col.Type {
		case frame.Int:
			node = parquet.Int(64)
		case frame.Float:
			node = parquet.Leaf(parquet.DoubleType)
		case frame.Bool:
			node = parquet.Leaf(parquet.BooleanType)
		case frame.Date:
			node = parquet.Date()
		case frame.Timestamp:
			node = parquet.Timestamp(parquet.Microsecond)
		default:
			node = parquet.String()
		}
		group[col.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema("table", group)
}

// tableRows flattens the frame into parquet rows following the schema's
// (sorted) leaf column order.
func tableRows(schema *parquet.Schema, f *frame.Frame) []parquet.Row {
	var fields = schema.Fields()
	var rows = make([]parquet.Row, f.Len())

	for r := range rows {
		var row = make(parquet.Row, len(fields))
		for ci, field := range fields {
			var v = f.Column(field.Name()).Values[r]
			if v.IsNull() {
				row[ci] = parquet.ValueOf(nil).Level(0, 0, ci)
				continue
			}
			var pv parquet.Value
			switch v.Type() {
			case frame.Int:
				pv = parquet.ValueOf(v.Int64())
			case frame.Float:
				pv = parquet.ValueOf(v.Float64())
			case frame.Bool:
				pv = parquet.ValueOf(v.Bool())
			case frame.Date:
				pv = parquet.ValueOf(v.Days())
			case frame.Timestamp:
				pv = parquet.ValueOf(v.Micros())
			default:
				pv = parquet.ValueOf(v.Text())
			}
			row[ci] = pv.Level(0, 1, ci)
		}
		rows[r] = row
	}
	return rows
}

// readPart appends the part's rows to the accumulated columns, unioning
// schemas across parts with nulls for absent columns.
func readPart(file *parquet.File, cols []*frame.Column, index map[string]int, rows int) ([]*frame.Column, map[string]int, int, error) {
	var fields = file.Schema().Fields()
	var fieldCols = make([]*frame.Column, len(fields))

	for i, field := range fields {
		typ, err := columnTypeOf(field)
		if err != nil {
			return nil, nil, 0, err
		}
		if at, ok := index[field.Name()]; ok {
			if cols[at].Type != typ {
				return nil, nil, 0, fmt.Errorf("column %q is %s in one part and %s in another",
					field.Name(), cols[at].Type, typ)
			}
			fieldCols[i] = cols[at]
		} else {
			var col = &frame.Column{Name: field.Name(), Type: typ}
			// Back-fill nulls for rows of earlier parts.
			col.Values = make([]frame.Value, rows)
			index[field.Name()] = len(cols)
			cols = append(cols, col)
			fieldCols[i] = col
		}
	}

	var partRows int
	for _, rg := range file.RowGroups() {
		var rr = rg.Rows()
		var buf = make([]parquet.Row, 64)
		for {
			n, err := rr.ReadRows(buf)
			for _, row := range buf[:n] {
				var cells = make([]frame.Value, len(fields))
				for _, pv := range row {
					cells[pv.Column()] = cellOf(pv, fieldCols[pv.Column()].Type)
				}
				for i, col := range fieldCols {
					col.Values = append(col.Values, cells[i])
				}
				partRows++
			}
			if err == io.EOF {
				break
			} else if err != nil {
				rr.Close()
				return nil, nil, 0, err
			}
		}
		if err := rr.Close(); err != nil {
			return nil, nil, 0, err
		}
	}

	// Pad columns which this part didn't carry.
	rows += partRows
	for _, col := range cols {
		for len(col.Values) < rows {
			col.Values = append(col.Values, frame.NullValue())
		}
	}
	return cols, index, rows, nil
}

func columnTypeOf(field parquet.Field) (frame.ColumnType, error) {
	var t = field.Type()
	var logical = t.LogicalType()
	switch t.Kind() {
	case parquet.Boolean:
		return frame.Bool, nil
	case parquet.Double:
		return frame.Float, nil
	case parquet.ByteArray:
		return frame.String, nil
	case parquet.Int32:
		if logical != nil && logical.Date != nil {
			return frame.Date, nil
		}
		return frame.Int, nil
	case parquet.Int64:
		if logical != nil && logical.Timestamp != nil {
			return frame.Timestamp, nil
		}
		return frame.Int, nil
	default:
		return frame.String, fmt.Errorf("unsupported parquet column %q of kind %v", field.Name(), t.Kind())
	}
}

func cellOf(pv parquet.Value, typ frame.ColumnType) frame.Value {
	if pv.IsNull() {
		return frame.NullValue()
	}
	switch typ {
	case frame.Int:
		return frame.NewInt(pv.Int64())
	case frame.Float:
		return frame.NewFloat(pv.Double())
	case frame.Bool:
		return frame.NewBool(pv.Boolean())
	case frame.Date:
		return frame.NewDate(pv.Int32())
	case frame.Timestamp:
		return frame.NewTimestamp(pv.Int64())
	default:
		return frame.NewString(string(pv.ByteArray()))
	}
}
