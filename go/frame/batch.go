package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is an ordered mapping of column name to scalar Value, preserving
// the key order of its source JSON object.
type Row struct {
	keys []string
	vals map[string]Value
}

// NewRow returns an empty Row.
func NewRow() *Row {
	return &Row{vals: make(map[string]Value)}
}

// Set stores a cell, appending the key on first sight.
func (r *Row) Set(name string, v Value) {
	if _, ok := r.vals[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.vals[name] = v
}

// Get returns the named cell and whether it was present.
func (r *Row) Get(name string) (Value, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// Keys returns the ordered cell names.
func (r *Row) Keys() []string { return r.keys }

// Batch is an ordered sequence of Rows.
type Batch []*Row

// DecodeBatch parses a JSON array of objects into a Batch, preserving
// object key order. Values must be scalars or null; nested objects and
// arrays are kept as poison cells which fail type inference.
func DecodeBatch(data []byte) (Batch, error) {
	var dec = json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if tok, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	} else if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("decoding batch: expected array, got %v", tok)
	}

	var batch Batch
	for dec.More() {
		row, err := decodeRow(dec)
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}
	return batch, nil
}

func decodeRow(dec *json.Decoder) (*Row, error) {
	if tok, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	} else if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decoding row: expected object, got %v", tok)
	}

	var row = NewRow()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding row: %w", err)
		}
		var name = tok.(string)

		var raw interface{}
		if err = dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding row cell %q: %w", name, err)
		}
		row.Set(name, valueOf(raw))
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	return row, nil
}

func valueOf(raw interface{}) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue()
	case bool:
		return NewBool(v)
	case string:
		return NewString(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return NewInt(i)
		}
		f, err := v.Float64()
		if err != nil {
			return newInvalid()
		}
		return NewFloat(f)
	default:
		// Nested object or array.
		return newInvalid()
	}
}
