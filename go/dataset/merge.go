// Package dataset implements the event ingestion pipeline: merging row
// batches into the current table of a dataset version and publishing the
// result as a new immutable edition.
package dataset

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/oslokommune/data-uploader/go/frame"
	"github.com/oslokommune/data-uploader/go/storage"
	"github.com/oslokommune/data-uploader/go/uploader"
)

// Merge builds a typed frame from the batch and merges it into the table
// at path. With empty mergeOn the rows are appended; otherwise the sides
// are full-outer-joined on the key columns, with new values overriding
// existing values where key tuples coincide. Non-unique key tuples join
// pairwise and may yield duplicate rows.
//
// It returns the merged frame and the sorted names of columns which were
// not present in the existing table. When no table exists at path the
// result is just the new frame.
func Merge(ctx context.Context, blob storage.Blob, path string, batch frame.Batch, mergeOn []string) (*frame.Frame, []string, error) {
	var events, err = frame.Infer(batch)
	if err != nil {
		return nil, nil, err
	}

	existing, err := storage.ReadTable(ctx, blob, path)
	if errors.Is(err, storage.ErrTableNotFound) {
		existing = nil
	} else if err != nil {
		return nil, nil, err
	}

	if len(mergeOn) > 0 {
		if err = validateMergeColumns(existing, events, mergeOn); err != nil {
			return nil, nil, err
		}
	}
	if existing == nil {
		return events, nil, nil
	}

	var merged *frame.Frame
	if len(mergeOn) == 0 {
		merged, err = concat(existing, events)
	} else {
		merged, err = outerJoin(existing, events, mergeOn)
	}
	if err != nil {
		return nil, nil, err
	}

	var newColumns []string
	for _, name := range merged.Names() {
		if existing.Column(name) == nil {
			newColumns = append(newColumns, name)
		}
	}
	sort.Strings(newColumns)
	return merged, newColumns, nil
}

// validateMergeColumns requires every key column to exist with no null
// values on each present side.
func validateMergeColumns(existing, events *frame.Frame, mergeOn []string) error {
	var missing []string
	for _, key := range mergeOn {
		var bad bool
		for _, side := range []*frame.Frame{existing, events} {
			if side == nil {
				continue
			}
			var col = side.Column(key)
			if col == nil {
				bad = true
				continue
			}
			for _, v := range col.Values {
				if v.IsNull() {
					bad = true
					break
				}
			}
		}
		if bad {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return uploader.E(uploader.MissingMergeColumns,
			"Missing or incomplete merge column(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// mergedColumns is the column universe of a merge: existing columns in
// stored order, then new-only columns in batch order.
func mergedColumns(existing, events *frame.Frame) []string {
	var names = append([]string(nil), existing.Names()...)
	for _, name := range events.Names() {
		if existing.Column(name) == nil {
			names = append(names, name)
		}
	}
	return names
}

func concat(existing, events *frame.Frame) (*frame.Frame, error) {
	var names = mergedColumns(existing, events)
	var cols = make([]*frame.Column, 0, len(names))

	for _, name := range names {
		var values = make([]frame.Value, 0, existing.Len()+events.Len())
		for _, side := range []*frame.Frame{existing, events} {
			if col := side.Column(name); col != nil {
				values = append(values, col.Values...)
			} else {
				values = append(values, make([]frame.Value, side.Len())...)
			}
		}
		cols = append(cols, &frame.Column{Name: name, Values: values})
	}
	return resolveTypes(existing, events, cols)
}

func outerJoin(existing, events *frame.Frame, mergeOn []string) (*frame.Frame, error) {
	var names = mergedColumns(existing, events)

	// Index new rows by key tuple.
	var byKey = make(map[string][]int, events.Len())
	for r := 0; r < events.Len(); r++ {
		var key = joinKey(events, mergeOn, r)
		byKey[key] = append(byKey[key], r)
	}

	var cols = make([]*frame.Column, len(names))
	for i, name := range names {
		cols[i] = &frame.Column{Name: name}
	}
	var emit = func(existingRow, eventRow int) {
		for i, name := range names {
			var v frame.Value
			// Where both sides carry the column, the new side wins,
			// including its explicit nulls.
			if col := events.Column(name); col != nil && eventRow >= 0 {
				v = col.Values[eventRow]
			} else if col := existing.Column(name); col != nil && existingRow >= 0 {
				v = col.Values[existingRow]
			}
			cols[i].Values = append(cols[i].Values, v)
		}
	}

	var matched = make(map[int]bool, events.Len())
	for r := 0; r < existing.Len(); r++ {
		var rows = byKey[joinKey(existing, mergeOn, r)]
		if len(rows) == 0 {
			emit(r, -1)
			continue
		}
		for _, nr := range rows {
			matched[nr] = true
			emit(r, nr)
		}
	}
	for r := 0; r < events.Len(); r++ {
		if !matched[r] {
			emit(-1, r)
		}
	}
	return resolveTypes(existing, events, cols)
}

func joinKey(f *frame.Frame, mergeOn []string, row int) string {
	var vals = make([]frame.Value, len(mergeOn))
	for i, name := range mergeOn {
		vals[i] = f.Column(name).Values[row]
	}
	return frame.Key(vals...)
}

// resolveTypes commits a single type per merged column. Columns typed on
// both sides must agree, except that integers widen to floats. Anything
// else is a mixed column and fails InvalidType.
func resolveTypes(existing, events *frame.Frame, cols []*frame.Column) (*frame.Frame, error) {
	var mixed []string
	for _, col := range cols {
		var types []frame.ColumnType
		for _, side := range []*frame.Frame{existing, events} {
			if c := side.Column(col.Name); c != nil {
				types = append(types, c.Type)
			}
		}

		var resolved = types[0]
		var ok = true
		for _, t := range types[1:] {
			switch {
			case t == resolved:
			case (t == frame.Int && resolved == frame.Float) ||
				(t == frame.Float && resolved == frame.Int):
				resolved = frame.Float
			default:
				ok = false
			}
		}
		if !ok {
			mixed = append(mixed, col.Name)
			continue
		}

		col.Type = resolved
		if resolved == frame.Float {
			for i, v := range col.Values {
				if !v.IsNull() && v.Type() == frame.Int {
					col.Values[i] = frame.NewFloat(float64(v.Int64()))
				}
			}
		}
	}
	if len(mixed) > 0 {
		sort.Strings(mixed)
		return nil, uploader.E(uploader.InvalidType,
			"Invalid or mixed types detected in column(s): %s", strings.Join(mixed, ", "))
	}
	return frame.NewFrame(cols...)
}
