package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oslokommune/data-uploader/go/frame"
)

func inferredFrame(t *testing.T, doc string) *frame.Frame {
	t.Helper()
	var batch, err = frame.DecodeBatch([]byte(doc))
	require.NoError(t, err)
	f, err := frame.Infer(batch)
	require.NoError(t, err)
	return f
}

func TestTableRoundTrip(t *testing.T) {
	var ctx = context.Background()
	var blob = NewMemory()

	var written = inferredFrame(t, `[
		{"id": 1, "score": 1.5, "ok": true, "name": "foo", "day": "2024-10-01", "at": "2024-10-22T14:43:47Z"},
		{"id": 2, "score": null, "ok": false, "name": null, "day": "1999-01-31", "at": "2024-10-22T14:43:48Z"}
	]`)
	require.NoError(t, WriteTable(ctx, blob, "processed/green/ds1/version=1/latest", written))

	keys, err := blob.List(ctx, "processed/green/ds1/version=1/latest/")
	require.NoError(t, err)
	require.Equal(t, []string{"processed/green/ds1/version=1/latest/part-00000.parquet"}, keys)

	read, err := ReadTable(ctx, blob, "processed/green/ds1/version=1/latest")
	require.NoError(t, err)
	require.Equal(t, 2, read.Len())

	// Parquet field order is sorted by name; cell content round-trips.
	require.ElementsMatch(t, written.Names(), read.Names())
	for _, col := range written.Columns() {
		var got = read.Column(col.Name)
		require.NotNil(t, got, col.Name)
		require.Equal(t, col.Type, got.Type, col.Name)
		require.Equal(t, col.Values, got.Values, col.Name)
	}
}

func TestWriteTableOverwrites(t *testing.T) {
	var ctx = context.Background()
	var blob = NewMemory()

	require.NoError(t, WriteTable(ctx, blob, "t", inferredFrame(t, `[{"a": 1}, {"a": 2}]`)))
	require.NoError(t, WriteTable(ctx, blob, "t", inferredFrame(t, `[{"b": "only"}]`)))

	var read, err = ReadTable(ctx, blob, "t")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, read.Names())
	require.Equal(t, 1, read.Len())
}

func TestReadTableNotFound(t *testing.T) {
	var _, err = ReadTable(context.Background(), NewMemory(), "no/such/table")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestMemoryBlob(t *testing.T) {
	var ctx = context.Background()
	var blob = NewMemory()

	require.NoError(t, blob.Put(ctx, "pfx/a", []byte("one"), "text/plain"))
	require.NoError(t, blob.Put(ctx, "pfx/b", []byte("two"), "text/plain"))
	require.NoError(t, blob.Put(ctx, "other", []byte("three"), "text/plain"))

	var keys, err = blob.List(ctx, "pfx/")
	require.NoError(t, err)
	require.Equal(t, []string{"pfx/a", "pfx/b"}, keys)

	body, err := blob.Get(ctx, "pfx/a")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), body)

	require.NoError(t, blob.Delete(ctx, "pfx/a", "pfx/b"))
	_, err = blob.Get(ctx, "pfx/a")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
