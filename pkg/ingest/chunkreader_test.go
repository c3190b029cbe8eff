package ingest

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkReaderDirectMode(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, 25)

	si := NewSafeIngestor(testConfig(dir))
	res, err := si.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	require.True(t, res.Direct())

	r, err := NewChunkReader(res, 10)
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.Chunked())
	assert.Equal(t, 25, r.TotalRows())

	sizes := []int{}
	seqs := []int{}
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, chunk.Size())
		seqs = append(seqs, chunk.Seq)
	}
	assert.Equal(t, []int{10, 10, 5}, sizes)
	assert.Equal(t, []int{0, 1, 2}, seqs)

	// single pass: the sequence stays exhausted
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestChunkReaderStreamedMode(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.SmallFileBytes = 1
	cfg.SmallFileRows = 1
	path := writeCSV(t, dir, 23)

	si := NewSafeIngestor(cfg)
	res, err := si.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	require.False(t, res.Direct())
	defer res.Stream.Release()

	r, err := NewChunkReader(res, 10)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Chunked())
	assert.Equal(t, []string{"StudentName", "DateOfBirth", "AcademicYear"}, r.Columns())

	var origins []int64
	total := 0
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += chunk.Size()
		for _, rec := range chunk.Records {
			origins = append(origins, rec.Origin)
		}
	}
	assert.Equal(t, 23, total)

	// origins are the global row order, not per-chunk
	for i, origin := range origins {
		assert.Equal(t, int64(i), origin)
	}
}

func TestChunkReaderRejectsBadChunkSize(t *testing.T) {
	_, err := NewChunkReader(&Result{}, 0)
	assert.Error(t, err)
}

func TestChunkReaderStreamOutlivesReader(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.SmallFileBytes = 1
	cfg.SmallFileRows = 1
	path := writeCSV(t, dir, 8)

	si := NewSafeIngestor(cfg)
	res, err := si.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	defer res.Stream.Release()

	r, err := NewChunkReader(res, 4)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// closing the reader must not delete the materialized stream
	r2, err := NewChunkReader(res, 4)
	require.NoError(t, err)
	chunk, err := r2.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, chunk.Size())
	require.NoError(t, r2.Close())
}
