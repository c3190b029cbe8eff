package ingest

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/models"
)

// ChunkReader presents an ingestion result as a lazy, finite, single-pass
// sequence of fixed-size chunks. In direct mode it slices the in-memory
// table; in chunked mode it replays the materialized stream without ever
// holding more than one chunk.
type ChunkReader struct {
	chunkSize int
	columns   []string
	totalRows int

	// direct mode
	table []*models.Record
	pos   int

	// chunked mode
	file   *os.File
	csv    *csv.Reader
	origin int64

	seq  int
	done bool
}

// NewChunkReader wraps an ingestion result. The caller keeps ownership of
// the result's stream; closing the reader does not release it.
func NewChunkReader(res *Result, chunkSize int) (*ChunkReader, error) {
	if chunkSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "chunk size must be positive").
			WithDetail("chunk_size", chunkSize)
	}

	r := &ChunkReader{
		chunkSize: chunkSize,
		columns:   res.Columns,
		totalRows: res.Rows,
	}

	if res.Direct() {
		r.table = res.Table
		return r, nil
	}

	f, err := os.Open(res.Stream.Path())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open materialized stream").
			WithDetail("path", res.Stream.Path())
	}

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	if _, err := cr.Read(); err != nil && err != io.EOF {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read stream header").
			WithDetail("path", res.Stream.Path())
	}

	r.file = f
	r.csv = cr
	return r, nil
}

// Chunked reports whether rows come from a materialized stream rather
// than an in-memory table.
func (r *ChunkReader) Chunked() bool {
	return r.file != nil
}

// Columns returns the header in file order.
func (r *ChunkReader) Columns() []string {
	return r.columns
}

// TotalRows returns the best-known total row count. In chunked mode this
// may be an estimate.
func (r *ChunkReader) TotalRows() int {
	return r.totalRows
}

// Next returns the next chunk, or io.EOF when the sequence is exhausted.
func (r *ChunkReader) Next() (*models.Chunk, error) {
	if r.done {
		return nil, io.EOF
	}
	if r.Chunked() {
		return r.nextStreamed()
	}
	return r.nextDirect()
}

func (r *ChunkReader) nextDirect() (*models.Chunk, error) {
	if r.pos >= len(r.table) {
		r.done = true
		return nil, io.EOF
	}

	end := r.pos + r.chunkSize
	if end > len(r.table) {
		end = len(r.table)
	}
	chunk := &models.Chunk{
		Seq:     r.seq,
		Columns: r.columns,
		Records: r.table[r.pos:end],
	}
	r.pos = end
	r.seq++
	return chunk, nil
}

func (r *ChunkReader) nextStreamed() (*models.Chunk, error) {
	records := make([]*models.Record, 0, r.chunkSize)
	for len(records) < r.chunkSize {
		row, err := r.csv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read stream row").
				WithDetail("row", r.origin)
		}
		records = append(records, rowToRecord(r.columns, row, r.origin))
		r.origin++
	}

	if len(records) == 0 {
		r.done = true
		return nil, io.EOF
	}

	chunk := &models.Chunk{Seq: r.seq, Columns: r.columns, Records: records}
	r.seq++
	return chunk, nil
}

// Close releases the reader's own file handle. The materialized stream
// itself stays on disk until its owner releases it.
func (r *ChunkReader) Close() error {
	r.done = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
