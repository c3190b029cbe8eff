// Package ingest loads tabular student files of unpredictable size without
// risking the process. Small inputs are read straight into memory; anything
// larger is converted batch by batch into a materialized on-disk stream so
// that peak memory stays bounded by one batch regardless of file size.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/config"
	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/models"
)

// Progress receives ingestion progress updates. percent is -1 when the
// duration is unknown, otherwise 0..100 and monotonically non-decreasing
// within one stage.
type Progress func(percent int, message string)

// Result is the outcome of one ingestion. Exactly one of Table (direct
// mode) and Stream (chunked mode) is populated.
type Result struct {
	// Columns is the header row in file order
	Columns []string

	// Preview holds up to the configured number of leading rows
	Preview []*models.Record

	// Table holds every record when the input was small enough to
	// load directly; nil in chunked mode
	Table []*models.Record

	// Stream is the materialized on-disk artifact in chunked mode;
	// nil in direct mode
	Stream *MaterializedStream

	// Rows is the best-known total row count
	Rows int

	// RowsExact reports whether Rows was counted rather than estimated
	RowsExact bool
}

// Direct reports whether the input was fully materialized in memory.
func (r *Result) Direct() bool {
	return r.Stream == nil
}

// SafeIngestor converts input files into either an in-memory table or a
// materialized stream, never crashing the caller on a bad batch.
type SafeIngestor struct {
	cfg config.IngestConfig
	log *zap.Logger
}

// NewSafeIngestor creates an ingestor with the given settings.
func NewSafeIngestor(cfg config.IngestConfig) *SafeIngestor {
	return &SafeIngestor{
		cfg: cfg,
		log: logger.Get().With(zap.String("component", "ingest")),
	}
}

// Ingest loads the file at path. Strategy selection, in order: estimate the
// row count (native metadata, then a size heuristic), take the direct
// in-memory path for small files, otherwise convert to a materialized
// stream in bounded batches. A batch failure mid-conversion stops the
// conversion at the last good row and returns the partial stream together
// with a non-fatal ingestion error; callers decide via errors.IsFatal
// whether to continue with the degraded result.
func (si *SafeIngestor) Ingest(ctx context.Context, path string, progress Progress) (*Result, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "input file is not accessible").
			WithDetail("path", path)
	}

	si.log.Info("starting ingestion",
		zap.String("path", path),
		zap.Int64("size_bytes", info.Size()))
	progress(-1, "Estimating file size...")

	rows, exact := estimateRows(path)
	si.log.Info("row estimate",
		zap.Int("rows", rows),
		zap.Bool("exact", exact))

	if info.Size() < si.cfg.SmallFileBytes && rows < si.cfg.SmallFileRows {
		si.log.Info("small file detected, using direct processing")
		return si.ingestDirect(ctx, path, progress)
	}

	return si.ingestChunked(ctx, path, rows, exact, progress)
}

// ingestDirect loads the whole file into memory.
func (si *SafeIngestor) ingestDirect(ctx context.Context, path string, progress Progress) (*Result, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	progress(-1, "Loading file...")

	columns := src.Header()
	var table []*models.Record
	origin := int64(0)
	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read row").
				WithDetail("path", path).
				WithDetail("row", origin)
		}
		table = append(table, rowToRecord(columns, row, origin))
		origin++
	}

	preview := table
	if len(preview) > si.cfg.PreviewRows {
		preview = preview[:si.cfg.PreviewRows]
	}

	progress(100, "Load complete.")
	si.log.Info("direct load complete", zap.Int("rows", len(table)))

	return &Result{
		Columns:   columns,
		Preview:   preview,
		Table:     table,
		Rows:      len(table),
		RowsExact: true,
	}, nil
}

// ingestChunked converts the input into a temporary delimited stream in
// batches, writing the header only once and appending thereafter.
func (si *SafeIngestor) ingestChunked(ctx context.Context, path string, estimate int, exact bool, progress Progress) (*Result, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(si.cfg.TempDir, "quantize-*.csv")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create materialized stream").
			WithDetail("dir", si.cfg.TempDir)
	}
	out := csv.NewWriter(tmp)

	columns := src.Header()
	if err := out.Write(columns); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write stream header").
			WithDetail("path", tmp.Name())
	}

	progress(-1, "Starting conversion...")
	si.log.Info("starting chunked conversion",
		zap.String("stream", tmp.Name()),
		zap.Int("batch_size", si.cfg.ConversionBatch))

	var preview []*models.Record
	var degraded error
	processed := 0

loop:
	for {
		select {
		case <-ctx.Done():
			si.log.Warn("conversion cancelled", zap.Int("rows_written", processed))
			break loop
		default:
		}

		batch, err := readBatch(src, si.cfg.ConversionBatch)
		if err != nil {
			// degrade rather than fail: keep whatever was converted
			degraded = errors.Wrap(err, errors.ErrorTypeIngestion, "batch read failed").
				WithDetail("rows_written", processed)
			si.log.Error("keeping partial stream", zap.Error(degraded))
			break
		}
		if len(batch) == 0 {
			break
		}

		for i, row := range batch {
			if len(preview) < si.cfg.PreviewRows {
				preview = append(preview, rowToRecord(columns, row, int64(processed+i)))
			}
			if err := out.Write(row); err != nil {
				degraded = errors.Wrap(err, errors.ErrorTypeIngestion, "batch write failed").
					WithDetail("rows_written", processed).
					WithDetail("stream", tmp.Name())
				si.log.Error("keeping partial stream", zap.Error(degraded))
				break loop
			}
		}
		processed += len(batch)

		if exact && estimate > 0 {
			pct := processed * 99 / estimate
			if pct > 99 {
				pct = 99
			}
			progress(-1, fmt.Sprintf("Processing... %d/%d rows (%d%%)", processed, estimate, pct))
		} else {
			progress(-1, fmt.Sprintf("Processing... %d rows loaded", processed))
		}
	}

	out.Flush()
	if err := out.Error(); err != nil {
		si.log.Error("failed to flush materialized stream", zap.Error(err))
	}
	if err := tmp.Close(); err != nil {
		si.log.Error("failed to close materialized stream", zap.Error(err))
	}

	progress(100, "Load complete.")
	si.log.Info("chunked conversion complete", zap.Int("rows", processed))

	return &Result{
		Columns:   columns,
		Preview:   preview,
		Stream:    &MaterializedStream{path: tmp.Name(), rows: processed},
		Rows:      processed,
		RowsExact: true,
	}, degraded
}

// readBatch reads up to n rows from the source. A short batch means the
// source is exhausted; an error surfaces only when no full read happened.
func readBatch(src rowSource, n int) ([][]string, error) {
	batch := make([][]string, 0, n)
	for len(batch) < n {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(batch) > 0 {
				return batch, nil
			}
			return nil, err
		}
		batch = append(batch, row)
	}
	return batch, nil
}

// rowToRecord builds a record from a raw row, padding missing cells.
func rowToRecord(columns []string, row []string, origin int64) *models.Record {
	fields := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(row) {
			fields[col] = row[i]
		} else {
			fields[col] = ""
		}
	}
	return &models.Record{Origin: origin, Fields: fields}
}
