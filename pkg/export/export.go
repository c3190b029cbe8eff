// Package export writes the clean and duplicate partitions to disk. The
// output format is inferred from each destination path's extension:
// delimited text by default, a workbook for .xlsx. Legacy .xls output is
// not supported; such files can be read but not written.
package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/models"
)

// Result records where and what one export wrote.
type Result struct {
	CleanPath        string    `json:"clean_path"`
	CleanRecords     int       `json:"clean_records"`
	CleanFormat      string    `json:"clean_format"`
	DuplicatePath    string    `json:"duplicate_path"`
	DuplicateRecords int       `json:"duplicate_records"`
	DuplicateFormat  string    `json:"duplicate_format"`
	TotalRecords     int       `json:"total_records"`
	ExportedAt       time.Time `json:"exported_at"`
}

// Exporter writes detection outcomes to tabular files.
type Exporter struct {
	log *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter() *Exporter {
	return &Exporter{log: logger.Get().With(zap.String("component", "export"))}
}

// Export writes both partitions. A failure is fatal to the export step
// only; the outcome stays valid and can be re-exported to another path.
func (e *Exporter) Export(out *models.Outcome, cleanPath, duplicatePath string) (*Result, error) {
	if out == nil {
		return nil, errors.New(errors.ErrorTypeExport, "no detection outcome to export")
	}

	for _, path := range []string{cleanPath, duplicatePath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeExport, "failed to create output directory").
					WithDetail("dir", dir)
			}
		}
	}

	cleanFormat, err := e.writePartition(cleanPath, out.Columns, out.Clean)
	if err != nil {
		return nil, err
	}
	e.log.Info("exported clean partition",
		zap.String("path", cleanPath),
		zap.Int("records", len(out.Clean)))

	duplicateFormat, err := e.writePartition(duplicatePath, out.Columns, out.Duplicate)
	if err != nil {
		return nil, err
	}
	e.log.Info("exported duplicate partition",
		zap.String("path", duplicatePath),
		zap.Int("records", len(out.Duplicate)))

	return &Result{
		CleanPath:        cleanPath,
		CleanRecords:     len(out.Clean),
		CleanFormat:      cleanFormat,
		DuplicatePath:    duplicatePath,
		DuplicateRecords: len(out.Duplicate),
		DuplicateFormat:  duplicateFormat,
		TotalRecords:     len(out.Clean) + len(out.Duplicate),
		ExportedAt:       time.Now(),
	}, nil
}

// Write writes a single tabular file, creating parent directories. The
// format follows the path's extension like Export.
func (e *Exporter) Write(path string, columns []string, records []*models.Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrorTypeExport, "failed to create output directory").
				WithDetail("dir", dir)
		}
	}
	_, err := e.writePartition(path, columns, records)
	return err
}

// writePartition writes one partition and reports the format used.
func (e *Exporter) writePartition(path string, columns []string, records []*models.Record) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "Excel", e.writeXLSX(path, columns, records)
	case ".xls":
		return "", errors.New(errors.ErrorTypeExport, "legacy .xls output is not supported, use .xlsx or .csv").
			WithDetail("path", path)
	default:
		return "CSV", e.writeCSV(path, columns, records)
	}
}

func (e *Exporter) writeCSV(path string, columns []string, records []*models.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "failed to create output file").
			WithDetail("path", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "failed to write header").
			WithDetail("path", path)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i] = rec.Get(col)
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeExport, "failed to write row").
				WithDetail("path", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "failed to flush output").
			WithDetail("path", path)
	}
	return nil
}

func (e *Exporter) writeXLSX(path string, columns []string, records []*models.Record) error {
	book := excelize.NewFile()
	defer book.Close()
	sheet := book.GetSheetName(0)

	sw, err := book.NewStreamWriter(sheet)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "failed to create workbook writer").
			WithDetail("path", path)
	}

	header := make([]interface{}, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "failed to write header").
			WithDetail("path", path)
	}

	for i, rec := range records {
		row := make([]interface{}, len(columns))
		for j, col := range columns {
			row[j] = rec.Get(col)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeExport, "failed to address row").
				WithDetail("path", path)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeExport, "failed to write row").
				WithDetail("path", path)
		}
	}

	if err := sw.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "failed to flush workbook").
			WithDetail("path", path)
	}
	if err := book.SaveAs(path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "failed to save workbook").
			WithDetail("path", path)
	}
	return nil
}
