package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/logger"
)

// rowSource is a forward-only reader over one tabular file. Header is the
// first row; Next returns data rows until io.EOF.
type rowSource interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// openSource dispatches on the file extension. Delimited text, modern
// workbooks (.xlsx) and legacy BIFF workbooks (.xls) are supported.
func openSource(path string) (rowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return openDelimited(path, ',')
	case ".tsv":
		return openDelimited(path, '\t')
	case ".xlsx", ".xlsm":
		return openXLSX(path)
	case ".xls":
		return openXLS(path)
	default:
		return nil, errors.New(errors.ErrorTypeFile, "unsupported file type").
			WithDetail("path", path).
			WithDetail("extension", filepath.Ext(path))
	}
}

// csvSource reads delimited text through encoding/csv.
type csvSource struct {
	file   *os.File
	reader *csv.Reader
	header []string
}

func openDelimited(path string, comma rune) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open file").
			WithDetail("path", path)
	}

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, errors.New(errors.ErrorTypeData, "file has no header row").
				WithDetail("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read header row").
			WithDetail("path", path)
	}

	return &csvSource{file: f, reader: r, header: header}, nil
}

func (s *csvSource) Header() []string { return s.header }

func (s *csvSource) Next() ([]string, error) {
	row, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *csvSource) Close() error { return s.file.Close() }

// xlsxSource streams rows from the first sheet of a modern workbook.
type xlsxSource struct {
	book   *excelize.File
	rows   *excelize.Rows
	header []string
	width  int
}

func openXLSX(path string) (*xlsxSource, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open workbook").
			WithDetail("path", path)
	}

	sheet := book.GetSheetName(0)
	rows, err := book.Rows(sheet)
	if err != nil {
		book.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to iterate worksheet").
			WithDetail("path", path).
			WithDetail("sheet", sheet)
	}

	if !rows.Next() {
		rows.Close()
		book.Close()
		return nil, errors.New(errors.ErrorTypeData, "worksheet has no header row").
			WithDetail("path", path)
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		book.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read header row").
			WithDetail("path", path)
	}

	return &xlsxSource{book: book, rows: rows, header: header, width: len(header)}, nil
}

func (s *xlsxSource) Header() []string { return s.header }

func (s *xlsxSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	row, err := s.rows.Columns()
	if err != nil {
		return nil, err
	}
	// trailing empty cells are dropped by the iterator; pad back out
	for len(row) < s.width {
		row = append(row, "")
	}
	return row, nil
}

func (s *xlsxSource) Close() error {
	s.rows.Close()
	return s.book.Close()
}

// xlsSource reads the first sheet of a legacy BIFF workbook. The format
// is index-addressed rather than streamed, so rows are fetched by number.
// xls.Open never closes the file it opens, so the source opens the file
// itself and holds it for Close.
type xlsSource struct {
	file   *os.File
	sheet  *xls.WorkSheet
	header []string
	width  int
	next   int
	last   int
}

func openXLS(path string) (*xlsSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open legacy workbook").
			WithDetail("path", path)
	}

	book, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read legacy workbook").
			WithDetail("path", path)
	}

	sheet := book.GetSheet(0)
	if sheet == nil {
		f.Close()
		return nil, errors.New(errors.ErrorTypeData, "workbook has no sheets").
			WithDetail("path", path)
	}

	last := int(sheet.MaxRow)
	header := xlsRow(sheet, 0, 0)
	if len(header) == 0 {
		f.Close()
		return nil, errors.New(errors.ErrorTypeData, "worksheet has no header row").
			WithDetail("path", path)
	}

	return &xlsSource{file: f, sheet: sheet, header: header, width: len(header), next: 1, last: last}, nil
}

func (s *xlsSource) Header() []string { return s.header }

func (s *xlsSource) Next() ([]string, error) {
	if s.next > s.last {
		return nil, io.EOF
	}
	row := xlsRow(s.sheet, s.next, s.width)
	s.next++
	return row, nil
}

func (s *xlsSource) Close() error { return s.file.Close() }

// xlsRow extracts one row's cells, padded to width when width > 0.
func xlsRow(sheet *xls.WorkSheet, n, width int) []string {
	row := sheet.Row(n)
	if row == nil {
		if width == 0 {
			return nil
		}
		return make([]string, width)
	}

	end := row.LastCol()
	if width > 0 && end < width {
		end = width
	}
	cells := make([]string, 0, end)
	for i := 0; i < end; i++ {
		cells = append(cells, row.Col(i))
	}
	return cells
}

// estimateRows produces the best available row-count estimate without a
// full load. Workbook metadata is tried first; when that fails the count
// falls back to a size heuristic of one row per hundred bytes, floored at
// five hundred rows.
func estimateRows(path string) (rows int, exact bool) {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		var n int
		if n, err = xlsxRowCount(path); err == nil {
			return n, true
		}
	case ".xls":
		var n int
		if n, err = xlsRowCount(path); err == nil {
			return n, true
		}
	case ".csv", ".txt", ".tsv":
		var n int
		if n, err = lineCount(path); err == nil {
			return n, true
		}
	}

	if err != nil {
		eerr := errors.Wrap(err, errors.ErrorTypeEstimation, "native row estimation failed").
			WithDetail("path", path)
		logger.Warn("falling back to size-based estimate", zap.Error(eerr))
	}
	return sizeBasedEstimate(path), false
}

// xlsRowCount opens a legacy workbook just long enough to read the first
// sheet's row count.
func xlsRowCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	book, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return 0, err
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return 0, errors.New(errors.ErrorTypeData, "workbook has no sheets")
	}
	return int(sheet.MaxRow), nil
}

// xlsxRowCount reads the sheet dimension reference, e.g. "A1:D120".
func xlsxRowCount(path string) (int, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer book.Close()

	dim, err := book.GetSheetDimension(book.GetSheetName(0))
	if err != nil {
		return 0, err
	}
	parts := strings.Split(dim, ":")
	ref := parts[len(parts)-1]

	digits := strings.TrimLeftFunc(ref, func(r rune) bool {
		return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r == '$'
	})
	lastRow, err := strconv.Atoi(digits)
	if err != nil {
		return 0, err
	}
	// exclude the header row
	if lastRow > 0 {
		lastRow--
	}
	return lastRow, nil
}

// lineCount counts newline-terminated data rows in a delimited file.
func lineCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	lines := 0
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				lines++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	// exclude the header row
	if lines > 0 {
		lines--
	}
	return lines, nil
}

// sizeBasedEstimate assumes roughly one hundred bytes per row and never
// estimates below five hundred rows.
func sizeBasedEstimate(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		return 500
	}
	estimate := int(info.Size() / 100)
	if estimate < 500 {
		estimate = 500
	}
	return estimate
}
