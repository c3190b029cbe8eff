package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/models"
)

func testOutcome() *models.Outcome {
	return &models.Outcome{
		Columns: []string{"StudentName", "DateOfBirth", "AcademicYear"},
		Clean: []*models.Record{
			{Origin: 0, Fields: map[string]string{
				"StudentName": "Alice Smith", "DateOfBirth": "2001-05-14", "AcademicYear": "2022",
			}},
			{Origin: 2, Fields: map[string]string{
				"StudentName": "Bob Jones", "DateOfBirth": "2002-11-03", "AcademicYear": "2022",
			}},
		},
		Duplicate: []*models.Record{
			{Origin: 1, Fields: map[string]string{
				"StudentName": "Alice Smith", "DateOfBirth": "2001-05-14", "AcademicYear": "2022",
			}},
		},
	}
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	cleanPath := filepath.Join(dir, "clean.csv")
	dupPath := filepath.Join(dir, "duplicates.csv")

	res, err := NewExporter().Export(testOutcome(), cleanPath, dupPath)
	require.NoError(t, err)

	assert.Equal(t, 2, res.CleanRecords)
	assert.Equal(t, 1, res.DuplicateRecords)
	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, "CSV", res.CleanFormat)
	assert.False(t, res.ExportedAt.IsZero())

	data, err := os.ReadFile(cleanPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "StudentName,DateOfBirth,AcademicYear", lines[0])
	assert.Equal(t, "Alice Smith,2001-05-14,2022", lines[1])
}

func TestExportXLSX(t *testing.T) {
	dir := t.TempDir()
	cleanPath := filepath.Join(dir, "clean.xlsx")
	dupPath := filepath.Join(dir, "duplicates.xlsx")

	res, err := NewExporter().Export(testOutcome(), cleanPath, dupPath)
	require.NoError(t, err)
	assert.Equal(t, "Excel", res.CleanFormat)

	book, err := excelize.OpenFile(cleanPath)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(book.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"StudentName", "DateOfBirth", "AcademicYear"}, rows[0])
	assert.Equal(t, "Bob Jones", rows[2][0])
}

func TestExportRejectsLegacyXLS(t *testing.T) {
	dir := t.TempDir()
	_, err := NewExporter().Export(testOutcome(),
		filepath.Join(dir, "clean.xls"),
		filepath.Join(dir, "duplicates.csv"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExport))
}

func TestExportCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	cleanPath := filepath.Join(dir, "out", "nested", "clean.csv")
	dupPath := filepath.Join(dir, "out", "nested", "duplicates.csv")

	_, err := NewExporter().Export(testOutcome(), cleanPath, dupPath)
	require.NoError(t, err)
	_, err = os.Stat(cleanPath)
	assert.NoError(t, err)
}

func TestExportNilOutcome(t *testing.T) {
	_, err := NewExporter().Export(nil, "clean.csv", "dup.csv")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExport))
}

func TestExportIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	out := testOutcome()
	exp := NewExporter()

	// a failed export leaves the outcome valid for another attempt
	_, err := exp.Export(out, filepath.Join(dir, "clean.xls"), filepath.Join(dir, "d.csv"))
	require.Error(t, err)

	res, err := exp.Export(out, filepath.Join(dir, "clean.csv"), filepath.Join(dir, "d.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.CleanRecords)
}
