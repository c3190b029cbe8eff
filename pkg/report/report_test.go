package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edudata/quantize/pkg/export"
	"github.com/edudata/quantize/pkg/models"
)

func TestTextReport(t *testing.T) {
	r := New()
	r.SetStats(models.Stats{
		Total:            100,
		Clean:            85,
		Duplicate:        15,
		DuplicatePercent: 15.0,
		StartedAt:        time.Now().Add(-2 * time.Second),
		FinishedAt:       time.Now(),
	})

	text := r.Text()
	assert.Contains(t, text, "EDUCATION DATA CLEANING REPORT")
	assert.Contains(t, text, "total_records: 100")
	assert.Contains(t, text, "duplicate_percentage: 15")
	assert.Contains(t, text, "SUMMARY")
}

func TestSetExportAppearsInDetails(t *testing.T) {
	r := New()
	r.SetExport(&export.Result{CleanPath: "out/clean.csv", CleanRecords: 9, DuplicateRecords: 1})

	text := r.Text()
	assert.Contains(t, text, "DETAILS")
	assert.Contains(t, text, "out/clean.csv")
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "run.json")

	r := New()
	r.SetStats(models.Stats{Total: 10, Clean: 9, Duplicate: 1, DuplicatePercent: 10.0})
	r.AddSection("source", map[string]string{"file": "input.csv"})
	require.NoError(t, r.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded struct {
		Summary map[string]interface{} `json:"summary"`
		Details map[string]interface{} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 10, decoded.Summary["total_records"])
	require.Contains(t, decoded.Details, "source")
}

func TestListReturnsNewestFirst(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "run_old.json")
	newer := filepath.Join(dir, "run_new.json")
	require.NoError(t, os.WriteFile(older, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	// Explicit mtimes so ordering does not depend on write timing.
	base := time.Now()
	require.NoError(t, os.Chtimes(older, base.Add(-time.Hour), base.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, base, base))

	paths, err := List(dir)
	require.NoError(t, err)
	require.Equal(t, []string{newer, older}, paths)
}

func TestListMissingDir(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
