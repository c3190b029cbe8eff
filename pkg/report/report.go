// Package report turns a cleaning run's statistics into human-readable
// text and machine-readable JSON artifacts.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/export"
	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/models"
)

// Report collects one cleaning run's summary and detail sections.
type Report struct {
	Timestamp time.Time              `json:"timestamp"`
	Summary   map[string]interface{} `json:"summary"`
	Details   map[string]interface{} `json:"details"`

	log *zap.Logger
}

// New creates an empty report stamped with the current time.
func New() *Report {
	return &Report{
		Timestamp: time.Now(),
		Summary:   map[string]interface{}{},
		Details:   map[string]interface{}{},
		log:       logger.Get().With(zap.String("component", "report")),
	}
}

// SetStats fills the summary section from detection statistics.
func (r *Report) SetStats(stats models.Stats) {
	r.Summary["total_records"] = stats.Total
	r.Summary["clean_records"] = stats.Clean
	r.Summary["duplicate_records"] = stats.Duplicate
	r.Summary["duplicate_percentage"] = stats.DuplicatePercent
	if !stats.StartedAt.IsZero() {
		r.Summary["started_at"] = stats.StartedAt.Format(time.RFC3339)
		r.Summary["duration"] = stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond).String()
	}
}

// SetExport records where the partitions were written.
func (r *Report) SetExport(res *export.Result) {
	r.Details["export"] = res
}

// AddSection attaches an arbitrary detail section.
func (r *Report) AddSection(name string, data interface{}) {
	r.Details[name] = data
}

// Text renders the report for terminal display.
func (r *Report) Text() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "EDUCATION DATA CLEANING REPORT")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.Timestamp.Format("2006-01-02 15:04:05"))

	fmt.Fprintln(&b, "SUMMARY")
	fmt.Fprintln(&b, thin)
	for _, key := range sortedKeys(r.Summary) {
		fmt.Fprintf(&b, "%s: %v\n", key, r.Summary[key])
	}

	if len(r.Details) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "DETAILS")
		fmt.Fprintln(&b, thin)
		for _, key := range sortedKeys(r.Details) {
			fmt.Fprintf(&b, "%s: %v\n", key, r.Details[key])
		}
	}

	return b.String()
}

// WriteJSON saves the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to create report directory").
				WithDetail("dir", dir)
		}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write report").
			WithDetail("path", path)
	}

	r.log.Info("report written", zap.String("path", path))
	return nil
}

// List returns the JSON report artifacts under dir, newest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read report directory").
			WithDetail("dir", dir)
	}

	type artifact struct {
		path string
		mod  time.Time
	}
	var found []artifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, artifact{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })

	paths := make([]string, len(found))
	for i, a := range found {
		paths[i] = a.path
	}
	return paths, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
