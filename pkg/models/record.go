// Package models provides the data model for Quantize: records read from
// tabular student files, the bounded chunks they travel in, and the
// outcome of a duplicate-detection run.
package models

import (
	"time"
)

// Record is a single row of a student-record file. Fields maps a
// canonical-or-original column name to its cell value; Origin is the stable
// zero-based row index in the source file, used for deterministic
// tie-breaking. Records are created during ingestion and never mutated in
// place afterwards; classification produces new maps rather than editing
// existing ones.
type Record struct {
	// Origin is the row's position in the source file (0 = first data row)
	Origin int64 `json:"origin"`

	// Fields holds the row's values keyed by column name
	Fields map[string]string `json:"fields"`
}

// Get returns the value for a column, or the empty string when absent.
func (r *Record) Get(column string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[column]
}

// Chunk is a bounded, ordered batch of records processed as a unit.
// Seq increases monotonically from 0 within one session.
type Chunk struct {
	// Seq is the chunk's position in the stream
	Seq int

	// Columns preserves the file's column order for the records below
	Columns []string

	// Records holds the chunk's rows in origin order
	Records []*Record
}

// Size returns the number of records in the chunk.
func (c *Chunk) Size() int {
	return len(c.Records)
}

// Stats summarizes one duplicate-detection run. The partition invariant
// Clean + Duplicate == Total holds for every completed run.
type Stats struct {
	Total            int       `json:"total_records"`
	Clean            int       `json:"clean_records"`
	Duplicate        int       `json:"duplicate_records"`
	DuplicatePercent float64   `json:"duplicate_percentage"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Outcome partitions all processed records into clean representatives and
// their duplicates, with the run's aggregate counters.
type Outcome struct {
	// Columns is the column order shared by both partitions
	Columns []string

	// Clean holds one representative per identity group
	Clean []*Record

	// Duplicate holds every record displaced by a representative
	Duplicate []*Record

	Stats Stats
}
