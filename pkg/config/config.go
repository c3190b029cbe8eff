// Package config provides the unified configuration for a Quantize
// cleaning session. A single CleaningConfig structure carries every knob
// the pipeline consumes, organized into logical sections:
//
//   - Identity: which columns form the composite identity key
//   - Matching: exact vs fuzzy duplicate matching and the fuzzy threshold
//   - Ingest: chunk sizing and the small-file direct-load thresholds
//   - MemoryGuard: background memory observer settings
//   - Logging: log level and encoding
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Matching.Fuzzy = true
//	cfg.Matching.Threshold = 85
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// CleaningConfig is the configuration for one cleaning session.
type CleaningConfig struct {
	// Identity names the columns forming the composite identity key
	Identity IdentityConfig `yaml:"identity" json:"identity"`

	// Matching controls duplicate-detection behavior
	Matching MatchingConfig `yaml:"matching" json:"matching"`

	// Ingest controls chunking and ingestion strategy selection
	Ingest IngestConfig `yaml:"ingest" json:"ingest"`

	// MemoryGuard controls the background memory observer
	MemoryGuard MemoryGuardConfig `yaml:"memory_guard" json:"memory_guard"`

	// Logging controls log output
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// IdentityConfig names the columns that form the composite identity key
// (name, date-of-birth, academic year).
type IdentityConfig struct {
	NameColumn string `yaml:"name_column" json:"name_column"`
	DOBColumn  string `yaml:"dob_column" json:"dob_column"`
	YearColumn string `yaml:"year_column" json:"year_column"`
}

// MatchingConfig controls duplicate matching.
type MatchingConfig struct {
	// Fuzzy enables similarity-scored name matching within (dob, year) groups
	Fuzzy bool `yaml:"fuzzy" json:"fuzzy"`
	// Threshold is the minimum similarity score (50-100) for a fuzzy match
	Threshold int `yaml:"threshold" json:"threshold"`
	// Scorer selects the similarity strategy ("levenshtein" or "basic")
	Scorer string `yaml:"scorer" json:"scorer"`
}

// IngestConfig controls ingestion and chunking.
type IngestConfig struct {
	// ChunkSize is the number of records per processing chunk
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ConversionBatch is the number of rows read per conversion batch
	ConversionBatch int `yaml:"conversion_batch" json:"conversion_batch"`
	// SmallFileBytes is the byte threshold below which direct loading is used
	SmallFileBytes int64 `yaml:"small_file_bytes" json:"small_file_bytes"`
	// SmallFileRows is the row threshold below which direct loading is used
	SmallFileRows int `yaml:"small_file_rows" json:"small_file_rows"`
	// PreviewRows is how many rows the ingest preview carries
	PreviewRows int `yaml:"preview_rows" json:"preview_rows"`
	// TempDir overrides the directory for materialized streams ("" = system)
	TempDir string `yaml:"temp_dir" json:"temp_dir"`
}

// MemoryGuardConfig controls the background memory observer.
type MemoryGuardConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interval between memory samples
	Interval time.Duration `yaml:"interval" json:"interval"`
	// SpikeMB is the single-interval growth that triggers a dump
	SpikeMB float64 `yaml:"spike_mb" json:"spike_mb"`
	// CeilingMB is the absolute usage that triggers a dump
	CeilingMB float64 `yaml:"ceiling_mb" json:"ceiling_mb"`
	// DumpDir is where diagnostic dumps are written
	DumpDir string `yaml:"dump_dir" json:"dump_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Encoding string `yaml:"encoding" json:"encoding"`
}

// Default returns a CleaningConfig with production-ready defaults.
// The identity columns default to the canonical field names produced by
// the field classifier.
func Default() *CleaningConfig {
	return &CleaningConfig{
		Identity: IdentityConfig{
			NameColumn: "StudentName",
			DOBColumn:  "DateOfBirth",
			YearColumn: "AcademicYear",
		},
		Matching: MatchingConfig{
			Fuzzy:     false,
			Threshold: 90,
			Scorer:    "levenshtein",
		},
		Ingest: IngestConfig{
			ChunkSize:       10000,
			ConversionBatch: 1000,
			SmallFileBytes:  1_000_000,
			SmallFileRows:   5000,
			PreviewRows:     10,
		},
		MemoryGuard: MemoryGuardConfig{
			Enabled:   true,
			Interval:  time.Second,
			SpikeMB:   500,
			CeilingMB: 3000,
			DumpDir:   "emergency_dumps",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate checks the configuration for correctness. Call it after
// loading to catch errors before a session starts.
func (c *CleaningConfig) Validate() error {
	if c.Identity.NameColumn == "" {
		return fmt.Errorf("identity.name_column is required")
	}
	if c.Identity.DOBColumn == "" {
		return fmt.Errorf("identity.dob_column is required")
	}
	if c.Identity.YearColumn == "" {
		return fmt.Errorf("identity.year_column is required")
	}
	if c.Matching.Threshold < 50 || c.Matching.Threshold > 100 {
		return fmt.Errorf("matching.threshold must be in [50, 100], got %d", c.Matching.Threshold)
	}
	if c.Matching.Scorer != "levenshtein" && c.Matching.Scorer != "basic" {
		return fmt.Errorf("matching.scorer must be \"levenshtein\" or \"basic\", got %q", c.Matching.Scorer)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive")
	}
	if c.Ingest.ConversionBatch <= 0 {
		return fmt.Errorf("ingest.conversion_batch must be positive")
	}
	if c.Ingest.SmallFileBytes < 0 {
		return fmt.Errorf("ingest.small_file_bytes cannot be negative")
	}
	if c.Ingest.SmallFileRows < 0 {
		return fmt.Errorf("ingest.small_file_rows cannot be negative")
	}
	if c.MemoryGuard.Enabled {
		if c.MemoryGuard.Interval <= 0 {
			return fmt.Errorf("memory_guard.interval must be positive")
		}
		if c.MemoryGuard.SpikeMB <= 0 {
			return fmt.Errorf("memory_guard.spike_mb must be positive")
		}
		if c.MemoryGuard.CeilingMB <= 0 {
			return fmt.Errorf("memory_guard.ceiling_mb must be positive")
		}
	}
	return nil
}
