// Package quantize provides a crash-resistant cleaning pipeline for student
// record files of unpredictable size and quality.
//
// The pipeline ingests delimited text and spreadsheet files, maps arbitrary
// column headers onto a canonical field vocabulary, detects duplicate
// records either exactly or by name similarity, and exports the clean and
// duplicate partitions as separate tabular files.
//
// # Architecture
//
// The pipeline is built around four guarantees:
//
// 1. Bounded memory: large inputs are converted batch by batch into a
// materialized on-disk stream and processed in fixed-size chunks, so peak
// memory never depends on file size.
//
// 2. Graceful degradation: row-count estimation falls back through
// progressively coarser heuristics, and a failed conversion batch yields a
// partial stream instead of a crash.
//
// 3. Deterministic results: chunks are processed strictly sequentially and
// ties break on the stable origin index, so the same input always produces
// the same partitions.
//
// 4. Observability without interference: a memory guard samples process
// usage on its own goroutine and writes diagnostic dumps, but never pauses
// or cancels pipeline work.
//
// # Quick Start
//
//	import (
//	    "github.com/edudata/quantize/internal/session"
//	    "github.com/edudata/quantize/pkg/config"
//	)
//
//	cfg := config.Default()
//	cfg.Matching.Fuzzy = true
//	cfg.Matching.Threshold = 85
//
//	s, err := session.New(cfg)
//	if err != nil {
//	    // handle error
//	}
//	defer s.Close()
//
//	s.Run("students.xlsx", "clean.csv", "duplicates.csv", true, session.Callbacks{
//	    Done: func(out *models.Outcome) { /* consume stats */ },
//	})
//	s.Wait()
package quantize
