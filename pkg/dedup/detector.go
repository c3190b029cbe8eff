// Package dedup classifies student records as clean or duplicate. Each
// chunk is processed independently in origin order; after the last chunk an
// exact-only reconciliation pass over the accumulated clean partition
// catches duplicates whose occurrences landed in different chunks.
package dedup

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/config"
	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/models"
	"github.com/edudata/quantize/pkg/similarity"
)

// ChunkSource is the sequence of chunks a detection run consumes.
// ingest.ChunkReader satisfies it.
type ChunkSource interface {
	// Next returns the next chunk, or io.EOF when exhausted
	Next() (*models.Chunk, error)
	// Columns is the header in file order
	Columns() []string
	// TotalRows is the best-known total, possibly an estimate
	TotalRows() int
}

// State is the detector's position in one run's lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateProcessing  State = "processing"
	StateReconciling State = "reconciling"
	StateDone        State = "done"
)

// keySep separates key parts; unit separator never occurs in cell values.
const keySep = "\x1f"

// Detector runs duplicate detection for one session. It is single-use:
// construct a fresh detector per run.
type Detector struct {
	identity  config.IdentityConfig
	fuzzy     bool
	threshold int
	scorer    similarity.Scorer
	log       *zap.Logger

	state     State
	clean     []*models.Record
	duplicate []*models.Record
	total     int
}

// NewDetector builds a detector from the session configuration.
func NewDetector(cfg *config.CleaningConfig) *Detector {
	return &Detector{
		identity:  cfg.Identity,
		fuzzy:     cfg.Matching.Fuzzy,
		threshold: cfg.Matching.Threshold,
		scorer:    similarity.NewScorer(similarity.Kind(cfg.Matching.Scorer)),
		state:     StateIdle,
		log: logger.Get().With(
			zap.String("component", "dedup"),
			zap.Bool("fuzzy", cfg.Matching.Fuzzy)),
	}
}

// State returns the detector's current lifecycle state.
func (d *Detector) State() State {
	return d.state
}

// Run consumes every chunk from the reader sequentially, reconciles across
// chunk boundaries and returns the partitioned outcome. Any per-chunk
// error aborts the whole run; no partial outcome is returned. Cancellation
// is honored at chunk boundaries only.
func (d *Detector) Run(ctx context.Context, reader ChunkSource, progress func(percent int, message string)) (*models.Outcome, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	if d.state != StateIdle {
		return nil, errors.New(errors.ErrorTypeDetection, "detector has already run")
	}

	startedAt := time.Now()
	d.state = StateProcessing
	totalRows := reader.TotalRows()

	for {
		select {
		case <-ctx.Done():
			d.state = StateDone
			return nil, errors.New(errors.ErrorTypeCancelled, "detection cancelled").
				WithDetail("records_processed", d.total)
		default:
		}

		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			d.state = StateDone
			return nil, errors.Wrap(err, errors.ErrorTypeDetection, "failed to read chunk").
				WithDetail("records_processed", d.total)
		}

		if err := d.processChunk(chunk); err != nil {
			d.state = StateDone
			return nil, err
		}

		if totalRows > 0 {
			pct := d.total * 100 / totalRows
			if pct > 100 {
				pct = 100
			}
			progress(pct, fmt.Sprintf("Processed %d of %d records", d.total, totalRows))
		} else {
			progress(-1, fmt.Sprintf("Processed %d records", d.total))
		}
	}

	d.state = StateReconciling
	progress(-1, "Reconciling across chunks...")
	d.reconcile()

	finishedAt := time.Now()
	d.state = StateDone

	stats := models.Stats{
		Total:      d.total,
		Clean:      len(d.clean),
		Duplicate:  len(d.duplicate),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if d.total > 0 {
		pct := float64(len(d.duplicate)) / float64(d.total) * 100
		stats.DuplicatePercent = math.Round(pct*100) / 100
	}

	d.log.Info("detection complete",
		zap.Int("total", stats.Total),
		zap.Int("clean", stats.Clean),
		zap.Int("duplicates", stats.Duplicate),
		zap.Float64("duplicate_pct", stats.DuplicatePercent))
	progress(100, "Detection complete.")

	return &models.Outcome{
		Columns:   reader.Columns(),
		Clean:     d.clean,
		Duplicate: d.duplicate,
		Stats:     stats,
	}, nil
}

// processChunk partitions one chunk's records. Records arrive in origin
// order, so within-group survivors are always the earliest occurrence.
func (d *Detector) processChunk(chunk *models.Chunk) error {
	d.total += chunk.Size()

	if d.fuzzy {
		d.processFuzzy(chunk)
	} else {
		d.processExact(chunk)
	}

	d.log.Debug("chunk processed",
		zap.Int("seq", chunk.Seq),
		zap.Int("records", chunk.Size()),
		zap.Int("clean_so_far", len(d.clean)),
		zap.Int("duplicates_so_far", len(d.duplicate)))
	return nil
}

// processExact groups by the composite identity key (name, dob, year);
// the first occurrence of each key is clean, the rest are duplicates.
func (d *Detector) processExact(chunk *models.Chunk) {
	seen := make(map[string]struct{}, chunk.Size())
	for _, rec := range chunk.Records {
		key := d.identityKey(rec)
		if _, dup := seen[key]; dup {
			d.duplicate = append(d.duplicate, rec)
			continue
		}
		seen[key] = struct{}{}
		d.clean = append(d.clean, rec)
	}
}

// processFuzzy groups by (dob, year) only and clusters within each group
// by name similarity. Clustering is greedy and anchor-only: a record is a
// duplicate only when it scores at or above the threshold against the
// group's current anchor. A record similar to another duplicate but not
// to the anchor is left clean; this non-transitivity is the inherited
// behavior and deliberately not widened to a transitive closure.
func (d *Detector) processFuzzy(chunk *models.Chunk) {
	groups := make(map[string][]*models.Record)
	var order []string
	for _, rec := range chunk.Records {
		key := rec.Get(d.identity.DOBColumn) + keySep + rec.Get(d.identity.YearColumn)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			d.clean = append(d.clean, group[0])
			continue
		}

		assigned := make([]bool, len(group))
		for i, anchor := range group {
			if assigned[i] {
				continue
			}
			assigned[i] = true
			d.clean = append(d.clean, anchor)

			anchorName := normalizeName(anchor.Get(d.identity.NameColumn))
			for j := i + 1; j < len(group); j++ {
				if assigned[j] {
					continue
				}
				score := d.scorer.Score(anchorName, normalizeName(group[j].Get(d.identity.NameColumn)))
				if score >= d.threshold {
					assigned[j] = true
					d.duplicate = append(d.duplicate, group[j])
				}
			}
		}
	}
}

// reconcile runs one exact-only pass over the accumulated clean partition
// to merge duplicates split across chunk boundaries. Fuzzy pairs split
// across chunks are a known gap and are not caught here.
func (d *Detector) reconcile() {
	if len(d.clean) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(d.clean))
	kept := d.clean[:0]
	demoted := 0
	for _, rec := range d.clean {
		key := d.identityKey(rec)
		if _, dup := seen[key]; dup {
			d.duplicate = append(d.duplicate, rec)
			demoted++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, rec)
	}
	d.clean = kept

	if demoted > 0 {
		d.log.Info("reconciliation demoted cross-chunk duplicates",
			zap.Int("demoted", demoted))
	}
}

// identityKey builds the composite exact-match key from the raw values of
// the configured identity columns.
func (d *Detector) identityKey(rec *models.Record) string {
	return rec.Get(d.identity.NameColumn) + keySep +
		rec.Get(d.identity.DOBColumn) + keySep +
		rec.Get(d.identity.YearColumn)
}

// normalizeName lowercases and trims a name before fuzzy comparison.
func normalizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}
