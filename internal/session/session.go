// Package session owns one cleaning session end to end: ingest, optional
// field classification, duplicate detection and export. The interactive
// caller is never blocked; Run drives the whole pipeline on a background
// goroutine and reports through callbacks, while the session object keeps
// exclusive ownership of the materialized stream until Clear or Close.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/config"
	"github.com/edudata/quantize/pkg/dedup"
	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/export"
	"github.com/edudata/quantize/pkg/fieldmap"
	"github.com/edudata/quantize/pkg/ingest"
	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/memguard"
	"github.com/edudata/quantize/pkg/models"
)

// Callbacks receive asynchronous pipeline notifications. Any field may be
// nil. They are invoked from the pipeline goroutine.
type Callbacks struct {
	// Progress receives (percent, message); percent -1 is indeterminate
	Progress func(percent int, message string)
	// Loaded fires once ingestion finished
	Loaded func(res *ingest.Result)
	// Done fires with the final outcome after a successful detection
	Done func(out *models.Outcome)
	// Error fires when any stage fails; the pipeline stops
	Error func(err error)
}

// Session is one cleaning session. Methods are not safe for concurrent
// use except Cancel, which may be called from any goroutine.
type Session struct {
	ID string

	cfg        *config.CleaningConfig
	ingestor   *ingest.SafeIngestor
	classifier *fieldmap.Classifier
	exporter   *export.Exporter
	guard      *memguard.Guard
	log        *zap.Logger

	mu       sync.Mutex
	result   *ingest.Result
	mapping  models.FieldMapping
	outcome  *models.Outcome
	exported *export.Result
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a session and starts its memory guard.
func New(cfg *config.CleaningConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	guard, err := memguard.New(cfg.MemoryGuard)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create memory guard")
	}

	id := fmt.Sprintf("%x", time.Now().UnixNano())
	s := &Session{
		ID:         id,
		cfg:        cfg,
		ingestor:   ingest.NewSafeIngestor(cfg.Ingest),
		classifier: fieldmap.NewClassifier(),
		exporter:   export.NewExporter(),
		guard:      guard,
		log:        logger.Get().With(zap.String("session_id", id)),
	}
	guard.Start()
	return s, nil
}

// Guard exposes the session's memory guard for event consumers.
func (s *Session) Guard() *memguard.Guard {
	return s.guard
}

// Load ingests the file at path, releasing any previously held stream
// first so the session never owns two streams at once. A non-fatal
// ingestion error (a conversion that degraded to a partial stream) is
// absorbed here; the session continues with whatever was converted.
func (s *Session) Load(ctx context.Context, path string, progress func(int, string)) (*ingest.Result, error) {
	s.releaseStream()
	log := logger.WithContext(context.WithValue(ctx, logger.StageKey, "ingest"))

	res, err := s.ingestor.Ingest(ctx, path, progress)
	if err != nil {
		if res == nil || errors.IsFatal(err) {
			return nil, err
		}
		log.Warn("continuing with degraded ingestion", zap.Error(err))
	}

	s.mu.Lock()
	s.result = res
	s.mapping = nil
	s.outcome = nil
	s.mu.Unlock()

	log.Info("file loaded",
		zap.String("path", path),
		zap.Int("rows", res.Rows),
		zap.Bool("direct", res.Direct()))
	return res, nil
}

// Classify maps the loaded columns onto canonical fields using the
// ingestion preview as the content sample.
func (s *Session) Classify() (models.FieldMapping, error) {
	s.mu.Lock()
	res := s.result
	s.mu.Unlock()
	if res == nil {
		return nil, errors.New(errors.ErrorTypeData, "no data loaded")
	}

	mapping := s.classifier.Map(res.Columns, res.Preview)

	s.mu.Lock()
	s.mapping = mapping
	s.mu.Unlock()
	return mapping, nil
}

// Detect runs duplicate detection over the loaded data. When a field
// mapping exists, each chunk is transformed to canonical names before
// detection so the configured identity columns resolve.
func (s *Session) Detect(ctx context.Context, progress func(int, string)) (*models.Outcome, error) {
	s.mu.Lock()
	res := s.result
	mapping := s.mapping
	s.mu.Unlock()
	if res == nil {
		return nil, errors.New(errors.ErrorTypeData, "no data loaded")
	}

	reader, err := ingest.NewChunkReader(res, s.cfg.Ingest.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var source dedup.ChunkSource = reader
	if len(mapping) > 0 {
		source = &mappedSource{
			inner:      reader,
			classifier: s.classifier,
			mapping:    mapping,
		}
	}

	detector := dedup.NewDetector(s.cfg)
	out, err := detector.Run(ctx, source, progress)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.outcome = out
	s.mu.Unlock()

	logger.WithContext(context.WithValue(ctx, logger.StageKey, "detect")).Info(
		"detection complete",
		zap.Int("clean", out.Stats.Clean),
		zap.Int("duplicates", out.Stats.Duplicate))
	return out, nil
}

// Export writes the last outcome's partitions. Prior detection results
// stay valid, so a failed export can simply be retried with new paths.
func (s *Session) Export(cleanPath, duplicatePath string) (*export.Result, error) {
	s.mu.Lock()
	out := s.outcome
	s.mu.Unlock()
	if out == nil {
		return nil, errors.New(errors.ErrorTypeExport, "no detection outcome to export")
	}

	res, err := s.exporter.Export(out, cleanPath, duplicatePath)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.exported = res
	s.mu.Unlock()
	return res, nil
}

// LastExport returns the most recent successful export result, or nil.
func (s *Session) LastExport() *export.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exported
}

// Outcome returns the last detection outcome, or nil.
func (s *Session) Outcome() *models.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Run drives load, classify, detect and export on a background goroutine.
// classify may be disabled when the input already uses canonical headers.
func (s *Session) Run(path, cleanPath, duplicatePath string, classify bool, cb Callbacks) {
	base := context.WithValue(context.Background(), logger.SessionIDKey, s.ID)
	base = context.WithValue(base, logger.SourceFileKey, path)
	ctx, cancel := context.WithCancel(base)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	progress := cb.Progress
	if progress == nil {
		progress = func(int, string) {}
	}
	fail := func(err error) {
		s.log.Error("pipeline failed", zap.Error(err))
		if cb.Error != nil {
			cb.Error(err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		res, err := s.Load(ctx, path, progress)
		if err != nil {
			fail(err)
			return
		}
		if cb.Loaded != nil {
			cb.Loaded(res)
		}

		if classify {
			if _, err := s.Classify(); err != nil {
				fail(err)
				return
			}
		}

		out, err := s.Detect(ctx, progress)
		if err != nil {
			fail(err)
			return
		}

		if cleanPath != "" {
			if _, err := s.Export(cleanPath, duplicatePath); err != nil {
				fail(err)
				return
			}
		}

		if cb.Done != nil {
			cb.Done(out)
		}
	}()
}

// Cancel requests cooperative cancellation. Work already in progress
// finishes its current batch or chunk before stopping.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until a Run pipeline has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Clear resets the session's data state and releases the materialized
// stream. The session stays usable for another load.
func (s *Session) Clear() {
	s.log.Info("clearing session state")
	s.releaseStream()
	s.mu.Lock()
	s.result = nil
	s.mapping = nil
	s.outcome = nil
	s.exported = nil
	s.mu.Unlock()
}

// Close tears the session down: pending work is cancelled, the stream is
// released on every path, and the memory guard stops.
func (s *Session) Close() {
	s.Cancel()
	s.wg.Wait()
	s.Clear()
	s.guard.Stop()
}

func (s *Session) releaseStream() {
	s.mu.Lock()
	res := s.result
	s.mu.Unlock()
	if res != nil && res.Stream != nil {
		if err := res.Stream.Release(); err != nil {
			s.log.Warn("failed to release stream", zap.Error(err))
		}
	}
}

// mappedSource applies the field mapping to each chunk on the way to the
// detector.
type mappedSource struct {
	inner      *ingest.ChunkReader
	classifier *fieldmap.Classifier
	mapping    models.FieldMapping
}

func (m *mappedSource) Next() (*models.Chunk, error) {
	chunk, err := m.inner.Next()
	if err != nil {
		return nil, err
	}
	return m.classifier.Transform(chunk, m.mapping), nil
}

func (m *mappedSource) Columns() []string {
	cols := make([]string, len(m.inner.Columns()))
	for i, c := range m.inner.Columns() {
		cols[i] = m.mapping.Canonical(c)
	}
	return cols
}

func (m *mappedSource) TotalRows() int { return m.inner.TotalRows() }

var _ dedup.ChunkSource = (*mappedSource)(nil)
