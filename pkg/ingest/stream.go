package ingest

import (
	"os"

	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/logger"
)

// MaterializedStream is the on-disk UTF-8 delimited artifact a large input
// is converted into. It is owned by exactly one session at a time and is
// never removed automatically: a ChunkReader may still be iterating it, so
// cleanup happens only through an explicit Release call.
type MaterializedStream struct {
	path     string
	rows     int
	released bool
}

// Path returns the location of the materialized file.
func (s *MaterializedStream) Path() string {
	return s.path
}

// Rows returns the number of data rows written to the stream.
func (s *MaterializedStream) Rows() int {
	return s.rows
}

// Release deletes the underlying file. Safe to call more than once.
func (s *MaterializedStream) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Warn("failed to remove materialized stream",
			zap.String("path", s.path), zap.Error(err))
		return err
	}
	logger.Debug("released materialized stream", zap.String("path", s.path))
	return nil
}
