package dedup

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edudata/quantize/pkg/config"
	"github.com/edudata/quantize/pkg/errors"
	"github.com/edudata/quantize/pkg/models"
)

var testColumns = []string{"name", "dob", "year"}

// sliceSource feeds pre-built chunks to a detection run.
type sliceSource struct {
	chunks []*models.Chunk
	total  int
	pos    int
}

func (s *sliceSource) Next() (*models.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceSource) Columns() []string { return testColumns }
func (s *sliceSource) TotalRows() int    { return s.total }

func rec(origin int64, name, dob, year string) *models.Record {
	return &models.Record{
		Origin: origin,
		Fields: map[string]string{"name": name, "dob": dob, "year": year},
	}
}

// chunked splits records into chunks of the given size.
func chunked(records []*models.Record, size int) *sliceSource {
	var chunks []*models.Chunk
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, &models.Chunk{
			Seq:     len(chunks),
			Columns: testColumns,
			Records: records[start:end],
		})
	}
	return &sliceSource{chunks: chunks, total: len(records)}
}

func testCfg() *config.CleaningConfig {
	cfg := config.Default()
	cfg.Identity = config.IdentityConfig{NameColumn: "name", DOBColumn: "dob", YearColumn: "year"}
	return cfg
}

func TestExactPartitionInvariant(t *testing.T) {
	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "Bob Jones", "2002-11-03", "2022"),
		rec(2, "Alice Smith", "2001-05-14", "2022"),
		rec(3, "Carol White", "2000-01-30", "2022"),
		rec(4, "Alice Smith", "2001-05-14", "2023"),
	}

	d := NewDetector(testCfg())
	out, err := d.Run(context.Background(), chunked(records, 10), nil)
	require.NoError(t, err)

	assert.Equal(t, out.Stats.Total, out.Stats.Clean+out.Stats.Duplicate)
	assert.Equal(t, 5, out.Stats.Total)
	assert.Equal(t, 4, out.Stats.Clean)
	assert.Equal(t, 1, out.Stats.Duplicate)
	assert.Equal(t, 20.0, out.Stats.DuplicatePercent)

	// every identity key in the clean partition is unique
	seen := map[string]bool{}
	for _, r := range out.Clean {
		key := r.Get("name") + "|" + r.Get("dob") + "|" + r.Get("year")
		assert.False(t, seen[key], "duplicate key survived: %s", key)
		seen[key] = true
	}
}

func TestExactFirstOriginSurvives(t *testing.T) {
	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "Alice Smith", "2001-05-14", "2022"),
		rec(2, "Alice Smith", "2001-05-14", "2022"),
	}

	d := NewDetector(testCfg())
	out, err := d.Run(context.Background(), chunked(records, 10), nil)
	require.NoError(t, err)

	require.Len(t, out.Clean, 1)
	assert.Equal(t, int64(0), out.Clean[0].Origin)
	require.Len(t, out.Duplicate, 2)
}

func TestExactIdempotence(t *testing.T) {
	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "Alice Smith", "2001-05-14", "2022"),
		rec(2, "Bob Jones", "2002-11-03", "2022"),
	}

	d := NewDetector(testCfg())
	out, err := d.Run(context.Background(), chunked(records, 10), nil)
	require.NoError(t, err)

	// rerunning over the clean partition alone finds nothing new
	d2 := NewDetector(testCfg())
	out2, err := d2.Run(context.Background(), chunked(out.Clean, len(out.Clean)), nil)
	require.NoError(t, err)
	assert.Zero(t, out2.Stats.Duplicate)
	assert.Equal(t, out.Stats.Clean, out2.Stats.Clean)
}

func TestChunkBoundaryReconciliation(t *testing.T) {
	// rows 1 and 3 are identical to row 0; chunk size 2 puts the third
	// occurrence in a different chunk than the first two
	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "Alice Smith", "2001-05-14", "2022"),
		rec(2, "Bob Jones", "2002-11-03", "2022"),
		rec(3, "Alice Smith", "2001-05-14", "2022"),
	}

	d := NewDetector(testCfg())
	out, err := d.Run(context.Background(), chunked(records, 2), nil)
	require.NoError(t, err)

	survivors := 0
	for _, r := range out.Clean {
		if r.Get("name") == "Alice Smith" {
			survivors++
			assert.Equal(t, int64(0), r.Origin)
		}
	}
	assert.Equal(t, 1, survivors)
	assert.Equal(t, 2, out.Stats.Duplicate)
	assert.Equal(t, out.Stats.Total, out.Stats.Clean+out.Stats.Duplicate)
}

func TestFuzzyGreedyAnchorClustering(t *testing.T) {
	cfg := testCfg()
	cfg.Matching.Fuzzy = true
	cfg.Matching.Threshold = 90
	cfg.Matching.Scorer = "levenshtein"

	// b is one edit from the anchor (score 90) and is absorbed; c is two
	// edits from the anchor (score 80) but only one edit from b. The
	// clustering is anchor-only, so c stays clean even though it
	// resembles a duplicate.
	records := []*models.Record{
		rec(0, "aaaaaaaaaa", "2001-05-14", "2022"),
		rec(1, "aaaaaaaaab", "2001-05-14", "2022"),
		rec(2, "aaaaaaaabb", "2001-05-14", "2022"),
	}

	d := NewDetector(cfg)
	out, err := d.Run(context.Background(), chunked(records, 10), nil)
	require.NoError(t, err)

	assert.Equal(t, out.Stats.Total, out.Stats.Clean+out.Stats.Duplicate)
	require.Len(t, out.Duplicate, 1)
	assert.Equal(t, int64(1), out.Duplicate[0].Origin)
	require.Len(t, out.Clean, 2)
}

func TestFuzzySkipsSingletonGroups(t *testing.T) {
	cfg := testCfg()
	cfg.Matching.Fuzzy = true
	cfg.Matching.Threshold = 80

	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "Alice Smith", "2002-11-03", "2022"),
		rec(2, "Alice Smith", "2001-05-14", "2023"),
	}

	d := NewDetector(cfg)
	out, err := d.Run(context.Background(), chunked(records, 10), nil)
	require.NoError(t, err)

	// different (dob, year) groups are never compared
	assert.Len(t, out.Clean, 3)
	assert.Empty(t, out.Duplicate)
}

func TestFuzzyThreshold100MatchesExact(t *testing.T) {
	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "alice smith", "2001-05-14", "2022"),
		rec(2, "Alice Smyth", "2001-05-14", "2022"),
		rec(3, "Alice Smith", "2001-05-14", "2022"),
	}

	cfg := testCfg()
	cfg.Matching.Fuzzy = true
	cfg.Matching.Threshold = 100

	d := NewDetector(cfg)
	out, err := d.Run(context.Background(), chunked(records, 10), nil)
	require.NoError(t, err)

	// at threshold 100 only name-identical records (after normalization)
	// collapse, exactly like exact matching on normalized names
	assert.Len(t, out.Clean, 2)
	assert.Len(t, out.Duplicate, 2)
}

func TestLargeRunWithInjectedDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var records []*models.Record
	origin := int64(0)
	add := func(name, dob, year string) {
		records = append(records, rec(origin, name, dob, year))
		origin++
	}

	uniques := make([][3]string, 0, 850)
	for i := 0; i < 850; i++ {
		u := [3]string{
			fmt.Sprintf("Student %04d", i),
			fmt.Sprintf("200%d-0%d-1%d", i%10, i%9+1, i%3),
			"2022-2023",
		}
		uniques = append(uniques, u)
		add(u[0], u[1], u[2])
	}
	for i := 0; i < 150; i++ {
		u := uniques[rng.Intn(len(uniques))]
		add(u[0], u[1], u[2])
	}
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})

	d := NewDetector(testCfg())
	out, err := d.Run(context.Background(), chunked(records, 128), nil)
	require.NoError(t, err)

	assert.Equal(t, 1000, out.Stats.Total)
	assert.Equal(t, out.Stats.Total, out.Stats.Clean+out.Stats.Duplicate)
	assert.Equal(t, 150, out.Stats.Duplicate)
	assert.Equal(t, 15.0, out.Stats.DuplicatePercent)
}

func TestDuplicatePercentRounding(t *testing.T) {
	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "Alice Smith", "2001-05-14", "2022"),
		rec(2, "Bob Jones", "2002-11-03", "2022"),
	}

	d := NewDetector(testCfg())
	out, err := d.Run(context.Background(), chunked(records, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, 33.33, out.Stats.DuplicatePercent)
}

func TestCancellationAbortsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDetector(testCfg())
	_, err := d.Run(ctx, chunked([]*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
	}, 10), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.Equal(t, StateDone, d.State())
}

func TestDetectorIsSingleUse(t *testing.T) {
	d := NewDetector(testCfg())
	_, err := d.Run(context.Background(), chunked(nil, 10), nil)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), chunked(nil, 10), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDetection))
}

func TestProgressReporting(t *testing.T) {
	records := []*models.Record{
		rec(0, "Alice Smith", "2001-05-14", "2022"),
		rec(1, "Bob Jones", "2002-11-03", "2022"),
		rec(2, "Carol White", "2000-01-30", "2022"),
		rec(3, "Dan Green", "2003-02-12", "2022"),
	}

	var percents []int
	d := NewDetector(testCfg())
	_, err := d.Run(context.Background(), chunked(records, 2), func(pct int, msg string) {
		percents = append(percents, pct)
	})
	require.NoError(t, err)

	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
	// determinate updates never regress within the processing stage
	last := -1
	for _, pct := range percents[:len(percents)-1] {
		if pct == -1 {
			continue
		}
		assert.GreaterOrEqual(t, pct, last)
		last = pct
	}
}

func TestEmptyInput(t *testing.T) {
	d := NewDetector(testCfg())
	out, err := d.Run(context.Background(), chunked(nil, 10), nil)
	require.NoError(t, err)
	assert.Zero(t, out.Stats.Total)
	assert.Zero(t, out.Stats.DuplicatePercent)
	assert.Equal(t, StateDone, d.State())
}
