package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edudata/quantize/pkg/models"
)

func TestStudentHasAllFields(t *testing.T) {
	g := New(1)
	rec := g.Student(0)

	for _, col := range Columns {
		assert.NotEmpty(t, rec.Get(col), "missing %s", col)
	}
	assert.Len(t, strings.Fields(rec.Get(models.FieldStudentName)), 2)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, rec.Get(models.FieldDateOfBirth))
	assert.Regexp(t, `^SCH\d{3}$`, rec.Get(models.FieldSchoolID))
	assert.Contains(t, []string{"M", "F"}, rec.Get(models.FieldGender))
}

func TestDatasetSizeAndOrigins(t *testing.T) {
	g := New(42)
	records := g.Dataset(200, 0.15)

	require.Len(t, records, 230)
	for i, rec := range records {
		assert.Equal(t, int64(i), rec.Origin)
	}
}

func TestDatasetIsReproducible(t *testing.T) {
	a := New(7).Dataset(50, 0.1)
	b := New(7).Dataset(50, 0.1)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Fields, b[i].Fields)
	}
}

func TestDatasetZeroDuplicateRate(t *testing.T) {
	records := New(3).Dataset(25, 0)
	assert.Len(t, records, 25)
}

func TestSwapAdjacentPreservesLength(t *testing.T) {
	g := New(9)
	name := "Jonathan Smith"
	swapped := swapAdjacent(name, g.rng)
	assert.Len(t, swapped, len(name))
	assert.NotEqual(t, "", swapped)

	// short first names are left alone
	assert.Equal(t, "Al Smith", swapAdjacent("Al Smith", g.rng))
}
