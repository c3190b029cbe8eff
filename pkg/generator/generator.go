// Package generator produces synthetic student datasets with a controlled
// duplicate rate, for exercising the cleaning pipeline at scale.
package generator

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/models"
)

// Columns is the header of every generated dataset.
var Columns = []string{
	models.FieldStudentName,
	models.FieldDateOfBirth,
	models.FieldAcademicYear,
	models.FieldGender,
	models.FieldGrade,
	models.FieldEnrollmentDate,
	models.FieldSchoolID,
}

// Generator creates seeded, reproducible student datasets.
type Generator struct {
	faker *gofakeit.Faker
	rng   *rand.Rand
	log   *zap.Logger

	years   []string
	schools []string
	grades  []string
}

// New creates a generator. The same seed always yields the same dataset.
func New(seed int64) *Generator {
	currentYear := time.Now().Year()
	years := make([]string, 0, 4)
	for y := currentYear - 3; y <= currentYear; y++ {
		years = append(years, fmt.Sprintf("%d", y))
	}

	schools := make([]string, 0, 20)
	for i := 1; i <= 20; i++ {
		schools = append(schools, fmt.Sprintf("SCH%03d", i))
	}

	grades := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		grades = append(grades, fmt.Sprintf("%d", i))
	}

	return &Generator{
		faker:   gofakeit.New(uint64(seed)),
		rng:     rand.New(rand.NewSource(seed)),
		log:     logger.Get().With(zap.String("component", "generator")),
		years:   years,
		schools: schools,
		grades:  grades,
	}
}

// Student generates one random student record.
func (g *Generator) Student(origin int64) *models.Record {
	year := g.years[g.rng.Intn(len(g.years))]

	// school-age date of birth, 5 to 18 years back
	age := 5 + g.rng.Intn(14)
	dob := time.Now().AddDate(-age, 0, -g.rng.Intn(365))

	// enrollment falls in the autumn window of the academic year
	var yearNum int
	fmt.Sscanf(year, "%d", &yearNum)
	enrollment := time.Date(yearNum, time.August, 15, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, g.rng.Intn(46))

	gender := "M"
	if g.rng.Intn(2) == 1 {
		gender = "F"
	}

	return &models.Record{
		Origin: origin,
		Fields: map[string]string{
			models.FieldStudentName:    g.faker.FirstName() + " " + g.faker.LastName(),
			models.FieldDateOfBirth:    dob.Format("2006-01-02"),
			models.FieldAcademicYear:   year,
			models.FieldGender:         gender,
			models.FieldGrade:          g.grades[g.rng.Intn(len(g.grades))],
			models.FieldEnrollmentDate: enrollment.Format("2006-01-02"),
			models.FieldSchoolID:       g.schools[g.rng.Intn(len(g.schools))],
		},
	}
}

// Dataset generates n unique records plus floor(n * duplicateRate) copies
// of randomly chosen records, shuffled together. Some copies get minor
// name variations (case flips or one adjacent-character swap) and shifted
// enrollment dates, so fuzzy matching has something to chew on.
func (g *Generator) Dataset(n int, duplicateRate float64) []*models.Record {
	records := make([]*models.Record, 0, n+int(float64(n)*duplicateRate))
	for i := 0; i < n; i++ {
		records = append(records, g.Student(int64(i)))
	}

	numDuplicates := int(float64(n) * duplicateRate)
	for i := 0; i < numDuplicates; i++ {
		source := records[g.rng.Intn(n)]
		records = append(records, g.duplicateOf(source, int64(n+i)))
	}

	g.rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	// reassign origins to match the shuffled file order
	for i, rec := range records {
		rec.Origin = int64(i)
	}

	g.log.Info("dataset generated",
		zap.Int("unique", n),
		zap.Int("duplicates", numDuplicates))
	return records
}

// duplicateOf copies a record, sometimes varying the name or the
// enrollment date.
func (g *Generator) duplicateOf(source *models.Record, origin int64) *models.Record {
	fields := make(map[string]string, len(source.Fields))
	for k, v := range source.Fields {
		fields[k] = v
	}

	if g.rng.Float64() < 0.3 {
		name := fields[models.FieldStudentName]
		if g.rng.Float64() < 0.5 {
			if g.rng.Float64() < 0.5 {
				fields[models.FieldStudentName] = strings.ToUpper(name)
			} else {
				fields[models.FieldStudentName] = strings.ToLower(name)
			}
		} else {
			fields[models.FieldStudentName] = swapAdjacent(name, g.rng)
		}
	}

	if g.rng.Float64() < 0.4 {
		if base, err := time.Parse("2006-01-02", fields[models.FieldEnrollmentDate]); err == nil {
			shifted := base.AddDate(0, 0, 1+g.rng.Intn(30))
			fields[models.FieldEnrollmentDate] = shifted.Format("2006-01-02")
		}
	}

	return &models.Record{Origin: origin, Fields: fields}
}

// swapAdjacent swaps two adjacent characters in the first name token.
func swapAdjacent(name string, rng *rand.Rand) string {
	parts := strings.SplitN(name, " ", 2)
	first := parts[0]
	if len(first) <= 3 || len(parts) == 1 {
		return name
	}

	pos := rng.Intn(len(first) - 1)
	b := []byte(first)
	b[pos], b[pos+1] = b[pos+1], b[pos]
	return string(b) + " " + parts[1]
}
