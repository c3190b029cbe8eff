// Package fieldmap maps arbitrary column headers onto a fixed canonical
// field vocabulary. Classification runs in two deterministic phases: header
// patterns first, then content sniffing for the columns the headers did not
// settle. Each canonical field is claimed by at most one column.
package fieldmap

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/edudata/quantize/pkg/logger"
	"github.com/edudata/quantize/pkg/models"
)

// fieldKind identifies one canonical field during classification.
type fieldKind string

const (
	kindName       fieldKind = "name"
	kindDOB        fieldKind = "dob"
	kindGender     fieldKind = "gender"
	kindGrade      fieldKind = "grade"
	kindYear       fieldKind = "year"
	kindSchool     fieldKind = "school"
	kindEnrollment fieldKind = "enrollment"
	kindAddress    fieldKind = "address"
	kindContact    fieldKind = "contact"
	kindEmail      fieldKind = "email"
)

// canonicalFor resolves a fieldKind to its exported canonical name.
var canonicalFor = map[fieldKind]string{
	kindName:       models.FieldStudentName,
	kindDOB:        models.FieldDateOfBirth,
	kindGender:     models.FieldGender,
	kindGrade:      models.FieldGrade,
	kindYear:       models.FieldAcademicYear,
	kindSchool:     models.FieldSchoolID,
	kindEnrollment: models.FieldEnrollmentDate,
	kindAddress:    models.FieldAddress,
	kindContact:    models.FieldContactNumber,
	kindEmail:      models.FieldEmailAddress,
}

// headerRule is one header pattern tested against a normalized column name.
type headerRule struct {
	kind     fieldKind
	patterns []*regexp.Regexp
}

// headerRules is the ordered pattern table for the header phase. Order
// matters: the first rule whose pattern matches wins.
var headerRules = []headerRule{
	{kindName, compileAll(
		`^(?:student|pupil|learner)?[\s_]*(?:full[\s_]*)?name$`,
		`^(?:first[\s_]*name|f[\s_]*name)$`,
		`^(?:last[\s_]*name|l[\s_]*name|surname)$`,
	)},
	{kindDOB, compileAll(
		`^(?:date[\s_]*of[\s_]*birth|dob|birth[\s_]*date|birthdate)$`,
		`^birth$`,
	)},
	{kindGender, compileAll(`^(?:gender|sex)$`)},
	{kindGrade, compileAll(`^(?:grade|class|level|std)$`)},
	{kindYear, compileAll(`^(?:academic[\s_]*year|school[\s_]*year|year|yr|session|term)$`)},
	{kindSchool, compileAll(`^(?:school|institution|center)[\s_]*(?:name|id|code)?$`)},
	{kindEnrollment, compileAll(`^(?:enrollment|registration|admission)[\s_]*(?:date|day)?$`)},
	{kindAddress, compileAll(`^(?:address|location|residence)$`)},
	{kindContact, compileAll(`^(?:contact|phone|mobile|tel|telephone|cell)[\s_]*(?:number|no|#)?$`)},
	{kindEmail, compileAll(`^(?:email|e-mail|mail)[\s_]*(?:address)?$`)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

var (
	yearPattern   = regexp.MustCompile(`(19|20)\d{2}([-/_](19|20)?\d{2})?`)
	schoolKeyword = regexp.MustCompile(`(?i)sch|school|college|academy`)
	schoolCode    = regexp.MustCompile(`[A-Z]{2,5}\d+`)
	gradeKeyword  = regexp.MustCompile(`grade|class|level`)
	digitPattern  = regexp.MustCompile(`\d+`)
	emailPattern  = regexp.MustCompile(`@.*\.`)
)

// dateLayouts are the formats the date detector accepts. Covers the
// ISO, US and day-first forms that show up in exported student files.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
	"01/02/2006",
	"2006-01-02 15:04:05",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	time.RFC3339,
}

// genderValues is the enumeration the gender detector checks against.
var genderValues = map[string]struct{}{
	"m": {}, "f": {}, "male": {}, "female": {}, "other": {}, "non-binary": {},
}

// Classifier maps column headers and contents to canonical fields. It is
// stateless between calls and safe for concurrent use.
type Classifier struct {
	// sampleSize bounds how many values the name detector inspects
	sampleSize int
	log        *zap.Logger
}

// NewClassifier creates a field classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		sampleSize: 10,
		log:        logger.Get().With(zap.String("component", "fieldmap")),
	}
}

// Map classifies the given columns against the sampled records and returns
// the resulting field mapping. Columns that match nothing are absent from
// the mapping and pass through under their original names.
func (c *Classifier) Map(columns []string, records []*models.Record) models.FieldMapping {
	mapping := models.FieldMapping{}

	// Header phase. First matching rule wins, and a canonical field
	// already claimed by an earlier column is not reassigned.
	for _, column := range columns {
		if kind, ok := matchHeader(column); ok {
			canonical := canonicalFor[kind]
			if !mapping.Claimed(canonical) {
				mapping[column] = canonical
			}
		}
	}

	// Content phase, only for columns the headers did not settle.
	for _, column := range columns {
		if _, done := mapping[column]; done {
			continue
		}
		values := nonEmptyValues(column, records)
		if len(values) == 0 {
			// empty or all-null columns are "no match", never guessed
			continue
		}
		if kind, ok := c.sniffContent(values); ok {
			canonical := canonicalFor[kind]
			if !mapping.Claimed(canonical) {
				mapping[column] = canonical
			}
		}
	}

	c.log.Info("field mapping complete",
		zap.Int("columns", len(columns)),
		zap.Int("mapped", len(mapping)))
	for original, canonical := range mapping {
		c.log.Debug("column mapped",
			zap.String("original", original),
			zap.String("canonical", canonical))
	}

	return mapping
}

// Transform applies a field mapping to a chunk, returning a new chunk whose
// columns and record fields carry canonical names. Unmapped columns keep
// their original names and position. The input chunk is not modified.
func (c *Classifier) Transform(chunk *models.Chunk, mapping models.FieldMapping) *models.Chunk {
	if len(mapping) == 0 {
		return chunk
	}

	columns := make([]string, len(chunk.Columns))
	for i, col := range chunk.Columns {
		columns[i] = mapping.Canonical(col)
	}

	records := make([]*models.Record, len(chunk.Records))
	for i, rec := range chunk.Records {
		fields := make(map[string]string, len(rec.Fields))
		for col, val := range rec.Fields {
			fields[mapping.Canonical(col)] = val
		}
		records[i] = &models.Record{Origin: rec.Origin, Fields: fields}
	}

	return &models.Chunk{Seq: chunk.Seq, Columns: columns, Records: records}
}

// matchHeader tests a normalized header against the pattern table.
func matchHeader(column string) (fieldKind, bool) {
	norm := strings.ToLower(strings.TrimSpace(column))
	for _, rule := range headerRules {
		for _, pattern := range rule.patterns {
			if pattern.MatchString(norm) {
				return rule.kind, true
			}
		}
	}
	return "", false
}

// sniffContent runs the per-type detectors in a fixed order and returns
// the first kind whose detector accepts the values.
func (c *Classifier) sniffContent(values []string) (fieldKind, bool) {
	switch {
	case c.looksLikeNames(values):
		return kindName, true
	case looksLikeDates(values):
		return kindDOB, true
	case looksLikeGender(values):
		return kindGender, true
	case looksLikeGrades(values):
		return kindGrade, true
	case looksLikeYears(values):
		return kindYear, true
	case looksLikeSchools(values):
		return kindSchool, true
	case looksLikeContacts(values):
		return kindContact, true
	case looksLikeEmails(values):
		return kindEmail, true
	}
	return "", false
}

// nonEmptyValues collects the column's non-empty cell values.
func nonEmptyValues(column string, records []*models.Record) []string {
	values := make([]string, 0, len(records))
	for _, rec := range records {
		if v := strings.TrimSpace(rec.Get(column)); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// looksLikeNames checks a bounded sample for person-name shape: at least
// 70% of values have two or more whitespace tokens and at least 80% are
// dominated by alphabetic characters.
func (c *Classifier) looksLikeNames(values []string) bool {
	sample := values
	if len(sample) > c.sampleSize {
		sample = sample[:c.sampleSize]
	}

	multiWord := 0
	mostlyAlpha := 0
	for _, v := range sample {
		if len(strings.Fields(v)) >= 2 {
			multiWord++
		}
		if alphaRatio(v) > 0.8 {
			mostlyAlpha++
		}
	}

	n := float64(len(sample))
	return float64(multiWord)/n > 0.7 && float64(mostlyAlpha)/n > 0.8
}

// alphaRatio is the share of a string made of letters and spaces.
func alphaRatio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	alpha := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			alpha++
		}
	}
	return float64(alpha) / float64(total)
}

// looksLikeDates accepts when at least 80% of the values parse as dates.
func looksLikeDates(values []string) bool {
	parsed := 0
	for _, v := range values {
		if parsesAsDate(v) {
			parsed++
		}
	}
	return float64(parsed)/float64(len(values)) > 0.8
}

func parsesAsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// looksLikeGender accepts columns with at most 5 distinct values where at
// least 80% fall into the gender enumeration.
func looksLikeGender(values []string) bool {
	distinct := map[string]struct{}{}
	matches := 0
	for _, v := range values {
		lower := strings.ToLower(v)
		distinct[lower] = struct{}{}
		if _, ok := genderValues[lower]; ok {
			matches++
		}
	}
	if len(distinct) == 0 || len(distinct) > 5 {
		return false
	}
	return float64(matches)/float64(len(values)) > 0.8
}

// looksLikeGrades accepts columns with fewer than 20 distinct values that
// are mostly numeric or frequently carry a grade keyword.
func looksLikeGrades(values []string) bool {
	distinct := map[string]struct{}{}
	numeric := 0
	keyword := 0
	for _, v := range values {
		lower := strings.ToLower(v)
		distinct[lower] = struct{}{}
		if digitPattern.MatchString(lower) {
			numeric++
		}
		if gradeKeyword.MatchString(lower) {
			keyword++
		}
	}
	if len(distinct) >= 20 {
		return false
	}
	n := float64(len(values))
	return float64(numeric)/n > 0.5 || float64(keyword)/n > 0.3
}

// looksLikeYears accepts columns with fewer than 10 distinct values where
// at least half match a 4-digit (optionally ranged) year pattern.
func looksLikeYears(values []string) bool {
	distinct := map[string]struct{}{}
	matches := 0
	for _, v := range values {
		distinct[v] = struct{}{}
		if yearPattern.MatchString(v) {
			matches++
		}
	}
	if len(distinct) >= 10 {
		return false
	}
	return float64(matches)/float64(len(values)) > 0.5
}

// looksLikeSchools accepts columns dominated by institution keywords or
// short alphanumeric codes such as "SCH123".
func looksLikeSchools(values []string) bool {
	keyword := 0
	code := 0
	for _, v := range values {
		if schoolKeyword.MatchString(v) {
			keyword++
		}
		if schoolCode.MatchString(v) {
			code++
		}
	}
	n := float64(len(values))
	return float64(keyword)/n > 0.3 || float64(code)/n > 0.5
}

// looksLikeContacts accepts when at least 80% of the values carry 8 or
// more digit characters after stripping everything else.
func looksLikeContacts(values []string) bool {
	phoneLength := 0
	for _, v := range values {
		digits := 0
		for _, r := range v {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 8 {
			phoneLength++
		}
	}
	return float64(phoneLength)/float64(len(values)) > 0.8
}

// looksLikeEmails accepts when at least 70% of the values contain an
// @-domain pattern.
func looksLikeEmails(values []string) bool {
	matches := 0
	for _, v := range values {
		if emailPattern.MatchString(v) {
			matches++
		}
	}
	return float64(matches)/float64(len(values)) > 0.7
}
