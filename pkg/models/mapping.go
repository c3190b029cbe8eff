package models

// FieldMapping maps original column names to canonical field names.
// A canonical field is claimed by at most one original column; later
// ambiguous candidates stay unmapped rather than overwriting the first
// match.
type FieldMapping map[string]string

// Canonical returns the canonical name for an original column, or the
// column itself when it is unmapped.
func (m FieldMapping) Canonical(column string) string {
	if mapped, ok := m[column]; ok {
		return mapped
	}
	return column
}

// Claimed reports whether a canonical field has already been assigned
// to some original column.
func (m FieldMapping) Claimed(canonical string) bool {
	for _, v := range m {
		if v == canonical {
			return true
		}
	}
	return false
}

// Canonical field names that heterogeneous input headers are mapped onto.
const (
	FieldStudentName    = "StudentName"
	FieldDateOfBirth    = "DateOfBirth"
	FieldGender         = "Gender"
	FieldGrade          = "Grade"
	FieldAcademicYear   = "AcademicYear"
	FieldSchoolID       = "SchoolID"
	FieldEnrollmentDate = "EnrollmentDate"
	FieldAddress        = "Address"
	FieldContactNumber  = "ContactNumber"
	FieldEmailAddress   = "EmailAddress"
)
