package student

import (
	"database/sql"
	"fmt"
)

// ErrStudentNotFound is returned when a student id does not resolve.
var ErrStudentNotFound = fmt.Errorf("student not found")

// GuardianContact is one person to notify about a student. Email and Phone are
// optional; an empty value read from storage is stored as not Valid.
type GuardianContact struct {
	Name  string
	Email sql.NullString
	Phone sql.NullString
}

// NotifiableStudent is the read-only view the escalators work with.
type NotifiableStudent struct {
	ID          string
	DisplayName string
	ClassName   string
	SchoolID    string
	SchoolName  string
	Guardians   []GuardianContact // may be empty, order preserved
}
