package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"student_risk_notifier/internal/domain/student"
)

// PostgresStudentRepository reads the school app's student, class, school and
// guardian tables.
type PostgresStudentRepository struct {
	db *sql.DB
}

func NewPostgresStudentRepository(db *sql.DB) *PostgresStudentRepository {
	return &PostgresStudentRepository{db: db}
}

func (r *PostgresStudentRepository) GetWithGuardians(ctx context.Context, studentID string) (*student.NotifiableStudent, error) {
	query := `SELECT s.id, s.first_name, s.last_name, COALESCE(c.name, ''), s.school_id, sc.name
               FROM students s
               JOIN schools sc ON sc.id = s.school_id
               LEFT JOIN classes c ON c.id = s.class_id
               WHERE s.id = $1`
	var firstName, lastName string
	st := &student.NotifiableStudent{}
	err := r.db.QueryRowContext(ctx, query, studentID).Scan(&st.ID, &firstName, &lastName, &st.ClassName, &st.SchoolID, &st.SchoolName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, student.ErrStudentNotFound
		}
		return nil, fmt.Errorf("error getting student %s: %w", studentID, err)
	}
	st.DisplayName = strings.TrimSpace(firstName + " " + lastName)

	guardianQuery := `SELECT name, email, phone
                       FROM guardians
                       WHERE student_id = $1
                       ORDER BY id`
	rows, err := r.db.QueryContext(ctx, guardianQuery, studentID)
	if err != nil {
		return nil, fmt.Errorf("error listing guardians for student %s: %w", studentID, err)
	}
	defer rows.Close()

	st.Guardians = make([]student.GuardianContact, 0)
	for rows.Next() {
		g := student.GuardianContact{}
		if err := rows.Scan(&g.Name, &g.Email, &g.Phone); err != nil {
			return nil, fmt.Errorf("error scanning guardian: %w", err)
		}
		g.Email = presentOrNull(g.Email)
		g.Phone = presentOrNull(g.Phone)
		st.Guardians = append(st.Guardians, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guardians: %w", err)
	}
	return st, nil
}

// presentOrNull folds blank strings into NULL so "present but empty" and
// "absent" mean the same thing downstream.
func presentOrNull(v sql.NullString) sql.NullString {
	trimmed := strings.TrimSpace(v.String)
	if !v.Valid || trimmed == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: trimmed, Valid: true}
}
