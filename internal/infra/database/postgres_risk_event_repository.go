package database

import (
	"context"
	"database/sql"
	"fmt"

	"student_risk_notifier/internal/domain/risk"
)

// PostgresRiskEventRepository is the inbox the risk detector writes to and
// the scheduler drains.
type PostgresRiskEventRepository struct {
	db *sql.DB
}

func NewPostgresRiskEventRepository(db *sql.DB) *PostgresRiskEventRepository {
	return &PostgresRiskEventRepository{db: db}
}

func (r *PostgresRiskEventRepository) Enqueue(ctx context.Context, e risk.Event) (int64, error) {
	query := `INSERT INTO risk_events (student_id, risk_level, risk_type, reason)
               VALUES ($1, $2, $3, $4)
               RETURNING id`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, e.StudentID, string(e.Level), e.Type, e.Reason).Scan(&id); err != nil {
		return 0, fmt.Errorf("error enqueueing risk event: %w", err)
	}
	return id, nil
}

// ListPending returns unprocessed events, oldest first.
func (r *PostgresRiskEventRepository) ListPending(ctx context.Context, limit int) ([]*risk.InboxEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, student_id, risk_level, risk_type, reason, attempts, created_at
               FROM risk_events
               WHERE processed_at IS NULL
               ORDER BY created_at ASC, id ASC
               LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying pending risk events: %w", err)
	}
	defer rows.Close()

	entries := make([]*risk.InboxEntry, 0)
	for rows.Next() {
		e := &risk.InboxEntry{}
		if err := rows.Scan(&e.ID, &e.StudentID, &e.RawLevel, &e.Type, &e.Reason, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning risk event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk events: %w", err)
	}
	return entries, nil
}

// MarkProcessed records that an event was handled. errText is empty on success.
func (r *PostgresRiskEventRepository) MarkProcessed(ctx context.Context, id int64, errText string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE risk_events SET processed_at = NOW(), last_error = $1 WHERE id = $2`, errText, id)
	if err != nil {
		return fmt.Errorf("error marking risk event %d processed: %w", id, err)
	}
	return nil
}

func (r *PostgresRiskEventRepository) MarkRetry(ctx context.Context, id int64, errText string, maxAttempts int) (bool, error) {
	query := `UPDATE risk_events
               SET attempts = attempts + 1, last_error = $1,
                   processed_at = CASE WHEN attempts + 1 >= $2 THEN NOW() ELSE NULL END
               WHERE id = $3
               RETURNING processed_at IS NOT NULL`
	var exhausted bool
	if err := r.db.QueryRowContext(ctx, query, errText, maxAttempts, id).Scan(&exhausted); err != nil {
		return false, fmt.Errorf("error recording retry of risk event %d: %w", id, err)
	}
	return exhausted, nil
}
