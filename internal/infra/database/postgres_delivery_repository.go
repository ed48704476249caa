package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"student_risk_notifier/internal/domain/notification"

	"github.com/lib/pq" // For pq.Array
)

// Provider statuses after which an SMS is no longer polled.
var finalProviderStatuses = []string{"delivered", "undelivered", "failed", "canceled"}

type PostgresDeliveryRepository struct {
	db *sql.DB
}

func NewPostgresDeliveryRepository(db *sql.DB) *PostgresDeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

// SaveAttempts stores all attempts of one escalation in a single transaction.
// replayOf maps an index in attempts to the id of the attempt it replays.
func (r *PostgresDeliveryRepository) SaveAttempts(ctx context.Context, studentID string, attempts []notification.DeliveryAttempt, replayOf map[int]int64) error {
	if len(attempts) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for attempts: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO delivery_attempts
            (student_id, guardian_name, channel, recipient, subject, body, success, provider_ref, error_detail, replay_of, attempted_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for attempts: %w", err)
	}
	defer stmt.Close()

	for i, a := range attempts {
		var original sql.NullInt64
		if id, ok := replayOf[i]; ok {
			original = sql.NullInt64{Int64: id, Valid: true}
		}
		attemptedAt := a.AttemptedAt
		if attemptedAt.IsZero() {
			attemptedAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx, studentID, a.GuardianName, string(a.Channel), a.Recipient, a.Message.Subject,
			a.Message.Body, a.Success, a.ProviderRef, a.ErrorDetail, original, attemptedAt)
		if err != nil {
			return fmt.Errorf("error saving %s attempt for student %s: %w", a.Channel, studentID, err)
		}
	}
	return txn.Commit()
}

const attemptColumns = `id, student_id, guardian_name, channel, recipient, subject, body, success, provider_ref, error_detail, provider_status, replay_of, replayed_at, attempted_at`

func scanAttempts(rows *sql.Rows) ([]*notification.AttemptRecord, error) {
	records := make([]*notification.AttemptRecord, 0)
	for rows.Next() {
		rec := &notification.AttemptRecord{}
		var channel string
		var replayOf sql.NullInt64
		var replayedAt sql.NullTime
		a := &rec.Attempt
		if err := rows.Scan(&rec.ID, &rec.StudentID, &a.GuardianName, &channel, &a.Recipient, &a.Message.Subject,
			&a.Message.Body, &a.Success, &a.ProviderRef, &a.ErrorDetail, &rec.ProviderStatus, &replayOf, &replayedAt, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("error scanning delivery attempt: %w", err)
		}
		a.Channel = notification.Channel(channel)
		if replayOf.Valid {
			id := replayOf.Int64
			rec.ReplayOf = &id
		}
		if replayedAt.Valid {
			t := replayedAt.Time
			rec.ReplayedAt = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery attempts: %w", err)
	}
	return records, nil
}

// ListFailedForReplay returns original failed attempts that were never
// replayed. Replays themselves are not replayed again, and an original that
// already has a linked replay is excluded even when replayed_at was never set.
func (r *PostgresDeliveryRepository) ListFailedForReplay(ctx context.Context, since time.Time, limit int) ([]*notification.AttemptRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + attemptColumns + `
               FROM delivery_attempts
               WHERE success = FALSE AND replayed_at IS NULL AND replay_of IS NULL AND attempted_at >= $1
                 AND NOT EXISTS (SELECT 1 FROM delivery_attempts r WHERE r.replay_of = delivery_attempts.id)
               ORDER BY attempted_at ASC
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying failed delivery attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (r *PostgresDeliveryRepository) MarkReplayed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE delivery_attempts SET replayed_at = NOW() WHERE id = ANY($1::bigint[])`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("error marking attempts replayed: %w", err)
	}
	return nil
}

// ListAwaitingProviderStatus returns successful sends whose provider status is
// not final yet.
func (r *PostgresDeliveryRepository) ListAwaitingProviderStatus(ctx context.Context, channel notification.Channel, since time.Time, limit int) ([]*notification.AttemptRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + attemptColumns + `
               FROM delivery_attempts
               WHERE channel = $1 AND success = TRUE AND provider_ref <> ''
                 AND NOT (provider_status = ANY($2::varchar[]))
                 AND attempted_at >= $3
               ORDER BY attempted_at ASC
               LIMIT $4`
	rows, err := r.db.QueryContext(ctx, query, string(channel), pq.Array(finalProviderStatuses), since, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying attempts awaiting provider status: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (r *PostgresDeliveryRepository) UpdateProviderStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE delivery_attempts SET provider_status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("error updating provider status of attempt %d: %w", id, err)
	}
	return nil
}
