// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"student_risk_notifier/internal/domain/notification"
)

// Custom errors specific to notification repository
var ErrNotificationNotFound = fmt.Errorf("staff notification not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500

	notificationColumns = `id, entity_type, entity_id, recipient_type, school_id, title, message, type, priority, is_read, metadata, created_at`
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*notification.StaffNotification, error) {
	n := notification.StaffNotification{}
	var meta []byte
	err := row.Scan(&n.ID, &n.EntityType, &n.EntityID, &n.RecipientType, &n.SchoolID, &n.Title,
		&n.Message, &n.Type, &n.Priority, &n.IsRead, &meta, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, fmt.Errorf("error decoding notification metadata: %w", err)
		}
	}
	return &n, nil
}

// UpsertActive serialises writers on the dedup key with a transaction-scoped
// advisory lock, so the read of the active row and the following write cannot
// interleave with another escalation for the same student.
func (r *PostgresNotificationRepository) UpsertActive(ctx context.Context, key notification.DedupKey, since time.Time, apply notification.UpsertFunc) (*notification.StaffNotification, bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction for upsert: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	if _, err := txn.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		return nil, false, fmt.Errorf("failed to acquire dedup lock for %s: %w", key, err)
	}

	query := `SELECT ` + notificationColumns + `
               FROM staff_notifications
               WHERE school_id = $1 AND entity_id = $2 AND type = $3
                 AND is_read = FALSE AND created_at >= $4
               ORDER BY created_at DESC
               LIMIT 1`
	existing, err := scanNotification(txn.QueryRowContext(ctx, query, key.SchoolID, key.EntityID, key.Type, since))
	if err != nil && !errors.Is(err, ErrNotificationNotFound) {
		return nil, false, fmt.Errorf("error looking up active notification: %w", err)
	}

	next := apply(existing)
	if next == nil {
		return existing, false, nil
	}

	created := existing == nil || next != existing
	if !created {
		// MarkRead does not take the dedup lock, so the row may have been read
		// since the lookup. The update only applies while the row is still active.
		updated, err := updateActive(ctx, txn, next, since)
		if err != nil {
			return nil, false, err
		}
		if !updated {
			if next = apply(nil); next == nil {
				return nil, false, nil
			}
			created = true
		}
	}

	if created {
		if err := insertNotification(ctx, txn, next); err != nil {
			return nil, false, err
		}
	}

	if err := txn.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit staff notification upsert: %w", err)
	}
	return next, created, nil
}

func insertNotification(ctx context.Context, txn *sql.Tx, n *notification.StaffNotification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("error encoding notification metadata: %w", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	insert := `INSERT INTO staff_notifications (entity_type, entity_id, recipient_type, school_id, title, message, type, priority, is_read, metadata, created_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
               RETURNING id`
	err = txn.QueryRowContext(ctx, insert, n.EntityType, n.EntityID, n.RecipientType, n.SchoolID,
		n.Title, n.Message, n.Type, n.Priority, n.IsRead, meta, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("error creating staff notification: %w", err)
	}
	return nil
}

// updateActive reports false when the row no longer matches the dedup criteria.
func updateActive(ctx context.Context, txn *sql.Tx, n *notification.StaffNotification, since time.Time) (bool, error) {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return false, fmt.Errorf("error encoding notification metadata: %w", err)
	}
	update := `UPDATE staff_notifications
               SET title = $1, message = $2, priority = $3, metadata = $4
               WHERE id = $5 AND is_read = FALSE AND created_at >= $6`
	res, err := txn.ExecContext(ctx, update, n.Title, n.Message, n.Priority, meta, n.ID, since)
	if err != nil {
		return false, fmt.Errorf("error updating staff notification %d: %w", n.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking staff notification update result: %w", err)
	}
	return affected > 0, nil
}

func (r *PostgresNotificationRepository) GetByID(ctx context.Context, id int64) (*notification.StaffNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM staff_notifications WHERE id = $1`
	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error getting staff notification by ID: %w", err)
	}
	return n, nil
}

// List returns the admin feed of a school, newest first.
func (r *PostgresNotificationRepository) List(ctx context.Context, filter notification.ListFilter) ([]*notification.StaffNotification, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + notificationColumns + `
               FROM staff_notifications
               WHERE school_id = $1 AND recipient_type = $2 AND ($3 = FALSE OR is_read = FALSE)
               ORDER BY created_at DESC
               LIMIT $4`
	rows, err := r.db.QueryContext(ctx, query, filter.SchoolID, notification.RecipientTypeAdmin, filter.UnreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying staff notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.StaffNotification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning staff notification row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating staff notification rows: %w", err)
	}
	return out, nil
}

func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE staff_notifications SET is_read = TRUE, read_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error marking staff notification %d read: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking mark-read result: %w", err)
	}
	if affected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
