package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables owned by the notifier. Student, class, school and guardian tables
// belong to the school administration app and are only read.
const schemaUp = `
CREATE TABLE IF NOT EXISTS staff_notifications (
    id             BIGSERIAL PRIMARY KEY,
    entity_type    VARCHAR(32)  NOT NULL,
    entity_id      VARCHAR(64)  NOT NULL,
    recipient_type VARCHAR(32)  NOT NULL,
    school_id      VARCHAR(64)  NOT NULL,
    title          TEXT         NOT NULL,
    message        TEXT         NOT NULL,
    type           VARCHAR(64)  NOT NULL,
    priority       VARCHAR(16)  NOT NULL,
    is_read        BOOLEAN      NOT NULL DEFAULT FALSE,
    metadata       JSONB        NOT NULL DEFAULT '{}'::jsonb,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
    read_at        TIMESTAMPTZ,
    CONSTRAINT staff_notifications_priority_check CHECK (priority IN ('MEDIUM', 'HIGH', 'URGENT'))
);

CREATE INDEX IF NOT EXISTS idx_staff_notifications_active
    ON staff_notifications (school_id, entity_id, type, created_at DESC) WHERE is_read = FALSE;
CREATE INDEX IF NOT EXISTS idx_staff_notifications_feed
    ON staff_notifications (school_id, recipient_type, created_at DESC);

CREATE TABLE IF NOT EXISTS risk_events (
    id           BIGSERIAL PRIMARY KEY,
    student_id   VARCHAR(64) NOT NULL,
    risk_level   VARCHAR(16) NOT NULL,
    risk_type    VARCHAR(64) NOT NULL DEFAULT '',
    reason       TEXT        NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ,
    attempts     INT         NOT NULL DEFAULT 0,
    last_error   TEXT        NOT NULL DEFAULT ''
);

ALTER TABLE risk_events ADD COLUMN IF NOT EXISTS attempts INT NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_risk_events_pending
    ON risk_events (created_at) WHERE processed_at IS NULL;

CREATE TABLE IF NOT EXISTS delivery_attempts (
    id              BIGSERIAL PRIMARY KEY,
    student_id      VARCHAR(64) NOT NULL,
    guardian_name   TEXT        NOT NULL DEFAULT '',
    channel         VARCHAR(16) NOT NULL,
    recipient       TEXT        NOT NULL,
    subject         TEXT        NOT NULL DEFAULT '',
    body            TEXT        NOT NULL DEFAULT '',
    success         BOOLEAN     NOT NULL,
    provider_ref    TEXT        NOT NULL DEFAULT '',
    error_detail    TEXT        NOT NULL DEFAULT '',
    provider_status VARCHAR(32) NOT NULL DEFAULT '',
    replay_of       BIGINT REFERENCES delivery_attempts(id),
    replayed_at     TIMESTAMPTZ,
    attempted_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_delivery_attempts_failed
    ON delivery_attempts (attempted_at) WHERE success = FALSE AND replayed_at IS NULL;
`

// Migrate creates the notifier's tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaUp); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
