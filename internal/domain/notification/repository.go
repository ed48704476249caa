// internal/domain/notification/repository.go
package notification

import (
	"context"
	"time"
)

// UpsertFunc receives the active notification for a key (nil when none exists
// inside the window) and returns the row to store. Returning the same pointer
// means update; a new value means insert. When the active row is read while
// the update is in flight, apply is called again with nil.
type UpsertFunc func(existing *StaffNotification) *StaffNotification

// ListFilter selects rows for the admin feed. Results are always limited to
// recipient type ADMIN and ordered by CreatedAt, newest first.
type ListFilter struct {
	SchoolID   string
	UnreadOnly bool
	Limit      int
}

// Repository stores staff notifications and is the dedup store.
type Repository interface {
	// UpsertActive is the single write path for staff notifications. It must
	// serialise concurrent callers on the same key so that at most one unread
	// row created at or after since exists per key. created reports an insert.
	UpsertActive(ctx context.Context, key DedupKey, since time.Time, apply UpsertFunc) (n *StaffNotification, created bool, err error)

	GetByID(ctx context.Context, id int64) (*StaffNotification, error)
	List(ctx context.Context, filter ListFilter) ([]*StaffNotification, error)
	MarkRead(ctx context.Context, id int64) error
}

// AttemptRecord is a persisted guardian delivery attempt.
type AttemptRecord struct {
	ID             int64
	StudentID      string
	Attempt        DeliveryAttempt
	ProviderStatus string
	ReplayOf       *int64
	ReplayedAt     *time.Time
}

// AttemptRepository keeps guardian delivery attempts for replay and audit.
type AttemptRepository interface {
	SaveAttempts(ctx context.Context, studentID string, attempts []DeliveryAttempt, replayOf map[int]int64) error
	ListFailedForReplay(ctx context.Context, since time.Time, limit int) ([]*AttemptRecord, error)
	MarkReplayed(ctx context.Context, ids []int64) error
	ListAwaitingProviderStatus(ctx context.Context, channel Channel, since time.Time, limit int) ([]*AttemptRecord, error)
	UpdateProviderStatus(ctx context.Context, id int64, status string) error
}
