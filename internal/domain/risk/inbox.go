// internal/domain/risk/inbox.go
package risk

import (
	"context"
	"time"
)

// InboxEntry is a risk event queued by the risk-detection collaborator.
// RawLevel is kept unparsed so an invalid value can be rejected per entry.
type InboxEntry struct {
	ID          int64
	StudentID   string
	RawLevel    string
	Type        string
	Reason      string
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Attempts    int
	LastError   string
}

// InboxRepository is the queue the scheduler drains.
type InboxRepository interface {
	Enqueue(ctx context.Context, e Event) (int64, error)
	ListPending(ctx context.Context, limit int) ([]*InboxEntry, error)
	MarkProcessed(ctx context.Context, id int64, errText string) error
	// MarkRetry leaves the entry pending for another run and counts the
	// attempt. Once maxAttempts is reached the entry is marked processed and
	// exhausted is true.
	MarkRetry(ctx context.Context, id int64, errText string, maxAttempts int) (exhausted bool, err error)
}
