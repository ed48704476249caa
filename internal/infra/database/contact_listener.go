package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// ContactsChangedChannel is the Postgres NOTIFY channel the school application
// signals on when a student's guardians or their contacts change. The payload
// is the student id.
const ContactsChangedChannel = "guardian_contacts_changed"

// ContactChangeListener forwards contact-change notifications to onChange.
type ContactChangeListener struct {
	listener *pq.Listener
	onChange func(ctx context.Context, studentID string) error
	logger   *logrus.Entry
}

func NewContactChangeListener(databaseURL string, onChange func(ctx context.Context, studentID string) error, logger *logrus.Entry) (*ContactChangeListener, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).WithField("event", ev).Warn("Contact change listener connection event")
		}
	}
	l := pq.NewListener(databaseURL, 5*time.Second, time.Minute, report)
	if err := l.Listen(ContactsChangedChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ContactsChangedChannel, err)
	}
	return &ContactChangeListener{listener: l, onChange: onChange, logger: logger}, nil
}

// Run blocks until ctx is done. A nil notification means the connection was
// re-established and changes may have been missed; it is only logged.
func (c *ContactChangeListener) Run(ctx context.Context) {
	defer c.listener.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.listener.Notify:
			if n == nil {
				c.logger.Warn("Contact change listener reconnected, cached students may be stale until their TTL expires")
				continue
			}
			c.handle(ctx, n.Extra)
		case <-time.After(90 * time.Second):
			go c.listener.Ping()
		}
	}
}

func (c *ContactChangeListener) handle(ctx context.Context, payload string) {
	studentID := strings.TrimSpace(payload)
	if studentID == "" {
		return
	}
	log := c.logger.WithField("student_id", studentID)
	if err := c.onChange(ctx, studentID); err != nil {
		log.WithError(err).Error("Failed to invalidate cached student")
		return
	}
	log.Debug("Cached student invalidated after contact change")
}
