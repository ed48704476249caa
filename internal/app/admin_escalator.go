package app

import (
	"context"
	"fmt"
	"time"

	"student_risk_notifier/internal/domain/notification"
	"student_risk_notifier/internal/domain/risk"

	"github.com/sirupsen/logrus"
)

// AdminOutcome says what an admin escalation did.
type AdminOutcome string

const (
	OutcomeCreated AdminOutcome = "CREATED"
	OutcomeUpdated AdminOutcome = "UPDATED"
	OutcomeSkipped AdminOutcome = "SKIPPED"
)

type AdminResult struct {
	Outcome      AdminOutcome
	Notification *notification.StaffNotification // nil when skipped
}

// StaffAlertPublisher is told about newly created staff notifications.
// Updates of an existing row are not published again.
type StaffAlertPublisher interface {
	PublishCreated(ctx context.Context, n *notification.StaffNotification)
}

// AdminEscalator turns a risk event into a deduplicated staff notification.
type AdminEscalator struct {
	resolver  StudentResolver
	repo      notification.Repository
	window    time.Duration
	publisher StaffAlertPublisher
	now       func() time.Time
	logger    *logrus.Entry
}

func NewAdminEscalator(resolver StudentResolver, repo notification.Repository, window time.Duration, logger *logrus.Entry) *AdminEscalator {
	return &AdminEscalator{
		resolver: resolver,
		repo:     repo,
		window:   window,
		now:      time.Now,
		logger:   logger,
	}
}

// SetPublisher attaches an optional publisher for created notifications.
func (e *AdminEscalator) SetPublisher(p StaffAlertPublisher) {
	e.publisher = p
}

// Escalate validates the event, skips LOW risk, and otherwise creates or
// updates the single active notification for the student inside the window.
func (e *AdminEscalator) Escalate(ctx context.Context, ev risk.Event) (*AdminResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	log := e.logger.WithFields(logrus.Fields{"student_id": ev.StudentID, "risk_level": ev.Level})

	if ev.Level == risk.LevelLow {
		log.Debug("Low risk event does not produce a staff notification")
		return &AdminResult{Outcome: OutcomeSkipped}, nil
	}

	priority, err := notification.PriorityForLevel(ev.Level)
	if err != nil {
		return nil, err
	}

	st, err := e.resolver.Resolve(ctx, ev.StudentID)
	if err != nil {
		return nil, err
	}
	log = log.WithField("school_id", st.SchoolID)

	now := e.now()
	candidate := &notification.StaffNotification{
		EntityType:    notification.EntityTypeStudent,
		EntityID:      st.ID,
		RecipientType: notification.RecipientTypeAdmin,
		SchoolID:      st.SchoolID,
		Title:         StaffTitle(st),
		Message:       StaffMessage(st, ev),
		Type:          notification.TypeStudentAtRisk,
		Priority:      priority,
		Metadata: notification.Metadata{
			RiskLevel:   string(ev.Level),
			RiskType:    ev.Type,
			ClassName:   st.ClassName,
			StudentName: st.DisplayName,
		},
		CreatedAt: now,
	}

	stored, created, err := e.repo.UpsertActive(ctx, candidate.Key(), now.Add(-e.window), func(existing *notification.StaffNotification) *notification.StaffNotification {
		if existing == nil {
			return candidate
		}
		existing.MergeFrom(candidate, now)
		return existing
	})
	if err != nil {
		log.WithError(err).Error("Failed to store staff notification")
		return nil, fmt.Errorf("failed to store staff notification for student %s: %w", ev.StudentID, err)
	}

	if !created {
		log.WithFields(logrus.Fields{"notification_id": stored.ID, "priority": stored.Priority}).Info("Updated active staff notification")
		return &AdminResult{Outcome: OutcomeUpdated, Notification: stored}, nil
	}

	log.WithFields(logrus.Fields{"notification_id": stored.ID, "priority": stored.Priority}).Info("Created staff notification")
	if e.publisher != nil {
		e.publisher.PublishCreated(ctx, stored)
	}
	return &AdminResult{Outcome: OutcomeCreated, Notification: stored}, nil
}
