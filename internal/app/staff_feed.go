package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"student_risk_notifier/internal/domain/notification"
	idb "student_risk_notifier/internal/infra/database"
)

// Application-level errors for the staff alert feed
var ErrStaffNotAuthorized = fmt.Errorf("performing user is not authorized as school staff")
var ErrAlreadyRead = fmt.Errorf("staff notification is already marked as read")

// StaffFeed is the read side of staff notifications, used from the staff chat.
type StaffFeed struct {
	repo    notification.Repository
	staffID map[int64]struct{}
}

func NewStaffFeed(repo notification.Repository, allowedIDs []int64) *StaffFeed {
	ids := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		ids[id] = struct{}{}
	}
	return &StaffFeed{repo: repo, staffID: ids}
}

func (s *StaffFeed) IsStaff(telegramID int64) bool {
	_, ok := s.staffID[telegramID]
	return ok
}

// ListAlerts returns the admin feed of a school, unread only unless includeRead.
func (s *StaffFeed) ListAlerts(ctx context.Context, performingID int64, schoolID string, includeRead bool) ([]*notification.StaffNotification, error) {
	if !s.IsStaff(performingID) {
		return nil, ErrStaffNotAuthorized
	}
	schoolID = strings.TrimSpace(schoolID)
	if schoolID == "" {
		return nil, fmt.Errorf("school id is required")
	}

	alerts, err := s.repo.List(ctx, notification.ListFilter{SchoolID: schoolID, UnreadOnly: !includeRead})
	if err != nil {
		return nil, fmt.Errorf("failed to list staff notifications: %w", err)
	}
	return alerts, nil
}

// MarkRead closes a notification. Once read, the next qualifying risk event
// for the same student creates a new notification.
func (s *StaffFeed) MarkRead(ctx context.Context, performingID int64, id int64) (*notification.StaffNotification, error) {
	if !s.IsStaff(performingID) {
		return nil, ErrStaffNotAuthorized
	}

	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, idb.ErrNotificationNotFound) {
			return nil, idb.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get staff notification %d: %w", id, err)
	}
	if n.IsRead {
		return n, ErrAlreadyRead
	}

	if err := s.repo.MarkRead(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to mark staff notification %d read: %w", id, err)
	}
	n.IsRead = true
	return n, nil
}
