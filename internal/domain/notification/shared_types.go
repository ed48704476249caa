// internal/domain/notification/shared_types.go
package notification

import (
	"fmt"

	"student_risk_notifier/internal/domain/risk"
)

// Priority of a staff notification in the admin feed.
type Priority string

const (
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// PriorityForLevel maps a risk level to a staff priority. LOW has no priority
// because it never produces a staff notification.
func PriorityForLevel(l risk.Level) (Priority, error) {
	switch l {
	case risk.LevelCritical:
		return PriorityUrgent, nil
	case risk.LevelHigh:
		return PriorityHigh, nil
	case risk.LevelMedium:
		return PriorityMedium, nil
	case risk.LevelLow:
		return "", fmt.Errorf("risk level %s has no staff priority", l)
	default:
		return "", fmt.Errorf("%w: %q", risk.ErrInvalidRiskLevel, string(l))
	}
}

const (
	EntityTypeStudent  = "STUDENT"
	RecipientTypeAdmin = "ADMIN"
	TypeStudentAtRisk  = "STUDENT_AT_RISK"
)

// Channel is a guardian delivery medium.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// ResultStatus summarises one guardian escalation.
type ResultStatus string

const (
	StatusNotified   ResultStatus = "NOTIFIED"    // every attempt succeeded
	StatusPartial    ResultStatus = "PARTIAL"     // some attempts succeeded
	StatusFailed     ResultStatus = "FAILED"      // attempts were made, none succeeded
	StatusNoContacts ResultStatus = "NO_CONTACTS" // nothing to notify
)
