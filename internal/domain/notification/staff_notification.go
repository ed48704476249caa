// internal/domain/notification/staff_notification.go
package notification

import (
	"fmt"
	"time"
)

// Metadata carried by a staff notification. UpdatedAt is set only once the row
// has been merged with a later event.
type Metadata struct {
	RiskLevel   string     `json:"riskLevel"`
	RiskType    string     `json:"riskType,omitempty"`
	ClassName   string     `json:"className,omitempty"`
	StudentName string     `json:"studentName"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// StaffNotification is an in-app alert for school administrators.
// Corresponds to the 'staff_notifications' table.
type StaffNotification struct {
	ID            int64
	EntityType    string
	EntityID      string
	RecipientType string
	SchoolID      string
	Title         string
	Message       string
	Type          string
	Priority      Priority
	IsRead        bool
	Metadata      Metadata
	CreatedAt     time.Time
}

// DedupKey identifies the single active notification allowed per window.
type DedupKey struct {
	SchoolID string
	EntityID string
	Type     string
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.SchoolID, k.EntityID, k.Type)
}

func (n *StaffNotification) Key() DedupKey {
	return DedupKey{SchoolID: n.SchoolID, EntityID: n.EntityID, Type: n.Type}
}

// MergeFrom folds a newer qualifying event into an existing active row.
// CreatedAt is left untouched so the dedup window is never extended.
func (n *StaffNotification) MergeFrom(newer *StaffNotification, now time.Time) {
	n.Priority = newer.Priority
	n.Message = newer.Message
	n.Title = newer.Title

	n.Metadata.RiskLevel = newer.Metadata.RiskLevel
	if newer.Metadata.RiskType != "" {
		n.Metadata.RiskType = newer.Metadata.RiskType
	}
	if newer.Metadata.ClassName != "" {
		n.Metadata.ClassName = newer.Metadata.ClassName
	}
	if newer.Metadata.StudentName != "" {
		n.Metadata.StudentName = newer.Metadata.StudentName
	}
	updated := now
	n.Metadata.UpdatedAt = &updated
}
