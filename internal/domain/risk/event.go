// internal/domain/risk/event.go
package risk

import (
	"fmt"
	"strings"
)

// ErrInvalidRiskLevel is returned for an omitted or unknown risk level.
var ErrInvalidRiskLevel = fmt.Errorf("invalid risk level")

// Level is the severity assigned to a student by the upstream risk detector.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// ParseLevel accepts exactly the four defined level names, the same rule
// Event.Validate applies. Anything else, including an empty string or a
// different case, is rejected rather than defaulted.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRiskLevel, s)
	}
	return l, nil
}

func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Title returns the level in title case, e.g. "High".
func (l Level) Title() string {
	s := strings.ToLower(string(l))
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Event is an immutable risk signal for one student.
type Event struct {
	StudentID string
	Level     Level
	Type      string // free-form category, e.g. ATTENDANCE, PERFORMANCE
	Reason    string // optional human text
}

// Validate checks the event before any side effect happens.
func (e Event) Validate() error {
	if !e.Level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRiskLevel, string(e.Level))
	}
	if strings.TrimSpace(e.StudentID) == "" {
		return fmt.Errorf("risk event has empty student id")
	}
	return nil
}
