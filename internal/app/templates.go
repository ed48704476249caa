package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"student_risk_notifier/internal/domain/risk"
	"student_risk_notifier/internal/domain/student"
)

const (
	defaultReason     = "Immediate attention may be required."
	maxSMSReasonRunes = 100
)

var guardianEmailTemplate = template.Must(template.New("guardian_email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <p>Dear {{.GuardianName}},</p>
  <p>We are writing to let you know that <strong>{{.StudentName}}</strong>{{if .ClassName}} ({{.ClassName}}){{end}}
  at {{.SchoolName}} has been identified as being at <strong>{{.Level}}</strong> risk.</p>
  <p>{{.Reason}}</p>
  <p>Please get in touch with the school at your earliest convenience so we can support {{.StudentName}} together.</p>
  <p>Kind regards,<br>{{.SchoolName}}</p>
</body>
</html>`))

type guardianEmailData struct {
	GuardianName string
	StudentName  string
	ClassName    string
	SchoolName   string
	Level        string
	Reason       string
}

func reasonOrDefault(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return defaultReason
	}
	return reason
}

// StaffTitle is the title of a staff notification.
func StaffTitle(st *student.NotifiableStudent) string {
	return fmt.Sprintf("Student At Risk: %s", st.DisplayName)
}

// StaffMessage combines class name, title-cased level and the reason.
func StaffMessage(st *student.NotifiableStudent, ev risk.Event) string {
	var b strings.Builder
	b.WriteString(st.DisplayName)
	if st.ClassName != "" {
		fmt.Fprintf(&b, " (%s)", st.ClassName)
	}
	fmt.Fprintf(&b, " has been flagged as %s risk", ev.Level.Title())
	if ev.Type != "" {
		fmt.Fprintf(&b, " for %s", strings.ToLower(ev.Type))
	}
	b.WriteString(". ")
	b.WriteString(reasonOrDefault(ev.Reason))
	return b.String()
}

// GuardianEmail renders the subject and HTML body sent to one guardian.
func GuardianEmail(guardianName string, st *student.NotifiableStudent, level risk.Level, reason string) (subject, body string, err error) {
	subject = fmt.Sprintf("%s: %s needs your attention", st.SchoolName, st.DisplayName)

	name := strings.TrimSpace(guardianName)
	if name == "" {
		name = "Parent/Guardian"
	}
	var buf bytes.Buffer
	err = guardianEmailTemplate.Execute(&buf, guardianEmailData{
		GuardianName: name,
		StudentName:  st.DisplayName,
		ClassName:    st.ClassName,
		SchoolName:   st.SchoolName,
		Level:        level.Title(),
		Reason:       reasonOrDefault(reason),
	})
	if err != nil {
		return "", "", fmt.Errorf("render guardian email: %w", err)
	}
	return subject, buf.String(), nil
}

// GuardianSMS renders the short text message. Long reasons are cut.
func GuardianSMS(st *student.NotifiableStudent, level risk.Level, reason string) string {
	r := []rune(reasonOrDefault(reason))
	if len(r) > maxSMSReasonRunes {
		r = append(r[:maxSMSReasonRunes-3], []rune("...")...)
	}
	return fmt.Sprintf("%s: %s has been flagged as %s risk. %s Please contact the school.",
		st.SchoolName, st.DisplayName, level.Title(), string(r))
}
