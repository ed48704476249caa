package telegram

import (
	"context"
	"fmt"
	"strings"

	"student_risk_notifier/internal/app"
	"student_risk_notifier/internal/domain/risk"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const manualRiskType = "MANUAL"

// AsyncEscalator is satisfied by *app.BatchCoordinator.
type AsyncEscalator interface {
	EscalateAsync(ctx context.Context, ev risk.Event) <-chan app.PerEventResult
}

// RegisterEscalationHandlers lets staff raise a risk event by hand. The
// escalation runs in the background and the outcome is sent to the same chat.
func RegisterEscalationHandlers(ctx context.Context, b *telebot.Bot, feed *app.StaffFeed, escalator AsyncEscalator, baseLogger *logrus.Entry) {
	b.Handle("/escalate", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/escalate",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !feed.IsStaff(c.Sender().ID) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to use this command.")
		}

		ev, err := parseEscalateArgs(c.Args())
		if err != nil {
			return c.Send(err.Error())
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{"student_id": ev.StudentID, "risk_level": ev.Level})

		results := escalator.EscalateAsync(ctx, ev)
		chat := c.Chat()
		go func() {
			res, ok := <-results
			if !ok {
				return
			}
			if _, err := b.Send(chat, escalationReply(res)); err != nil {
				handlerLogger.WithError(err).Error("Failed to send escalation outcome")
			}
		}()

		handlerLogger.Info("Manual escalation queued")
		return c.Send(fmt.Sprintf("Escalation for student %s queued.", ev.StudentID))
	})
}

// parseEscalateArgs expects: <studentId> <LEVEL> [reason...]
func parseEscalateArgs(args []string) (risk.Event, error) {
	if len(args) < 2 {
		return risk.Event{}, fmt.Errorf("Usage: /escalate <studentId> <LOW|MEDIUM|HIGH|CRITICAL> [reason]")
	}
	level, err := risk.ParseLevel(args[1])
	if err != nil {
		return risk.Event{}, fmt.Errorf("Unknown risk level %q. Use LOW, MEDIUM, HIGH or CRITICAL.", args[1])
	}
	return risk.Event{
		StudentID: args[0],
		Level:     level,
		Type:      manualRiskType,
		Reason:    strings.Join(args[2:], " "),
	}, nil
}

func escalationReply(res app.PerEventResult) string {
	var reply strings.Builder
	fmt.Fprintf(&reply, "Escalation for student %s (%s):\n", res.Event.StudentID, res.Event.Level)

	switch {
	case res.AdminErr != nil:
		fmt.Fprintf(&reply, "Staff alert: failed (%v)\n", res.AdminErr)
	case res.Admin.Notification != nil:
		fmt.Fprintf(&reply, "Staff alert: %s #%d\n", strings.ToLower(string(res.Admin.Outcome)), res.Admin.Notification.ID)
	default:
		fmt.Fprintf(&reply, "Staff alert: %s\n", strings.ToLower(string(res.Admin.Outcome)))
	}

	if res.GuardianErr != nil {
		fmt.Fprintf(&reply, "Guardians: failed (%v)", res.GuardianErr)
	} else {
		fmt.Fprintf(&reply, "Guardians: %s, %d of %d messages sent", res.Guardian.Status, res.Guardian.SentCount(), len(res.Guardian.Attempts))
	}
	return reply.String()
}
