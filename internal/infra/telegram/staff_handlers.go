package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"student_risk_notifier/internal/app"
	"student_risk_notifier/internal/domain/notification"
	idb "student_risk_notifier/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const maxAlertsInReply = 20

// RegisterStaffHandlers registers the staff alert commands.
func RegisterStaffHandlers(ctx context.Context, b *telebot.Bot, feed *app.StaffFeed, baseLogger *logrus.Entry) {
	b.Handle("/alerts", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/alerts",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		// Expected format: /alerts <schoolId> [all]
		if len(args) < 1 || len(args) > 2 {
			return c.Send("Usage: /alerts <schoolId> [all]")
		}
		includeRead := false
		if len(args) == 2 {
			if strings.ToLower(args[1]) != "all" {
				return c.Send("Unknown option. Use 'all' to include alerts that were already read.")
			}
			includeRead = true
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{"school_id": args[0], "include_read": includeRead})

		alerts, err := feed.ListAlerts(ctx, c.Sender().ID, args[0], includeRead)
		if err != nil {
			if errors.Is(err, app.ErrStaffNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send("Error: you are not allowed to use this command.")
			}
			handlerLogger.WithError(err).Error("Failed to list staff alerts")
			return c.Send("Could not load alerts, please try again later.")
		}

		if len(alerts) == 0 {
			return c.Send("No alerts for this school.")
		}
		handlerLogger.WithField("alerts_count", len(alerts)).Info("Successfully retrieved staff alerts")
		return c.Send(formatAlertList(alerts))
	})

	b.Handle("/read", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/read",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /read <alertId>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: alert id must be a number.")
		}

		return c.Send(markReadReply(ctx, feed, c.Sender().ID, id, handlerLogger.WithField("notification_id", id)))
	})
}

// RegisterCallbackHandlers handles the "Mark as read" button of mirrored alerts.
func RegisterCallbackHandlers(ctx context.Context, b *telebot.Bot, feed *app.StaffFeed, baseLogger *logrus.Entry) {
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		data := c.Callback().Data

		id, ok := parseReadCallback(data)
		if !ok {
			c.Bot().OnError(fmt.Errorf("unhandled callback data: %s", data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
		}

		log := baseLogger.WithFields(logrus.Fields{
			"handler":         "notif_read",
			"sender_id":       c.Sender().ID,
			"notification_id": id,
		})
		return c.Respond(&telebot.CallbackResponse{Text: markReadReply(ctx, feed, c.Sender().ID, id, log)})
	})
}

func markReadReply(ctx context.Context, feed *app.StaffFeed, senderID, id int64, log *logrus.Entry) string {
	n, err := feed.MarkRead(ctx, senderID, id)
	switch {
	case err == nil:
		log.Info("Staff notification marked as read")
		return fmt.Sprintf("Alert #%d marked as read.", n.ID)
	case errors.Is(err, app.ErrStaffNotAuthorized):
		log.Warn("Unauthorized access attempt")
		return "Error: you are not allowed to do this."
	case errors.Is(err, app.ErrAlreadyRead):
		return fmt.Sprintf("Alert #%d was already read.", id)
	case errors.Is(err, idb.ErrNotificationNotFound):
		return fmt.Sprintf("Alert #%d not found.", id)
	default:
		log.WithError(err).Error("Failed to mark staff notification read")
		return "Could not update the alert, please try again later."
	}
}

func formatAlertList(alerts []*notification.StaffNotification) string {
	var response strings.Builder
	shown := alerts
	if len(shown) > maxAlertsInReply {
		shown = shown[:maxAlertsInReply]
	}
	for _, n := range shown {
		status := "unread"
		if n.IsRead {
			status = "read"
		}
		fmt.Fprintf(&response, "#%d [%s] %s (%s, %s)\n", n.ID, n.Priority, n.Title, status, n.CreatedAt.Format("2006-01-02 15:04"))
	}
	if len(alerts) > len(shown) {
		fmt.Fprintf(&response, "... and %d more", len(alerts)-len(shown))
	}
	return response.String()
}
