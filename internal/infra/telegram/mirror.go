package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"student_risk_notifier/internal/domain/notification"
	domaintelegram "student_risk_notifier/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const readCallbackPrefix = "notif_read_"

// StaffAlertMirror posts newly created staff notifications to a staff chat.
// Telegram failures are logged only; the stored notification is authoritative.
type StaffAlertMirror struct {
	client domaintelegram.Client
	chatID int64
	logger *logrus.Entry
}

func NewStaffAlertMirror(client domaintelegram.Client, chatID int64, logger *logrus.Entry) *StaffAlertMirror {
	return &StaffAlertMirror{client: client, chatID: chatID, logger: logger}
}

func (m *StaffAlertMirror) PublishCreated(_ context.Context, n *notification.StaffNotification) {
	if m.chatID == 0 {
		return
	}

	replyMarkup := &telebot.ReplyMarkup{}
	btnRead := replyMarkup.Data("Mark as read", readCallbackData(n.ID))
	replyMarkup.Inline(replyMarkup.Row(btnRead))

	err := m.client.SendMessage(m.chatID, formatAlert(n), &telebot.SendOptions{ReplyMarkup: replyMarkup})
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"notification_id": n.ID,
			"chat_id":         m.chatID,
		}).Warn("Failed to mirror staff notification to Telegram")
	}
}

func formatAlert(n *notification.StaffNotification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", n.Priority, n.Title)
	b.WriteString(n.Message)
	fmt.Fprintf(&b, "\n\nSchool: %s | Alert #%d", n.SchoolID, n.ID)
	return b.String()
}

func readCallbackData(id int64) string {
	return readCallbackPrefix + strconv.FormatInt(id, 10)
}

// parseReadCallback extracts the notification id from "notif_read_<id>".
// telebot prefixes data buttons with '\f'.
func parseReadCallback(data string) (int64, bool) {
	data = strings.TrimPrefix(data, "\f")
	if !strings.HasPrefix(data, readCallbackPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(data, readCallbackPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
