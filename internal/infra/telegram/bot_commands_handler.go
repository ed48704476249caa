// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"student_risk_notifier/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(b *telebot.Bot, feed *app.StaffFeed, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if feed.IsStaff(senderID) {
			logCtx.Info("User identified as staff")
			return c.Send(fmt.Sprintf("Hello, %s! New student risk alerts will be posted to the staff chat. Use /help for the list of commands.", c.Sender().FirstName))
		}

		logCtx.Info("User is unknown")
		return c.Send("Hello! This bot relays student risk alerts to school staff. Ask an administrator to add your Telegram ID if you need access.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if !feed.IsStaff(senderID) {
			logCtx.Info("User is unknown, sending restricted help.")
			return c.Send("No commands are available to you.")
		}
		return c.Send(staffHelpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func staffHelpText() string {
	var helpText strings.Builder
	helpText.WriteString("Staff commands:\n\n")
	helpText.WriteString("`/alerts <schoolId> [all]`\n - Show unread alerts of a school, or all of them with 'all'.\n\n")
	helpText.WriteString("`/read <alertId>`\n - Mark an alert as read. The next risk event for the student opens a new alert.\n\n")
	helpText.WriteString("`/escalate <studentId> <LEVEL> [reason]`\n - Raise a risk event by hand. LEVEL is LOW, MEDIUM, HIGH or CRITICAL.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return helpText.String()
}
