package telegram

import "gopkg.in/telebot.v3"

// Client sends staff-facing messages through a Telegram bot. Chat ids may
// refer to a private chat or to a staff group.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}
