package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSink sends alerts to a single chat, grounded on the teacher's
// bot/telegram.go send()/sendMarkdown() helpers — one flat text message per
// notification, always sent with Markdown parse mode.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramSink wraps an already-authenticated bot API client.
func NewTelegramSink(api *tgbotapi.BotAPI, chatID int64, log zerolog.Logger) *TelegramSink {
	return &TelegramSink{api: api, chatID: chatID, log: log.With().Str("component", "alert.telegram").Logger()}
}

func icon(severity string) string {
	switch Severity(severity) {
	case SeverityFatal:
		return "💀"
	case SeverityCritical, SeverityHigh:
		return "🚨"
	case SeverityMedium:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func (t *TelegramSink) Notify(severity, title, detail string) {
	text := fmt.Sprintf("%s *%s*\n%s", icon(severity), title, detail)
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error().Err(err).Str("title", title).Msg("failed to send telegram alert")
	}
}
