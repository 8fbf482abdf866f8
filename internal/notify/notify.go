package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// Moved is one relocated message in a drain summary
type Moved struct {
	From     string
	Subject  string
	Category string
	Folder   string
}

// Summary describes one drain cycle of a folder
type Summary struct {
	Account   string
	Folder    string
	Processed int
	Skipped   int
	Moved     []Moved
}

// Notifier publishes drain summaries
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Nop discards summaries
type Nop struct{}

func (Nop) Notify(context.Context, Summary) error { return nil }

// TelegramConfig configuration for the Telegram notifier
type TelegramConfig struct {
	Token     string
	ChatID    int64
	TopicID   int    // Forum topic, 0 for none
	ServerURL string // Bot API override, empty for the public API
}

// Telegram sends summaries to a chat or forum topic
type Telegram struct {
	bot       *bot.Bot
	chatID    int64
	topicID   int
	formatter *Formatter
	logger    *slog.Logger
}

// NewTelegram creates a send-only bot client
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	opts := []bot.Option{
		bot.WithSkipGetMe(),
	}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:       b,
		chatID:    cfg.ChatID,
		topicID:   cfg.TopicID,
		formatter: NewFormatter(),
		logger:    logger.With("component", "notifier"),
	}, nil
}

// Notify sends s if it moved anything
func (t *Telegram) Notify(ctx context.Context, s Summary) error {
	if len(s.Moved) == 0 {
		return nil
	}

	params := &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      t.formatter.FormatSummary(s),
		ParseMode: tgmodels.ParseModeHTML,
	}
	if t.topicID != 0 {
		params.MessageThreadID = t.topicID
	}

	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("failed to send summary: %w", err)
	}

	t.logger.Debug("summary sent", "account", s.Account, "folder", s.Folder, "moved", len(s.Moved))
	return nil
}

// Formatter renders summaries as Telegram HTML
type Formatter struct {
	maxLength int
	maxItems  int
}

// NewFormatter creates a new summary formatter
func NewFormatter() *Formatter {
	return &Formatter{
		maxLength: 4000, // Leave room for markup
		maxItems:  20,
	}
}

// FormatSummary formats a drain summary
func (f *Formatter) FormatSummary(s Summary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>%s</b> / %s\n", escapeHTML(s.Account), escapeHTML(s.Folder)))
	sb.WriteString(fmt.Sprintf("Processed %d, moved %d", s.Processed, len(s.Moved)))
	if s.Skipped > 0 {
		sb.WriteString(fmt.Sprintf(", skipped %d", s.Skipped))
	}
	sb.WriteString("\n\n")

	for i, m := range s.Moved {
		if i == f.maxItems {
			sb.WriteString(fmt.Sprintf("<i>... and %d more</i>\n", len(s.Moved)-i))
			break
		}

		line := fmt.Sprintf("<b>%s</b> → %s: %s\n",
			escapeHTML(m.Category), escapeHTML(m.Folder), escapeHTML(truncate(subjectOrFrom(m), 80)))
		if sb.Len()+len(line) > f.maxLength {
			sb.WriteString("<i>...</i>\n")
			break
		}
		sb.WriteString(line)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func subjectOrFrom(m Moved) string {
	if strings.TrimSpace(m.Subject) != "" {
		return m.Subject
	}
	return m.From
}

// escapeHTML escapes HTML special characters for Telegram
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
