// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/procwatch/internal/models"
)

// maxListed caps the anomalies itemized in one message.
const maxListed = 10

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled. status
// produces the reply to /status and may be nil.
func (c *Client) ListenForCommands(ctx context.Context, status func() string) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status func() string) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "status":
		if status == nil {
			return
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, status())
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends an ingestion error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(tickErr error) error {
	text := fmt.Sprintf("⚠️ *Ingestion error*\n`%s`", escapeMarkdownV2(tickErr.Error()))
	return c.sendMarkdownV2(context.Background(), text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Ingestion recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(context.Background(), text)
}

// Name identifies the notifier in logs and metrics.
func (c *Client) Name() string { return "telegram" }

// Notify sends the anomalies of one tick.
func (c *Client) Notify(ctx context.Context, anomalies []models.AnomalyRecord) error {
	if len(anomalies) == 0 {
		return nil
	}
	return c.sendMarkdownV2(ctx, formatMessage(anomalies))
}

// formatMessage formats anomalies into a Telegram MarkdownV2 message, highest
// score first.
func formatMessage(anomalies []models.AnomalyRecord) string {
	sorted := make([]models.AnomalyRecord, len(anomalies))
	copy(sorted, anomalies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AnomalyScore > sorted[j].AnomalyScore })

	var b strings.Builder
	b.WriteString("🚨 *Process anomalies*\n\n")

	latest := sorted[0].Timestamp
	for _, r := range sorted {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	fmt.Fprintf(&b, "📅 Up to: %s\n\n", escapeMarkdownV2(latest.UTC().Format("2006-01-02 15:04:05")))

	for i, r := range sorted {
		if i == maxListed {
			fmt.Fprintf(&b, "\\.\\.\\. and %d more\n", len(sorted)-maxListed)
			break
		}
		direction := "📈"
		if r.Residual < 0 {
			direction = "📉"
		}
		fmt.Fprintf(&b, "%d\\. `%s` %s *%s*\n", i+1,
			escapeMarkdownV2(r.Variable), direction,
			escapeMarkdownV2(fmt.Sprintf("score %.1f", r.AnomalyScore)))
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(fmt.Sprintf("y=%.2f expected %.2f [%.2f, %.2f] at %s",
			r.Observed, r.Yhat, r.YhatLower, r.YhatUpper, r.Timestamp.UTC().Format("15:04:05"))))
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
