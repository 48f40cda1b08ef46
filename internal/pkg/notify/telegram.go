// Package notify delivers operator alerts about failed task runs.
package notify

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Telegram sends alerts through the Telegram Bot API. A zero value with
// no token is a no-op, so notification wiring is always safe.
type Telegram struct {
	token  string
	chatID string
	client *resty.Client
	logger *zap.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(token, chatID string, logger *zap.Logger) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: resty.New().SetBaseURL("https://api.telegram.org/bot" + token),
		logger: logger,
	}
}

// Enabled reports whether the notifier is configured.
func (t *Telegram) Enabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

// NotifyFailure reports a failed run. Errors are logged, never returned;
// a broken notifier must not affect task execution.
func (t *Telegram) NotifyFailure(taskName, message string) {
	if !t.Enabled() {
		return
	}
	text := fmt.Sprintf("❌ <b>%s</b> failed\n\n%s", taskName, message)
	if err := t.send(text); err != nil {
		t.logger.Error("Failed to send failure notification", zap.String("task", taskName), zap.Error(err))
	}
}

// NotifyStartup announces that the service came up.
func (t *Telegram) NotifyStartup(version string) {
	if !t.Enabled() {
		return
	}
	if err := t.send("✅ scheduler service started " + version); err != nil {
		t.logger.Error("Failed to send startup notification", zap.Error(err))
	}
}

func (t *Telegram) send(text string) error {
	resp, err := t.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram sendMessage returned status %d", resp.StatusCode())
	}
	return nil
}
