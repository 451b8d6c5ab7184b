// Package notify delivers the outbound message C4 sends when an alert
// triggers: "call the injected notify(chat_id, text)". Notifier is the
// seam the alert engine depends on; HTTPNotifier is the concrete chat
// transport and LogNotifier is a test/degraded-mode stand-in.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notifier sends a rendered alert message to a chat destination. A
// failed Notify is logged and swallowed by the caller — it must never
// interrupt alert processing or un-trigger the alert.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// HTTPNotifier posts to a chat bot's sendMessage-style HTTP API.
type HTTPNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPNotifier constructs a notifier bound to a bot token and API base.
func NewHTTPNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &HTTPNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Notify posts text to chatID via the bot API's sendMessage endpoint.
func (n *HTTPNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify endpoint returned status %d", resp.StatusCode)
	}

	n.logger.Info().Int64("chat_id", chatID).Msg("alert notification sent")
	return nil
}

// LogNotifier just logs the message instead of sending it; used when no
// chat transport is configured, and in tests.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.logger.Info().Int64("chat_id", chatID).Str("text", text).Msg("alert notification (log only)")
	return nil
}

var (
	_ Notifier = (*HTTPNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)

// RenderPriceAlertText formats the message for a triggered price alert,
// naming the direction, threshold, and current observation.
func RenderPriceAlertText(token, direction string, threshold, current decimal.Decimal) string {
	return fmt.Sprintf("Price alert for %s: crossed %s %s (current: %s)", token, direction, threshold.String(), current.String())
}

// RenderLTVAlertText formats the message for a triggered LTV alert.
func RenderLTVAlertText(token, direction string, threshold, current decimal.Decimal) string {
	return fmt.Sprintf("LTV alert for %s: crossed %s %s (current: %s)", token, direction, threshold.String(), current.String())
}
