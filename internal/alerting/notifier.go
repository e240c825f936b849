package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-consensus/internal/storage"
)

// Notifier delivers trigger events and daily reports. Delivery
// guarantees beyond the outbox are the implementation's concern.
type Notifier interface {
	NotifyTrigger(ctx context.Context, event storage.TriggerEvent) error
	NotifyReport(ctx context.Context, report storage.DailyReport) error
}

// TelegramNotifier pushes messages through the Telegram Bot API. The
// chat id per owner comes from the owner identifier itself; the
// conversational layer guarantees owners are chat ids.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// NotifyTrigger sends one alert firing to its owner.
func (n *TelegramNotifier) NotifyTrigger(ctx context.Context, event storage.TriggerEvent) error {
	if err := n.send(ctx, event.OwnerID, renderTrigger(event)); err != nil {
		return err
	}
	n.logger.Info().
		Str("event", event.ID).
		Str("asset", event.Asset).
		Str("owner", event.OwnerID).
		Msg("trigger delivered")
	return nil
}

// NotifyReport broadcasts a daily summary; the owner id doubles as the
// broadcast channel configured upstream.
func (n *TelegramNotifier) NotifyReport(ctx context.Context, report storage.DailyReport) error {
	return n.send(ctx, report.Asset, renderReport(report))
}

func (n *TelegramNotifier) send(ctx context.Context, chatID, text string) error {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}
	return nil
}

func renderTrigger(event storage.TriggerEvent) string {
	builder := strings.Builder{}
	builder.WriteString("[Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Asset: %s\n", event.Asset))
	builder.WriteString(fmt.Sprintf("Reason: %s\n", event.Reason))
	builder.WriteString(fmt.Sprintf("Price: %s\n", event.Price.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Reference: %s\n", event.Reference.StringFixed(4)))
	if !event.DeltaPct.IsZero() {
		builder.WriteString(fmt.Sprintf("Change: %s%%\n", event.DeltaPct.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Cycle: %s UTC\n", event.CycleTS.UTC().Format(time.RFC3339)))
	return builder.String()
}

func renderReport(report storage.DailyReport) string {
	builder := strings.Builder{}
	builder.WriteString("[Daily Report]\n")
	builder.WriteString(fmt.Sprintf("Asset: %s\n", report.Asset))
	builder.WriteString(fmt.Sprintf("Date: %s\n", report.Date.Format("2006-01-02")))
	builder.WriteString(fmt.Sprintf("Open: %s  Close: %s\n", report.Open.StringFixed(4), report.Close.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("High: %s  Low: %s\n", report.High.StringFixed(4), report.Low.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Trend: %s\n", report.Trend))
	builder.WriteString(fmt.Sprintf("Volatility: %s%%\n", report.Volatility.StringFixed(2)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
