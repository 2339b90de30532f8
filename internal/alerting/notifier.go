package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/storage"
)

// Notification 封装一次告警触发的上下文。
type Notification struct {
	AlertID      int64
	Kind         storage.AlertKind
	ProductID    uuid.UUID
	ProductName  string
	ProductURL   string
	OwnerID      string
	OwnerEmail   string
	CurrentPrice decimal.Decimal
	Currency     string
	Threshold    decimal.Decimal
	DemandScore  *float64
	TriggeredAt  time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("alert_id", note.AlertID).
		Str("product_id", note.ProductID.String()).
		Str("kind", string(note.Kind)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func subject(note Notification) string {
	switch note.Kind {
	case storage.AlertPriceDrop:
		return fmt.Sprintf("Price drop: %s", note.ProductName)
	case storage.AlertPriceIncrease:
		return fmt.Sprintf("Price increase: %s", note.ProductName)
	case storage.AlertDemandSpike:
		return fmt.Sprintf("Demand spike: %s", note.ProductName)
	default:
		return fmt.Sprintf("Price alert: %s", note.ProductName)
	}
}

func renderMessage(note Notification) string {
	currency := note.Currency
	if currency == "" {
		currency = "INR"
	}

	builder := strings.Builder{}
	builder.WriteString("[Price Tracker Alert]\n")
	builder.WriteString(subject(note) + "\n")
	builder.WriteString(fmt.Sprintf("Current price: %s %s\n", note.CurrentPrice.StringFixed(2), currency))
	if note.Kind == storage.AlertDemandSpike {
		if note.DemandScore != nil {
			builder.WriteString(fmt.Sprintf("Demand score: %.2f (threshold %s)\n", *note.DemandScore, note.Threshold.StringFixed(2)))
		}
	} else {
		builder.WriteString(fmt.Sprintf("Threshold: %s %s\n", note.Threshold.StringFixed(2), currency))
	}
	builder.WriteString(fmt.Sprintf("Triggered: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))
	if note.ProductURL != "" {
		builder.WriteString(note.ProductURL + "\n")
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
