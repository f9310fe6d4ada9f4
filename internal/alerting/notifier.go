package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装告警上下文。
type Notification struct {
	At            time.Time
	Comparison    string
	Instrument    string
	MakerVenue    string
	TakerVenue    string
	Direction     string
	APR           decimal.Decimal
	Threshold     decimal.Decimal
	MakerPrice    decimal.Decimal
	TakerPrice    decimal.Decimal
	Horizon       time.Duration
	Channels      []string
	AdditionalMsg string
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

	n.logger.Info().Time("at", note.At).
		Str("comparison", note.Comparison).
		Str("direction", note.Direction).
		Str("apr", note.APR.StringFixed(2)).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes alerts to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Time("at", note.At).
		Str("comparison", note.Comparison).
		Str("direction", note.Direction).
		Str("apr", note.APR.StringFixed(2)).
		Str("threshold", note.Threshold.StringFixed(2)).
		Msg("APR threshold crossed")
	return nil
}

// Multi fans a notification out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cooldown suppresses repeated alerts for the same key within a window.
type Cooldown struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

// NewCooldown returns a Cooldown; a zero window allows every alert.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether key may alert at now and records it if so.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[key]; ok && c.window > 0 && now.Sub(prev) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Arbitrage APR Alert]\n")
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Comparison: %s (%s)\n", note.Comparison, note.Instrument))
	builder.WriteString(fmt.Sprintf("Maker: %s @ %s\n", note.MakerVenue, note.MakerPrice.String()))
	builder.WriteString(fmt.Sprintf("Taker: %s @ %s\n", note.TakerVenue, note.TakerPrice.String()))
	builder.WriteString(fmt.Sprintf("APR: %s%% (threshold %s%%)\n", note.APR.StringFixed(2), note.Threshold.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	if note.Horizon > 0 {
		builder.WriteString(fmt.Sprintf("Expires in: %s\n", note.Horizon.Round(time.Minute)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
