// Package alerting pushes notices about detected chart patterns.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"chart-pattern-scanner/internal/detect"
)

// Notification 封装一次形态检测的推送内容。
type Notification struct {
	RunID      string
	Chart      string
	Saved      string
	Boxes      []detect.Box
	DetectedAt time.Time
}

// Notifier 定义推送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	runID    string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 推送器。
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

// WithRunID tags subsequent notices with the run id.
func (n *TelegramNotifier) WithRunID(id string) *TelegramNotifier {
	n.runID = id
	return n
}

// Present 把保存后的检测结果转换为通知并发送。
func (n *TelegramNotifier) Present(ctx context.Context, savedPath string, res detect.Result) error {
	return n.Notify(ctx, Notification{
		RunID:      n.runID,
		Chart:      res.Path,
		Saved:      savedPath,
		Boxes:      res.Boxes,
		DetectedAt: time.Now().UTC(),
	})
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

	n.logger.Info().Str("chart", filepath.Base(note.Chart)).
		Int("boxes", len(note.Boxes)).
		Msg("检测通知已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Chart Pattern Detected]\n")
	if !note.DetectedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.DetectedAt.UTC().Format(time.RFC3339)))
	}
	if note.RunID != "" {
		builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	}
	builder.WriteString(fmt.Sprintf("Chart: %s\n", filepath.Base(note.Chart)))
	if note.Saved != "" {
		builder.WriteString(fmt.Sprintf("Saved: %s\n", note.Saved))
	}
	for _, b := range note.Boxes {
		conf := decimal.NewFromFloat(b.Confidence).Mul(decimal.NewFromInt(100))
		builder.WriteString(fmt.Sprintf("- %s (%s%%)\n", b.Class, conf.StringFixed(1)))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
