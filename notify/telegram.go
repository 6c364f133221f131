package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org"

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID string `json:"chat_id"`
	// APIBase overrides the Bot API host.
	APIBase string `json:"api_base,omitempty"`
}

// Enabled reports whether a bot and chat are configured.
func (c TelegramConfig) Enabled() bool {
	return c.Token != "" && c.ChatID != ""
}

// Telegram sends events with the Bot API sendMessage method.
type Telegram struct {
	cfg    TelegramConfig
	client *retryablehttp.Client
}

func NewTelegram(cfg TelegramConfig, logger *zap.Logger) *Telegram {
	if cfg.APIBase == "" {
		cfg.APIBase = telegramAPI
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = &retryLogger{logger: logger.Sugar()}

	return &Telegram{cfg: cfg, client: rc}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.cfg.ChatID,
		Text:                  e.Text(),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return errors.Wrap(err, "encode telegram message")
	}

	endpoint := strings.TrimRight(t.cfg.APIBase, "/") + "/bot" + t.cfg.Token + "/sendMessage"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The error text contains the URL, and the URL contains the token.
		return errors.New("telegram request failed: " + strings.ReplaceAll(err.Error(), t.cfg.Token, "[token]"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Wrap(err, "read telegram response")
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return errors.Errorf("telegram api status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		return errors.Errorf("telegram api status %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *zap.SugaredLogger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

// Debug is dropped: retryablehttp logs request URLs, which carry the token.
func (l *retryLogger) Debug(string, ...interface{}) {}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}
