package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"meme-surge-bot/internal/config"

	"go.uber.org/zap"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	// maxMessageRunes is the Bot API limit for sendMessage text.
	maxMessageRunes = 4096
)

type Telegram struct {
	enabled bool
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

// Send posts a plain-text message to the configured chat. Disabled clients
// accept and drop every message.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.enabled {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return errors.New("telegram message is empty")
	}
	if utf8.RuneCountInString(message) > maxMessageRunes {
		t.log.Debug("telegram message truncated", zap.Int("runes", utf8.RuneCountInString(message)))
		message = string([]rune(message)[:maxMessageRunes])
	}
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage", nil), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(t.client, req, "sendMessage", nil)
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      *Chat  `json:"chat"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// GetUpdates long-polls for operator messages starting at offset. The
// request is held open by the server for up to wait.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if !t.enabled {
		return nil, nil
	}
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(wait/time.Second)))
	params.Set("allowed_updates", `["message"]`)
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("getUpdates", params), nil)
	if err != nil {
		return nil, err
	}
	client := t.client
	if need := wait + 10*time.Second; client.Timeout > 0 && client.Timeout < need {
		copied := *client
		copied.Timeout = need
		client = &copied
	}
	var updates []Update
	if err := t.do(client, req, "getUpdates", &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (t *Telegram) endpoint(method string, params url.Values) string {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return endpoint
}

// do executes a Bot API call and decodes its envelope. A nil result skips
// decoding the payload but still checks ok.
func (t *Telegram) do(client *http.Client, req *http.Request, method string, result any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram %s failed: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !envelope.OK {
		desc := strings.TrimSpace(envelope.Description)
		if desc == "" {
			desc = "unknown telegram error"
		}
		return fmt.Errorf("telegram %s failed: %s", method, desc)
	}
	if result == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, result)
}
