// Package notify delivers engine notifications over chat transports.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"callboard/internal/engine"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramSender delivers notifications through the Telegram Bot API.
// The recipient's person id doubles as the chat id.
type TelegramSender struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewTelegram(token string) *TelegramSender {
	return &TelegramSender{
		BaseURL: defaultAPIBase,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSender) Send(ctx context.Context, n engine.Notification) error {
	req := sendMessageRequest{ChatID: n.Recipient.ID, Text: n.Text}
	if n.Action != nil {
		req.ReplyMarkup = &replyMarkup{
			InlineKeyboard: [][]inlineButton{{{Text: n.Action.Label, CallbackData: n.Action.Data}}},
		}
	}
	var out apiResponse
	if err := s.call(ctx, "sendMessage", req, &out); err != nil {
		return err
	}
	return nil
}

func (s *TelegramSender) call(ctx context.Context, method string, body any, out *apiResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	base := s.BaseURL
	if base == "" {
		base = defaultAPIBase
	}
	url := fmt.Sprintf("%s/bot%s/%s", base, s.Token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram %s: %s", method, out.Description)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// LogSender writes notifications to the log instead of a chat transport.
// Used when no bot token is configured, for local runs and tests.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, n engine.Notification) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"recipient_id", n.Recipient.ID, "text", n.Text}
	if n.Action != nil {
		attrs = append(attrs, "action", n.Action.Data)
	}
	log.Info("notification", attrs...)
	return nil
}
