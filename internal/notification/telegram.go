package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	telegramAPI       = "https://api.telegram.org"
	captionLimitRunes = 1024
)

// TelegramNotifier sends messages via the Telegram Bot API. Messages with a
// chart go out as a photo with the text as caption.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	var err error
	if len(msg.Chart) > 0 {
		err = t.sendPhoto(ctx, t.render(msg, captionLimitRunes), msg.Chart)
	} else {
		err = t.sendMessage(ctx, t.render(msg, 0))
	}
	if err != nil {
		return &DeliveryError{Channel: t.Name(), Title: msg.Title, Err: err}
	}
	slog.Info("telegram message sent", "title", msg.Title, "photo", len(msg.Chart) > 0)
	return nil
}

// render formats msg as MarkdownV2. With limit > 0 the body is cut, one
// plain rune at a time, so the result fits in limit runes and never ends
// inside an escape sequence.
func (t *TelegramNotifier) render(msg Message, limit int) string {
	emoji := "📈"
	switch msg.Level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelCritical:
		emoji = "🚨"
	}
	head := fmt.Sprintf("%s *%s*\n\n", emoji, escapeMarkdown(msg.Title))
	body := escapeMarkdown(msg.Body)
	if limit <= 0 || utf8.RuneCountInString(head)+utf8.RuneCountInString(body) <= limit {
		return head + body
	}

	budget := limit - utf8.RuneCountInString(head) - 1 // room for the ellipsis
	var b strings.Builder
	for _, r := range msg.Body {
		esc := escapeMarkdown(string(r))
		n := utf8.RuneCountInString(esc)
		if n > budget {
			break
		}
		b.WriteString(esc)
		budget -= n
	}
	return head + b.String() + "…"
}

func (t *TelegramNotifier) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *TelegramNotifier) sendPhoto(ctx context.Context, caption string, png []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("chat_id", t.chatID)
	mw.WriteField("caption", caption)
	mw.WriteField("parse_mode", "MarkdownV2")
	part, err := mw.CreateFormFile("photo", "chart.png")
	if err != nil {
		return fmt.Errorf("telegram: multipart: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return fmt.Errorf("telegram: multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("telegram: multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendPhoto"), &buf)
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return t.do(req)
}

func (t *TelegramNotifier) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
