// Package telegram delivers notification messages through the Telegram Bot
// API. Message actions become inline keyboard buttons whose callback data
// is "<command>:<target id>".
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf16"

	"github.com/louisbranch/supplyflow/internal/platform/timeouts"
	"github.com/louisbranch/supplyflow/internal/services/notifications/domain"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

const (
	// maxCallbackData is the Bot API limit for inline button callback data.
	maxCallbackData = 64
	// maxMessageText is the Bot API limit for sendMessage text, counted in
	// UTF-16 code units.
	maxMessageText = 4096
	truncationMark = "\n…"
)

// ErrTokenRequired indicates the bot token is missing.
var ErrTokenRequired = errors.New("telegram bot token is required")

// Sender implements domain.Transport with sendMessage.
type Sender struct {
	token   string
	baseURL string
	client  *http.Client
}

var _ domain.Transport = (*Sender)(nil)

// Option customizes a Sender.
type Option func(*Sender)

// WithBaseURL points the sender at another Bot API host, such as a local
// Bot API server or a test server.
func WithBaseURL(baseURL string) Option {
	return func(s *Sender) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			s.baseURL = trimmed
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// NewSender builds a Sender for token.
func NewSender(token string, opts ...Option) (*Sender, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenRequired
	}
	s := &Sender{
		token:   token,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: timeouts.HTTPClient},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts one message to the chat identified by recipient. Rejections
// that cannot succeed on retry, such as a blocked bot or an unknown chat,
// are marked permanent.
func (s *Sender) Send(ctx context.Context, recipient string, message domain.Message) error {
	if s == nil {
		return domain.Permanent(ErrTokenRequired)
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return domain.Permanent(errors.New("telegram chat id is required"))
	}
	payload, err := buildRequest(recipient, message)
	if err != nil {
		return domain.Permanent(err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Permanent(fmt.Errorf("encode sendMessage: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/bot"+s.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read sendMessage response: %w", err)
	}
	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return fmt.Errorf("decode sendMessage response: %w", err)
		}
		result.ErrorCode = resp.StatusCode
		result.Description = resp.Status
	}
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices && result.OK {
		return nil
	}

	code := result.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	apiErr := fmt.Errorf("telegram sendMessage %d: %s", code, strings.TrimSpace(result.Description))
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return domain.Permanent(apiErr)
	default:
		return apiErr
	}
}

func buildRequest(recipient string, message domain.Message) (sendMessageRequest, error) {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return sendMessageRequest{}, errors.New("message text is required")
	}
	req := sendMessageRequest{ChatID: recipient, Text: truncateText(text, maxMessageText)}
	if len(message.Actions) == 0 {
		return req, nil
	}
	rows := make([][]inlineButton, 0, len(message.Actions))
	for _, action := range message.Actions {
		data := action.CallbackData()
		if len(data) > maxCallbackData {
			return sendMessageRequest{}, fmt.Errorf("callback data %q exceeds %d bytes", data, maxCallbackData)
		}
		rows = append(rows, []inlineButton{{Text: action.Label, CallbackData: data}})
	}
	req.ReplyMarkup = &replyMarkup{InlineKeyboard: rows}
	return req, nil
}

// truncateText cuts text to at most limit UTF-16 code units on a rune
// boundary, ending it with truncationMark when anything was dropped.
func truncateText(text string, limit int) string {
	if utf16Len(text) <= limit {
		return text
	}
	budget := limit - utf16Len(truncationMark)
	used := 0
	for i, r := range text {
		width := utf16.RuneLen(r)
		if width < 0 {
			width = 1
		}
		if used+width > budget {
			return strings.TrimRight(text[:i], " \n") + truncationMark
		}
		used += width
	}
	return text
}

func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		width := utf16.RuneLen(r)
		if width < 0 {
			width = 1
		}
		n += width
	}
	return n
}
