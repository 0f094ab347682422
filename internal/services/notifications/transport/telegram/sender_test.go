package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/louisbranch/supplyflow/internal/services/notifications/domain"
)

func TestNewSenderRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewSender("  "); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("err = %v, want %v", err, ErrTokenRequired)
	}
}

func TestSendPostsInlineKeyboard(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer server.Close()

	sender, err := NewSender("123:abc", WithBaseURL(server.URL+"/"), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	err = sender.Send(context.Background(), "42", domain.Message{
		Text: "Offer ready",
		Actions: []domain.Action{
			{Label: "Approve", Command: "approve_offer", TargetID: "o1"},
			{Label: "Reject", Command: "reject_offer", TargetID: "o1"},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q, want sendMessage endpoint", path)
	}
	if got.ChatID != "42" || got.Text != "Offer ready" {
		t.Fatalf("request = %+v, want chat and text", got)
	}
	if got.ReplyMarkup == nil || len(got.ReplyMarkup.InlineKeyboard) != 2 {
		t.Fatalf("markup = %+v, want two rows", got.ReplyMarkup)
	}
	if button := got.ReplyMarkup.InlineKeyboard[1][0]; button.CallbackData != "reject_offer:o1" || button.Text != "Reject" {
		t.Fatalf("button = %+v, want reject button", button)
	}
}

func TestSendWithoutActionsOmitsMarkup(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	sender, err := NewSender("t", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), "42", domain.Message{Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := raw["reply_markup"]; ok {
		t.Fatalf("body = %v, want no reply_markup", raw)
	}
}

func TestSendClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{name: "blocked", status: http.StatusForbidden, body: `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, permanent: true},
		{name: "bad chat", status: http.StatusBadRequest, body: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, permanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"ok":false,"error_code":429,"description":"Too Many Requests"}`, permanent: false},
		{name: "gateway", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, permanent: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			sender, err := NewSender("t", WithBaseURL(server.URL))
			if err != nil {
				t.Fatalf("new sender: %v", err)
			}
			err = sender.Send(context.Background(), "42", domain.Message{Text: "hi"})
			if err == nil {
				t.Fatal("expected send error")
			}
			if got := domain.IsPermanent(err); got != tc.permanent {
				t.Fatalf("permanent = %v, want %v (%v)", got, tc.permanent, err)
			}
		})
	}
}

func TestSendRejectsOversizedCallbackData(t *testing.T) {
	t.Parallel()

	sender, err := NewSender("t", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	err = sender.Send(context.Background(), "42", domain.Message{
		Text:    "hi",
		Actions: []domain.Action{{Label: "x", Command: "approve_offer", TargetID: strings.Repeat("a", 80)}},
	})
	if !domain.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestSendTruncatesLongTextAndKeepsKeyboard(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	sender, err := NewSender("t", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	lines := make([]string, 0, 80)
	for i := 0; i < 80; i++ {
		lines = append(lines, strings.Repeat("Цемент М400 ", 6))
	}
	err = sender.Send(context.Background(), "42", domain.Message{
		Text:    strings.Join(lines, "\n"),
		Actions: []domain.Action{{Label: "Approve", Command: "approve_offer", TargetID: "o1"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := utf16Len(got.Text); n > maxMessageText {
		t.Fatalf("text length = %d, want at most %d", n, maxMessageText)
	}
	if !strings.HasSuffix(got.Text, truncationMark) {
		t.Fatalf("text ends %q, want truncation mark", got.Text[len(got.Text)-20:])
	}
	if got.ReplyMarkup == nil || len(got.ReplyMarkup.InlineKeyboard) != 1 {
		t.Fatalf("markup = %+v, want the approve button", got.ReplyMarkup)
	}
}

func TestTruncateTextCountsUTF16Units(t *testing.T) {
	t.Parallel()

	if got := truncateText("short", 10); got != "short" {
		t.Fatalf("truncateText = %q, want unchanged", got)
	}
	// Each emoji takes two UTF-16 units.
	got := truncateText(strings.Repeat("📦", 10), 10)
	if utf16Len(got) > 10 || !strings.HasSuffix(got, truncationMark) {
		t.Fatalf("truncateText = %q (%d units), want at most 10 with mark", got, utf16Len(got))
	}
}
