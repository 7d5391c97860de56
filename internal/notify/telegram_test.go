package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"callboard/internal/domain"
	"callboard/internal/engine"
	"callboard/internal/notify"
)

func TestTelegramSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := notify.NewTelegram("test-token")
	s.BaseURL = srv.URL
	err := s.Send(context.Background(), engine.Notification{
		Recipient: domain.Person{ID: 42},
		Text:      "Judge Anna needs an expert in welding.",
		Action:    &engine.Action{Label: "Respond", Data: "respond:expert:7"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["chat_id"].(float64) != 42 {
		t.Fatalf("chat_id not set: %v", gotBody)
	}
	markup, ok := gotBody["reply_markup"].(map[string]any)
	if !ok {
		t.Fatalf("reply_markup missing: %v", gotBody)
	}
	rows := markup["inline_keyboard"].([]any)
	button := rows[0].([]any)[0].(map[string]any)
	if button["callback_data"] != "respond:expert:7" {
		t.Fatalf("callback data not round-tripped: %v", button)
	}
}

func TestTelegramSendWithoutAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["reply_markup"]; ok {
			t.Errorf("plain message should carry no keyboard: %v", body)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := notify.NewTelegram("test-token")
	s.BaseURL = srv.URL
	if err := s.Send(context.Background(), engine.Notification{Recipient: domain.Person{ID: 42}, Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestTelegramSendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"bot was blocked by the user"}`))
	}))
	defer srv.Close()

	s := notify.NewTelegram("test-token")
	s.BaseURL = srv.URL
	err := s.Send(context.Background(), engine.Notification{Recipient: domain.Person{ID: 42}, Text: "hi"})
	if err == nil {
		t.Fatalf("expected error on non-2xx status")
	}
}

func TestTelegramSendNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	s := notify.NewTelegram("test-token")
	s.BaseURL = srv.URL
	err := s.Send(context.Background(), engine.Notification{Recipient: domain.Person{ID: 42}, Text: "hi"})
	if err == nil {
		t.Fatalf("expected error when ok=false")
	}
}
