package app_test

import (
	"testing"

	"callboard/internal/app"
	"callboard/internal/config"
	"callboard/internal/notify"
)

func TestNotifierFollowsToken(t *testing.T) {
	cfg := config.Default("test-event")
	if _, ok := app.NewNotifier(cfg, nil).(notify.LogSender); !ok {
		t.Fatalf("no token configured must select the log sender")
	}

	cfg.Telegram.Token = "late-token"
	cfg.Telegram.APIBase = "http://127.0.0.1:9999"
	sender, ok := app.NewNotifier(cfg, nil).(*notify.TelegramSender)
	if !ok {
		t.Fatalf("configured token must select the Telegram sender")
	}
	if sender.Token != "late-token" || sender.BaseURL != "http://127.0.0.1:9999" {
		t.Fatalf("sender not built from config: %+v", sender)
	}
}
