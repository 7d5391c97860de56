// Package app wires the storage, config and engine layers together for
// the CLI entry points.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"callboard/internal/config"
	"callboard/internal/db"
	"callboard/internal/engine"
	"callboard/internal/migrate"
	"callboard/internal/notify"
)

// App is the assembled service: open database, loaded config and a ready
// engine.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Log    *slog.Logger
}

// Bootstrap opens the workspace database, runs migrations, loads the
// optional callboard.yml and builds the engine. With no Telegram token
// configured, notifications go to the log.
func Bootstrap(workspace string, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("local")
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, NewNotifier(cfg, log), log)
	return &App{DB: conn, Config: cfg, Engine: eng, Log: log}, nil
}

// NewNotifier picks the delivery transport for the configured token. Callers
// that resolve the token from elsewhere (flags, environment) must set it on
// the config and rebuild the engine's notifier with this.
func NewNotifier(cfg *config.Config, log *slog.Logger) engine.Notifier {
	if cfg.Telegram.Token == "" {
		return notify.LogSender{Log: log}
	}
	sender := notify.NewTelegram(cfg.Telegram.Token)
	if cfg.Telegram.APIBase != "" {
		sender.BaseURL = cfg.Telegram.APIBase
	}
	return sender
}

func (a *App) Close() error {
	return a.DB.Close()
}
