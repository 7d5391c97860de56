package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"callboard/internal/config"
	"callboard/internal/domain"
	"callboard/internal/engine"
	"callboard/internal/repo"
)

// Sender is the outbound half of the chat transport.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Router dispatches incoming updates to engine operations.
type Router struct {
	Engine   engine.Engine
	Sender   Sender
	Config   *config.Config
	Log      *slog.Logger
	sessions *sessionStore
}

func NewRouter(eng engine.Engine, sender Sender, cfg *config.Config, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Router{
		Engine:   eng,
		Sender:   sender,
		Config:   cfg,
		Log:      log,
		sessions: newSessionStore(),
	}
}

// Run long-polls for updates until the context is cancelled. Handler
// errors are logged and never stop the loop.
func (r *Router) Run(ctx context.Context, client *Client) error {
	var offset int64
	for {
		updates, err := client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Log.Warn("poll failed", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			if err := r.HandleUpdate(ctx, u); err != nil {
				r.Log.Error("update handling failed", "update_id", u.UpdateID, "error", err)
			}
		}
	}
}

func (r *Router) HandleUpdate(ctx context.Context, u Update) error {
	switch {
	case u.CallbackQuery != nil:
		return r.handleCallback(ctx, *u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil:
		return r.handleMessage(ctx, *u.Message)
	}
	return nil
}

func (r *Router) handleMessage(ctx context.Context, m Message) error {
	chatID := m.Chat.ID
	switch strings.TrimSpace(m.Text) {
	case "/start":
		p, err := r.Engine.Repo.GetPerson(ctx, m.From.ID)
		if err == nil {
			return r.sendMenu(ctx, chatID, p)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		r.sessions.begin(chatID)
		return r.Sender.SendMessage(ctx, chatID, "Welcome! What is your name?", nil)
	case "/status":
		return r.sendStatus(ctx, chatID, m.From.ID)
	case "/cancel":
		return r.cancelCalls(ctx, chatID, m.From.ID)
	}

	if conv, ok := r.sessions.get(chatID); ok && conv.Step == stepName {
		name := strings.TrimSpace(m.Text)
		if name == "" {
			return r.Sender.SendMessage(ctx, chatID, "Please send your name as plain text.", nil)
		}
		conv.DisplayName = name
		conv.Step = stepRole
		return r.Sender.SendMessage(ctx, chatID, "What is your role?", roleKeyboard())
	}
	return r.Sender.SendMessage(ctx, chatID, "Send /start to begin.", nil)
}

func (r *Router) handleCallback(ctx context.Context, q CallbackQuery) error {
	chatID := q.From.ID
	data := q.Data
	ack := func(text string) {
		if err := r.Sender.AnswerCallback(ctx, q.ID, text); err != nil {
			r.Log.Warn("answer callback failed", "error", err)
		}
	}

	switch {
	case strings.HasPrefix(data, "role:"):
		return r.pickRole(ctx, chatID, strings.TrimPrefix(data, "role:"), ack)
	case strings.HasPrefix(data, "disc:"):
		return r.pickDiscipline(ctx, chatID, strings.TrimPrefix(data, "disc:"), ack)
	case data == "call:expert":
		return r.createCall(ctx, chatID, domain.KindExpert, ack)
	case data == "call:head_judge":
		return r.createCall(ctx, chatID, domain.KindHeadJudge, ack)
	case strings.HasPrefix(data, "respond:"):
		return r.respond(ctx, chatID, strings.TrimPrefix(data, "respond:"), ack)
	case data == "cancel:calls":
		ack("")
		return r.cancelCalls(ctx, chatID, chatID)
	case data == "refresh":
		ack("")
		return r.sendStatus(ctx, chatID, chatID)
	}
	ack("")
	r.Log.Warn("unknown callback", "data", data)
	return nil
}

func (r *Router) pickRole(ctx context.Context, chatID int64, raw string, ack func(string)) error {
	conv, ok := r.sessions.get(chatID)
	if !ok || conv.Step != stepRole {
		ack("")
		return r.Sender.SendMessage(ctx, chatID, "Send /start to begin.", nil)
	}
	role, err := domain.ParseRole(raw)
	if err != nil {
		ack("")
		return err
	}
	conv.Role = role
	ack("")
	// only judges carry a discipline; responders are reached by role
	if role != domain.RoleJudge {
		return r.finishRegistration(ctx, chatID, conv, "")
	}
	conv.Step = stepDiscipline
	return r.Sender.SendMessage(ctx, chatID, "Pick your discipline:", r.disciplineKeyboard())
}

func (r *Router) pickDiscipline(ctx context.Context, chatID int64, discipline string, ack func(string)) error {
	conv, ok := r.sessions.get(chatID)
	if !ok || conv.Step != stepDiscipline {
		ack("")
		return r.Sender.SendMessage(ctx, chatID, "Send /start to begin.", nil)
	}
	if !r.Config.HasDiscipline(discipline) {
		ack("Unknown discipline")
		return nil
	}
	ack("")
	return r.finishRegistration(ctx, chatID, conv, discipline)
}

func (r *Router) finishRegistration(ctx context.Context, chatID int64, conv *conversation, discipline string) error {
	p, created, err := r.Engine.Register(ctx, engine.RegisterOptions{
		ID:          chatID,
		DisplayName: conv.DisplayName,
		Role:        conv.Role,
		Discipline:  discipline,
	})
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateIdentity) {
			r.sessions.end(chatID)
			return r.Sender.SendMessage(ctx, chatID, "You are already registered under a different role.", nil)
		}
		return err
	}
	r.sessions.end(chatID)
	text := fmt.Sprintf("You are registered, %s.", p.DisplayName)
	if !created {
		text = fmt.Sprintf("Welcome back, %s.", p.DisplayName)
	}
	if err := r.Sender.SendMessage(ctx, chatID, text, nil); err != nil {
		return err
	}
	return r.sendMenu(ctx, chatID, p)
}

func (r *Router) createCall(ctx context.Context, chatID int64, kind domain.CallKind, ack func(string)) error {
	_, err := r.Engine.CreateCall(ctx, engine.CreateCallOptions{RequesterID: chatID, Kind: kind})
	switch {
	case err == nil:
		ack("")
		if kind == domain.KindHeadJudge {
			return r.Sender.SendMessage(ctx, chatID, "The head judge has been called.", nil)
		}
		return r.Sender.SendMessage(ctx, chatID, "Experts have been notified.", nil)
	case errors.Is(err, engine.ErrUnauthorized):
		ack("Only judges can raise calls")
		return nil
	case errors.Is(err, repo.ErrNotFound):
		ack("")
		return r.Sender.SendMessage(ctx, chatID, "Send /start to register first.", nil)
	}
	ack("Something went wrong")
	return err
}

func (r *Router) respond(ctx context.Context, chatID int64, rest string, ack func(string)) error {
	kindRaw, idRaw, found := strings.Cut(rest, ":")
	if !found {
		ack("")
		return fmt.Errorf("malformed respond callback %q", rest)
	}
	kind, err := domain.ParseCallKind(kindRaw)
	if err != nil {
		ack("")
		return err
	}
	callID, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		ack("")
		return fmt.Errorf("malformed call id %q", idRaw)
	}
	c, err := r.Engine.Respond(ctx, callID, kind, chatID)
	switch {
	case err == nil:
		ack("The call is yours")
		requester, rerr := r.Engine.Repo.GetPerson(ctx, c.RequesterID)
		if rerr != nil {
			return rerr
		}
		return r.Sender.SendMessage(ctx, chatID,
			fmt.Sprintf("You took the call from judge %s.", requester.DisplayName), nil)
	case errors.Is(err, engine.ErrAlreadyAssigned):
		ack("Too late, someone already took it")
		return nil
	case errors.Is(err, engine.ErrRoleMismatch):
		ack("This call is not for your role")
		return nil
	case errors.Is(err, repo.ErrNotFound):
		ack("This call is gone")
		return nil
	}
	ack("Something went wrong")
	return err
}

func (r *Router) cancelCalls(ctx context.Context, chatID, personID int64) error {
	n, err := r.Engine.CancelOpenCalls(ctx, personID, nil)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return r.Sender.SendMessage(ctx, chatID, "Send /start to register first.", nil)
		}
		return err
	}
	if n == 0 {
		return r.Sender.SendMessage(ctx, chatID, "You have no open calls.", nil)
	}
	return r.Sender.SendMessage(ctx, chatID, fmt.Sprintf("Withdrew %d open call(s).", n), nil)
}

func (r *Router) sendStatus(ctx context.Context, chatID, personID int64) error {
	report, err := r.Engine.Status(ctx, personID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return r.Sender.SendMessage(ctx, chatID, "Send /start to register first.", nil)
		}
		return err
	}
	return r.Sender.SendMessage(ctx, chatID, statusText(report), nil)
}

func statusText(report domain.StatusReport) string {
	switch report.Role {
	case domain.RoleJudge:
		return fmt.Sprintf("Your open calls: %d expert, %d head judge.",
			report.OpenExpertCalls, report.OpenHeadJudgeCalls)
	case domain.RoleHeadJudge:
		return fmt.Sprintf("Open head judge calls waiting: %d.", report.OpenHeadJudgeCalls)
	default:
		return "You are on call. You will be notified when a judge needs you."
	}
}

func (r *Router) sendMenu(ctx context.Context, chatID int64, p domain.Person) error {
	if p.Role == domain.RoleJudge {
		return r.Sender.SendMessage(ctx, chatID, "What do you need?", [][]Button{
			{{Text: "Call an expert", CallbackData: "call:expert"}},
			{{Text: "Call the head judge", CallbackData: "call:head_judge"}},
			{{Text: "Cancel my calls", CallbackData: "cancel:calls"}},
			{{Text: "Status", CallbackData: "refresh"}},
		})
	}
	return r.Sender.SendMessage(ctx, chatID, "You will be notified when a judge calls.", [][]Button{
		{{Text: "Status", CallbackData: "refresh"}},
	})
}

func roleKeyboard() [][]Button {
	return [][]Button{
		{{Text: "Judge", CallbackData: "role:judge"}},
		{{Text: "Expert", CallbackData: "role:expert"}},
		{{Text: "Head judge", CallbackData: "role:head_judge"}},
	}
}

func (r *Router) disciplineKeyboard() [][]Button {
	var rows [][]Button
	var row []Button
	for _, d := range r.Config.Disciplines {
		row = append(row, Button{Text: d, CallbackData: "disc:" + d})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}
