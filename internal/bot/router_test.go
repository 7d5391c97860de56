package bot_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"callboard/internal/bot"
	"callboard/internal/config"
	"callboard/internal/db"
	"callboard/internal/domain"
	"callboard/internal/engine"
	"callboard/internal/migrate"
)

type fakeSender struct {
	messages []sentMessage
	acks     []string
}

type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard [][]bot.Button
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]bot.Button) error {
	f.messages = append(f.messages, sentMessage{ChatID: chatID, Text: text, Keyboard: keyboard})
	return nil
}

func (f *fakeSender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.acks = append(f.acks, text)
	return nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	if len(f.messages) == 0 {
		t.Fatalf("no messages sent")
	}
	return f.messages[len(f.messages)-1]
}

type routerEnv struct {
	Router *bot.Router
	Sender *fakeSender
	Engine engine.Engine
	Ctx    context.Context
}

func newRouterEnv(t *testing.T) routerEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, nil, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	sender := &fakeSender{}
	router := bot.NewRouter(eng, sender, config.Default("test-event"), nil)
	return routerEnv{Router: router, Sender: sender, Engine: eng, Ctx: context.Background()}
}

func message(chatID int64, text string) bot.Update {
	return bot.Update{Message: &bot.Message{
		From: &bot.User{ID: chatID},
		Chat: bot.Chat{ID: chatID},
		Text: text,
	}}
}

func callback(chatID int64, data string) bot.Update {
	return bot.Update{CallbackQuery: &bot.CallbackQuery{
		ID:   "cb-1",
		From: bot.User{ID: chatID},
		Data: data,
	}}
}

func (env routerEnv) registerJudge(t *testing.T, chatID int64, name string) {
	t.Helper()
	steps := []bot.Update{
		message(chatID, "/start"),
		message(chatID, name),
		callback(chatID, "role:judge"),
		callback(chatID, "disc:welding"),
	}
	for _, u := range steps {
		if err := env.Router.HandleUpdate(env.Ctx, u); err != nil {
			t.Fatalf("registration step failed: %v", err)
		}
	}
}

func TestRegistrationConversation(t *testing.T) {
	env := newRouterEnv(t)

	if err := env.Router.HandleUpdate(env.Ctx, message(10, "/start")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := env.Sender.last(t).Text; !strings.Contains(got, "name") {
		t.Fatalf("expected name prompt, got %q", got)
	}
	if err := env.Router.HandleUpdate(env.Ctx, message(10, "Anna")); err != nil {
		t.Fatalf("name: %v", err)
	}
	if got := env.Sender.last(t); len(got.Keyboard) != 3 {
		t.Fatalf("expected role keyboard, got %+v", got)
	}
	if err := env.Router.HandleUpdate(env.Ctx, callback(10, "role:judge")); err != nil {
		t.Fatalf("role: %v", err)
	}
	if got := env.Sender.last(t); len(got.Keyboard) == 0 {
		t.Fatalf("expected discipline keyboard, got %+v", got)
	}
	if err := env.Router.HandleUpdate(env.Ctx, callback(10, "disc:welding")); err != nil {
		t.Fatalf("discipline: %v", err)
	}

	p, err := env.Engine.Repo.GetPerson(env.Ctx, 10)
	if err != nil {
		t.Fatalf("person not registered: %v", err)
	}
	if p.DisplayName != "Anna" || p.Role != domain.RoleJudge || p.Discipline != "welding" {
		t.Fatalf("wrong record: %+v", p)
	}
}

func TestExpertSkipsDiscipline(t *testing.T) {
	env := newRouterEnv(t)
	steps := []bot.Update{
		message(11, "/start"),
		message(11, "Boris"),
		callback(11, "role:expert"),
	}
	for _, u := range steps {
		if err := env.Router.HandleUpdate(env.Ctx, u); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}
	p, err := env.Engine.Repo.GetPerson(env.Ctx, 11)
	if err != nil {
		t.Fatalf("expert not registered: %v", err)
	}
	if p.Role != domain.RoleExpert || p.Discipline != "" {
		t.Fatalf("wrong record: %+v", p)
	}
}

func TestHeadJudgeSkipsDiscipline(t *testing.T) {
	env := newRouterEnv(t)
	steps := []bot.Update{
		message(20, "/start"),
		message(20, "Dmitri"),
		callback(20, "role:head_judge"),
	}
	for _, u := range steps {
		if err := env.Router.HandleUpdate(env.Ctx, u); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}
	p, err := env.Engine.Repo.GetPerson(env.Ctx, 20)
	if err != nil {
		t.Fatalf("head judge not registered: %v", err)
	}
	if p.Role != domain.RoleHeadJudge || p.Discipline != "" {
		t.Fatalf("wrong record: %+v", p)
	}
}

func TestStartShowsMenuWhenRegistered(t *testing.T) {
	env := newRouterEnv(t)
	env.registerJudge(t, 30, "Anna")

	if err := env.Router.HandleUpdate(env.Ctx, message(30, "/start")); err != nil {
		t.Fatalf("start: %v", err)
	}
	menu := env.Sender.last(t)
	if len(menu.Keyboard) != 4 {
		t.Fatalf("expected full judge menu, got %+v", menu)
	}
}

func TestCallButtonsCreateCalls(t *testing.T) {
	env := newRouterEnv(t)
	env.registerJudge(t, 40, "Anna")

	if err := env.Router.HandleUpdate(env.Ctx, callback(40, "call:expert")); err != nil {
		t.Fatalf("call expert: %v", err)
	}
	if err := env.Router.HandleUpdate(env.Ctx, callback(40, "call:head_judge")); err != nil {
		t.Fatalf("call head judge: %v", err)
	}

	report, err := env.Engine.Status(env.Ctx, 40)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.OpenExpertCalls != 1 || report.OpenHeadJudgeCalls != 1 {
		t.Fatalf("calls not recorded: %+v", report)
	}
}

func TestRespondCallbackClaimsCall(t *testing.T) {
	env := newRouterEnv(t)
	env.registerJudge(t, 50, "Anna")
	// register an expert through the conversation
	for _, u := range []bot.Update{
		message(51, "/start"), message(51, "Boris"),
		callback(51, "role:expert"),
	} {
		if err := env.Router.HandleUpdate(env.Ctx, u); err != nil {
			t.Fatalf("expert registration: %v", err)
		}
	}
	call, err := env.Engine.CreateCall(env.Ctx, engine.CreateCallOptions{RequesterID: 50, Kind: domain.KindExpert})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}

	data := fmt.Sprintf("respond:expert:%d", call.ID)
	if err := env.Router.HandleUpdate(env.Ctx, callback(51, data)); err != nil {
		t.Fatalf("respond: %v", err)
	}
	got, err := env.Engine.Repo.GetCall(env.Ctx, call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if got.ResponderID == nil || *got.ResponderID != 51 {
		t.Fatalf("call not claimed: %+v", got)
	}

	// a second expert pressing the stale button gets a polite ack, no error
	for _, u := range []bot.Update{
		message(52, "/start"), message(52, "Clara"),
		callback(52, "role:expert"),
	} {
		if err := env.Router.HandleUpdate(env.Ctx, u); err != nil {
			t.Fatalf("second expert registration: %v", err)
		}
	}
	if err := env.Router.HandleUpdate(env.Ctx, callback(52, data)); err != nil {
		t.Fatalf("stale respond should not error: %v", err)
	}
	still, _ := env.Engine.Repo.GetCall(env.Ctx, call.ID)
	if *still.ResponderID != 51 {
		t.Fatalf("first responder lost the call: %+v", still)
	}
}

func TestCancelCommand(t *testing.T) {
	env := newRouterEnv(t)
	env.registerJudge(t, 60, "Anna")
	if _, err := env.Engine.CreateCall(env.Ctx, engine.CreateCallOptions{RequesterID: 60, Kind: domain.KindExpert}); err != nil {
		t.Fatalf("create call: %v", err)
	}

	if err := env.Router.HandleUpdate(env.Ctx, message(60, "/cancel")); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := env.Sender.last(t).Text; !strings.Contains(got, "1") {
		t.Fatalf("expected withdrawal count, got %q", got)
	}
	report, _ := env.Engine.Status(env.Ctx, 60)
	if report.OpenExpertCalls != 0 {
		t.Fatalf("call not withdrawn: %+v", report)
	}
}

func TestUnregisteredUserIsPointedAtStart(t *testing.T) {
	env := newRouterEnv(t)
	if err := env.Router.HandleUpdate(env.Ctx, message(70, "/status")); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := env.Sender.last(t).Text; !strings.Contains(got, "/start") {
		t.Fatalf("expected /start hint, got %q", got)
	}
}
