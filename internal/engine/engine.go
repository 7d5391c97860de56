package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"callboard/internal/domain"
	"callboard/internal/events"
	"callboard/internal/metrics"
	"callboard/internal/repo"
)

var (
	// ErrUnauthorized means the actor's role does not permit the operation.
	ErrUnauthorized = errors.New("role not permitted for this operation")
	// ErrRoleMismatch means the responder's role does not match the call kind.
	ErrRoleMismatch = errors.New("responder role does not match call kind")
	// ErrAlreadyAssigned means another responder claimed the call first.
	ErrAlreadyAssigned = errors.New("call already assigned")
	// ErrDuplicateIdentity means the id is registered under a different role.
	ErrDuplicateIdentity = errors.New("identity already registered with a different role")
)

// Action is an inline choice attached to a notification. Data round-trips
// through the chat transport and comes back verbatim on the callback.
type Action struct {
	Label string
	Data  string
}

// Notification is one outbound message to a single recipient.
type Notification struct {
	Recipient domain.Person
	Text      string
	Action    *Action
}

// Notifier delivers notifications. Delivery is best effort: a failed send
// never rolls back the ledger write it announces.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Notifier Notifier
	Log      *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, notifier Notifier, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Notifier: notifier,
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RegisterOptions are parameters for registering a person.
type RegisterOptions struct {
	ID          int64
	DisplayName string
	Role        domain.Role
	Discipline  string
}

// Register adds a person to the directory. Registering an id that already
// exists under the same role is a no-op returning the stored record and
// created=false; the same id under a different role is rejected.
func (e Engine) Register(ctx context.Context, opts RegisterOptions) (domain.Person, bool, error) {
	if opts.DisplayName == "" {
		return domain.Person{}, false, errors.New("display name is required")
	}
	if _, err := domain.ParseRole(string(opts.Role)); err != nil {
		return domain.Person{}, false, err
	}
	// discipline belongs to judges; responders are reached by role alone
	if opts.Role != domain.RoleJudge {
		opts.Discipline = ""
	}
	existing, err := e.Repo.GetPerson(ctx, opts.ID)
	if err == nil {
		if existing.Role != opts.Role {
			return domain.Person{}, false, ErrDuplicateIdentity
		}
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Person{}, false, err
	}

	p := domain.Person{
		ID:          opts.ID,
		DisplayName: opts.DisplayName,
		Role:        opts.Role,
		Discipline:  opts.Discipline,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Person{}, false, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPerson(ctx, tx, p); err != nil {
		// two /start flows racing on the same id: the loser finds the
		// winner's row and answers like any re-registration
		if isUniqueViolation(err) {
			tx.Rollback()
			existing, gerr := e.Repo.GetPerson(ctx, opts.ID)
			if gerr == nil {
				if existing.Role != opts.Role {
					return domain.Person{}, false, ErrDuplicateIdentity
				}
				return existing, false, nil
			}
		}
		return domain.Person{}, false, fmt.Errorf("insert person: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "person.registered", "person", actorID(p.ID), actorID(p.ID), events.EventPayload{
		"role":       p.Role,
		"discipline": p.Discipline,
	}); err != nil {
		return domain.Person{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Person{}, false, err
	}
	return p, true, nil
}

// CreateCallOptions are parameters for raising a call.
type CreateCallOptions struct {
	RequesterID int64
	Kind        domain.CallKind
	Discipline  string
}

// CreateCall records a new open call for a judge and fans out notifications
// to every responder whose role matches the kind. The ledger write commits
// before any delivery is attempted.
func (e Engine) CreateCall(ctx context.Context, opts CreateCallOptions) (domain.Call, error) {
	if _, err := domain.ParseCallKind(string(opts.Kind)); err != nil {
		return domain.Call{}, err
	}
	requester, err := e.Repo.GetPerson(ctx, opts.RequesterID)
	if err != nil {
		return domain.Call{}, err
	}
	if requester.Role != domain.RoleJudge {
		return domain.Call{}, ErrUnauthorized
	}
	discipline := opts.Discipline
	if opts.Kind == domain.KindExpert {
		if discipline == "" {
			discipline = requester.Discipline
		}
		if discipline == "" {
			return domain.Call{}, errors.New("discipline is required for expert calls")
		}
	} else {
		discipline = ""
	}

	now := e.now().UTC().Format(time.RFC3339)
	fanoutID := uuid.New().String()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Call{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertCall(ctx, tx, opts.Kind, requester.ID, discipline, now)
	if err != nil {
		return domain.Call{}, fmt.Errorf("insert call: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "call.created", "call", strconv.FormatInt(id, 10), actorID(requester.ID), events.EventPayload{
		"kind":       opts.Kind,
		"discipline": discipline,
		"fanout_id":  fanoutID,
	}); err != nil {
		return domain.Call{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Call{}, err
	}
	metrics.RecordCallCreated(string(opts.Kind))

	c := domain.Call{
		ID:          id,
		Kind:        opts.Kind,
		RequesterID: requester.ID,
		Discipline:  discipline,
		CreatedAt:   now,
	}
	e.fanOut(ctx, c, requester, fanoutID)
	return c, nil
}

func (e Engine) fanOut(ctx context.Context, c domain.Call, requester domain.Person, fanoutID string) {
	if e.Notifier == nil {
		return
	}
	recipients, err := e.Repo.ListPeopleByRole(ctx, c.Kind.ResponderRole())
	if err != nil {
		e.Log.Error("fan-out recipient lookup failed", "call_id", c.ID, "fanout_id", fanoutID, "error", err)
		return
	}
	text := callAnnouncement(c, requester)
	action := &Action{
		Label: "Respond",
		Data:  fmt.Sprintf("respond:%s:%d", c.Kind, c.ID),
	}
	for _, rcpt := range recipients {
		if err := e.Notifier.Send(ctx, Notification{Recipient: rcpt, Text: text, Action: action}); err != nil {
			metrics.RecordNotifyFailure()
			e.Log.Warn("notification delivery failed",
				"call_id", c.ID, "fanout_id", fanoutID, "recipient_id", rcpt.ID, "error", err)
		}
	}
}

func callAnnouncement(c domain.Call, requester domain.Person) string {
	if c.Kind == domain.KindHeadJudge {
		return fmt.Sprintf("Judge %s is calling the head judge.", requester.DisplayName)
	}
	return fmt.Sprintf("Judge %s needs an expert in %s.", requester.DisplayName, c.Discipline)
}

// Respond claims an open call for a responder. Of any number of concurrent
// responders exactly one succeeds; the rest get ErrAlreadyAssigned.
func (e Engine) Respond(ctx context.Context, callID int64, kind domain.CallKind, responderID int64) (domain.Call, error) {
	if _, err := domain.ParseCallKind(string(kind)); err != nil {
		return domain.Call{}, err
	}
	responder, err := e.Repo.GetPerson(ctx, responderID)
	if err != nil {
		return domain.Call{}, err
	}
	if responder.Role != kind.ResponderRole() {
		return domain.Call{}, ErrRoleMismatch
	}

	resolvedAt := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Call{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.AssignCall(ctx, tx, callID, kind, responder.ID, resolvedAt)
	if err != nil {
		return domain.Call{}, err
	}
	if !ok {
		metrics.RecordAssignConflict()
		return domain.Call{}, ErrAlreadyAssigned
	}
	if err := e.Events.Append(ctx, tx, "call.assigned", "call", strconv.FormatInt(callID, 10), actorID(responder.ID), events.EventPayload{
		"kind": kind,
	}); err != nil {
		return domain.Call{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Call{}, err
	}
	metrics.RecordCallAssigned(string(kind))

	c, err := e.Repo.GetCall(ctx, callID)
	if err != nil {
		return domain.Call{}, err
	}
	e.notifyAssignment(ctx, c, responder)
	return c, nil
}

func (e Engine) notifyAssignment(ctx context.Context, c domain.Call, responder domain.Person) {
	if e.Notifier == nil {
		return
	}
	requester, err := e.Repo.GetPerson(ctx, c.RequesterID)
	if err != nil {
		e.Log.Error("requester lookup failed", "call_id", c.ID, "error", err)
		return
	}
	var text string
	if c.Kind == domain.KindHeadJudge {
		text = fmt.Sprintf("Head judge %s is on the way.", responder.DisplayName)
	} else {
		text = fmt.Sprintf("Expert %s is on the way.", responder.DisplayName)
	}
	if err := e.Notifier.Send(ctx, Notification{Recipient: requester, Text: text}); err != nil {
		metrics.RecordNotifyFailure()
		e.Log.Warn("notification delivery failed", "call_id", c.ID, "recipient_id", requester.ID, "error", err)
	}
}

// CancelOpenCalls withdraws a requester's unanswered calls, optionally
// scoped to one kind, and returns how many were removed. Already resolved
// calls stay in the ledger.
func (e Engine) CancelOpenCalls(ctx context.Context, requesterID int64, kind *domain.CallKind) (int, error) {
	requester, err := e.Repo.GetPerson(ctx, requesterID)
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	ids, err := e.Repo.DeleteOpenCallsByRequester(ctx, tx, requester.ID, kind)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		if err := e.Events.Append(ctx, tx, "call.cancelled", "call", "", actorID(requester.ID), events.EventPayload{
			"call_ids": ids,
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	metrics.RecordCallsCancelled(len(ids))
	return len(ids), nil
}

// Status returns the live view for one person. Judges see their own open
// calls per kind, head judges see the open workload addressed to them, and
// experts are passive responders with no counters.
func (e Engine) Status(ctx context.Context, personID int64) (domain.StatusReport, error) {
	p, err := e.Repo.GetPerson(ctx, personID)
	if err != nil {
		return domain.StatusReport{}, err
	}
	report := domain.StatusReport{PersonID: p.ID, Role: p.Role}
	switch p.Role {
	case domain.RoleJudge:
		expert := domain.KindExpert
		headJudge := domain.KindHeadJudge
		if report.OpenExpertCalls, err = e.Repo.CountOpenCalls(ctx, repo.CallFilters{Kind: &expert, RequesterID: &p.ID}); err != nil {
			return domain.StatusReport{}, err
		}
		if report.OpenHeadJudgeCalls, err = e.Repo.CountOpenCalls(ctx, repo.CallFilters{Kind: &headJudge, RequesterID: &p.ID}); err != nil {
			return domain.StatusReport{}, err
		}
	case domain.RoleHeadJudge:
		headJudge := domain.KindHeadJudge
		if report.OpenHeadJudgeCalls, err = e.Repo.CountOpenCalls(ctx, repo.CallFilters{Kind: &headJudge}); err != nil {
			return domain.StatusReport{}, err
		}
	}
	return report, nil
}

func actorID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
