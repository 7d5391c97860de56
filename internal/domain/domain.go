package domain

import "fmt"

// Role is the closed set of roles a registered person can hold.
type Role string

const (
	RoleJudge     Role = "judge"
	RoleExpert    Role = "expert"
	RoleHeadJudge Role = "head_judge"
)

// ParseRole validates a raw role tag.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleJudge, RoleExpert, RoleHeadJudge:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CallKind selects which responder role a call targets.
type CallKind string

const (
	KindExpert    CallKind = "expert"
	KindHeadJudge CallKind = "head_judge"
)

// ParseCallKind validates a raw call kind tag.
func ParseCallKind(s string) (CallKind, error) {
	switch CallKind(s) {
	case KindExpert, KindHeadJudge:
		return CallKind(s), nil
	}
	return "", fmt.Errorf("unknown call kind %q", s)
}

// ResponderRole returns the role allowed to claim calls of this kind.
func (k CallKind) ResponderRole() Role {
	if k == KindHeadJudge {
		return RoleHeadJudge
	}
	return RoleExpert
}

type Person struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role" enum:"judge,expert,head_judge"`
	Discipline  string `json:"discipline,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Call struct {
	ID          int64    `json:"id"`
	Kind        CallKind `json:"kind" enum:"expert,head_judge"`
	RequesterID int64    `json:"requester_id"`
	ResponderID *int64   `json:"responder_id,omitempty"`
	Discipline  string   `json:"discipline,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	ResolvedAt  *string  `json:"resolved_at,omitempty" format:"date-time"`
}

// Open reports whether the call is still unanswered.
func (c Call) Open() bool { return c.ResponderID == nil }

// StatusReport is the role-dependent live view for one person.
type StatusReport struct {
	PersonID           int64 `json:"person_id"`
	Role               Role  `json:"role" enum:"judge,expert,head_judge"`
	OpenExpertCalls    int   `json:"open_expert_calls"`
	OpenHeadJudgeCalls int   `json:"open_head_judge_calls"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
