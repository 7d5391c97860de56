package server

import (
	"encoding/json"

	"callboard/internal/domain"
)

// Request payloads

type RegisterPersonRequest struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" enum:"judge,expert,head_judge"`
	Discipline  string `json:"discipline,omitempty"`
}

type CreateCallRequest struct {
	RequesterID int64  `json:"requester_id"`
	Kind        string `json:"kind" enum:"expert,head_judge"`
	Discipline  string `json:"discipline,omitempty"`
}

type RespondRequest struct {
	ResponderID int64  `json:"responder_id"`
	Kind        string `json:"kind" enum:"expert,head_judge"`
}

// Response payloads

type PersonResponse struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" enum:"judge,expert,head_judge"`
	Discipline  string `json:"discipline,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type RegisterPersonResponse struct {
	Person  PersonResponse `json:"person"`
	Created bool           `json:"created"`
}

type CallResponse struct {
	ID          int64   `json:"id"`
	Kind        string  `json:"kind" enum:"expert,head_judge"`
	RequesterID int64   `json:"requester_id"`
	ResponderID *int64  `json:"responder_id,omitempty"`
	Discipline  string  `json:"discipline,omitempty"`
	Open        bool    `json:"open"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ResolvedAt  *string `json:"resolved_at,omitempty" format:"date-time"`
}

type CancelResponse struct {
	Cancelled int `json:"cancelled"`
}

type StatusResponse struct {
	PersonID           int64  `json:"person_id"`
	Role               string `json:"role" enum:"judge,expert,head_judge"`
	OpenExpertCalls    int    `json:"open_expert_calls"`
	OpenHeadJudgeCalls int    `json:"open_head_judge_calls"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Conversion helpers

func personResponse(p domain.Person) PersonResponse {
	return PersonResponse{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		Discipline:  p.Discipline,
		CreatedAt:   p.CreatedAt,
	}
}

func mapPeople(in []domain.Person) []PersonResponse {
	res := make([]PersonResponse, 0, len(in))
	for _, p := range in {
		res = append(res, personResponse(p))
	}
	return res
}

func callResponse(c domain.Call) CallResponse {
	return CallResponse{
		ID:          c.ID,
		Kind:        string(c.Kind),
		RequesterID: c.RequesterID,
		ResponderID: c.ResponderID,
		Discipline:  c.Discipline,
		Open:        c.Open(),
		CreatedAt:   c.CreatedAt,
		ResolvedAt:  c.ResolvedAt,
	}
}

func mapCalls(in []domain.Call) []CallResponse {
	res := make([]CallResponse, 0, len(in))
	for _, c := range in {
		res = append(res, callResponse(c))
	}
	return res
}

func statusResponse(r domain.StatusReport) StatusResponse {
	return StatusResponse{
		PersonID:           r.PersonID,
		Role:               string(r.Role),
		OpenExpertCalls:    r.OpenExpertCalls,
		OpenHeadJudgeCalls: r.OpenHeadJudgeCalls,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
