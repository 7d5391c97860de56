package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"callboard/internal/db"
	"callboard/internal/engine"
	"callboard/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func registerPerson(t *testing.T, srv *testServer, id int64, name, role, discipline string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/people", map[string]any{
		"id":           id,
		"display_name": name,
		"role":         role,
		"discipline":   discipline,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s status %d: %s", name, res.StatusCode, string(data))
	}
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerPerson(t, srv, 1, "Anna", "judge", "welding")
	registerPerson(t, srv, 2, "Boris", "expert", "welding")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/calls", map[string]any{
		"requester_id": 1,
		"kind":         "expert",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create call status %d: %s", res.StatusCode, string(data))
	}
	var created CallResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal call: %v", err)
	}
	if !created.Open || created.Discipline != "welding" {
		t.Fatalf("unexpected call: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/v0/calls/%d/respond", srv.URL, created.ID), map[string]any{
		"responder_id": 2,
		"kind":         "expert",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", res.StatusCode, string(data))
	}
	var resolved CallResponse
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("unmarshal resolved call: %v", err)
	}
	if resolved.Open || resolved.ResponderID == nil || *resolved.ResponderID != 2 {
		t.Fatalf("unexpected resolved call: %+v", resolved)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/people/1/status", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status status %d: %s", res.StatusCode, string(data))
	}
	var report StatusResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if report.OpenExpertCalls != 0 {
		t.Fatalf("resolved call still counted open: %+v", report)
	}
}

func TestRespondConflictReturns409(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerPerson(t, srv, 1, "Anna", "judge", "welding")
	registerPerson(t, srv, 2, "Boris", "expert", "welding")
	registerPerson(t, srv, 3, "Clara", "expert", "welding")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/calls", map[string]any{
		"requester_id": 1,
		"kind":         "expert",
	})
	var created CallResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal call: %v", err)
	}
	respondURL := fmt.Sprintf("%s/v0/calls/%d/respond", srv.URL, created.ID)
	res, _ := doJSON(t, client, http.MethodPost, respondURL, map[string]any{"responder_id": 2, "kind": "expert"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first respond status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, respondURL, map[string]any{"responder_id": 3, "kind": "expert"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second respond status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "already_assigned" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestRoleGateReturns403(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerPerson(t, srv, 1, "Anna", "judge", "welding")
	registerPerson(t, srv, 2, "Boris", "expert", "welding")

	// expert tries to raise a call
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/calls", map[string]any{
		"requester_id": 2,
		"kind":         "expert",
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/calls", map[string]any{
		"requester_id": 1,
		"kind":         "head_judge",
	})
	var created CallResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal call: %v", err)
	}
	// expert tries to claim a head judge call
	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/v0/calls/%d/respond", srv.URL, created.ID), map[string]any{
		"responder_id": 2,
		"kind":         "head_judge",
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCancelOpenCallsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerPerson(t, srv, 1, "Anna", "judge", "welding")
	for i := 0; i < 2; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/calls", map[string]any{
			"requester_id": 1,
			"kind":         "expert",
		})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create call status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/calls/open?requester_id=1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
	var cancelled CancelResponse
	if err := json.Unmarshal(data, &cancelled); err != nil {
		t.Fatalf("unmarshal cancel: %v", err)
	}
	if cancelled.Cancelled != 2 {
		t.Fatalf("expected 2 cancelled, got %d", cancelled.Cancelled)
	}
}

func TestUnknownPersonReturns404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/people/999", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerPerson(t, srv, 1, "Anna", "judge", "welding")
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/calls", map[string]any{
		"requester_id": 1,
		"kind":         "expert",
	}); res.StatusCode != http.StatusCreated {
		t.Fatalf("create call status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=call.created", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "call.created" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Payload["kind"] != "expert" {
		t.Fatalf("payload not decoded: %+v", events[0])
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}
