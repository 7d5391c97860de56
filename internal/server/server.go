// Package server exposes the callboard API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callboard/internal/domain"
	"callboard/internal/engine"
	"callboard/internal/metrics"
	"callboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_assigned"`
	Message string         `json:"message" example:"call already assigned"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the callboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(countRequests)
	hcfg := huma.DefaultConfig("Callboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPeople(group, cfg.Engine)
	registerCalls(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	return router, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(r.Method, strconv.Itoa(rec.status))
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "unauthorized_role", err.Error(), nil)
	case errors.Is(err, engine.ErrRoleMismatch):
		return newAPIError(http.StatusForbidden, "role_mismatch", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyAssigned):
		return newAPIError(http.StatusConflict, "already_assigned", err.Error(), nil)
	case errors.Is(err, engine.ErrDuplicateIdentity):
		return newAPIError(http.StatusConflict, "duplicate_identity", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "invalid") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Callboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerPeople(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-person",
		Method:        http.MethodPost,
		Path:          "/people",
		Summary:       "Register person",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterPersonRequest `json:"body"`
	}) (*struct {
		Body RegisterPersonResponse `json:"body"`
	}, error) {
		if input.Body.ID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		p, created, err := e.Register(ctx, engine.RegisterOptions{
			ID:          input.Body.ID,
			DisplayName: input.Body.DisplayName,
			Role:        role,
			Discipline:  input.Body.Discipline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RegisterPersonResponse `json:"body"`
		}{Body: RegisterPersonResponse{Person: personResponse(p), Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-people",
		Method:      http.MethodGet,
		Path:        "/people",
		Summary:     "List people",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"judge,expert,head_judge,"`
	}) (*struct {
		Body []PersonResponse `json:"body"`
	}, error) {
		var people []domain.Person
		var err error
		if input.Role != "" {
			role, perr := domain.ParseRole(input.Role)
			if perr != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", perr.Error(), nil)
			}
			people, err = e.Repo.ListPeopleByRole(ctx, role)
		} else {
			people, err = e.Repo.ListPeople(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PersonResponse `json:"body"`
		}{Body: mapPeople(people)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-person",
		Method:      http.MethodGet,
		Path:        "/people/{id}",
		Summary:     "Get person",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body PersonResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPerson(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PersonResponse `json:"body"`
		}{Body: personResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "person-status",
		Method:      http.MethodGet,
		Path:        "/people/{id}/status",
		Summary:     "Person status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		report, err := e.Status(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(report)}, nil
	})
}

func registerCalls(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-call",
		Method:        http.MethodPost,
		Path:          "/calls",
		Summary:       "Raise a call",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCallRequest `json:"body"`
	}) (*struct {
		Body CallResponse `json:"body"`
	}, error) {
		kind, err := domain.ParseCallKind(input.Body.Kind)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		c, err := e.CreateCall(ctx, engine.CreateCallOptions{
			RequesterID: input.Body.RequesterID,
			Kind:        kind,
			Discipline:  input.Body.Discipline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CallResponse `json:"body"`
		}{Body: callResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-call",
		Method:      http.MethodPost,
		Path:        "/calls/{id}/respond",
		Summary:     "Claim an open call",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id"`
		Body RespondRequest `json:"body"`
	}) (*struct {
		Body CallResponse `json:"body"`
	}, error) {
		kind, err := domain.ParseCallKind(input.Body.Kind)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		c, err := e.Respond(ctx, input.ID, kind, input.Body.ResponderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CallResponse `json:"body"`
		}{Body: callResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-calls",
		Method:      http.MethodGet,
		Path:        "/calls",
		Summary:     "List calls",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind        string `query:"kind" enum:"expert,head_judge,"`
		RequesterID int64  `query:"requester_id"`
		ResponderID int64  `query:"responder_id"`
		Open        bool   `query:"open"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []CallResponse `json:"body"`
	}, error) {
		filters := repo.CallFilters{OpenOnly: input.Open, Limit: input.Limit}
		if input.Kind != "" {
			kind, err := domain.ParseCallKind(input.Kind)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			filters.Kind = &kind
		}
		if input.RequesterID != 0 {
			filters.RequesterID = &input.RequesterID
		}
		if input.ResponderID != 0 {
			filters.ResponderID = &input.ResponderID
		}
		calls, err := e.Repo.ListCalls(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CallResponse `json:"body"`
		}{Body: mapCalls(calls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-open-calls",
		Method:      http.MethodDelete,
		Path:        "/calls/open",
		Summary:     "Withdraw a requester's open calls",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		RequesterID int64  `query:"requester_id" required:"true"`
		Kind        string `query:"kind" enum:"expert,head_judge,"`
	}) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		var kind *domain.CallKind
		if input.Kind != "" {
			k, err := domain.ParseCallKind(input.Kind)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			kind = &k
		}
		n, err := e.CancelOpenCalls(ctx, input.RequesterID, kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: CancelResponse{Cancelled: n}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			res = append(res, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
