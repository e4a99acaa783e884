package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"talentops/internal/domain"
	"talentops/internal/engine"
	"talentops/internal/engine/auth"
	"talentops/internal/listing"
	"talentops/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_phase"`
	Message string         `json:"message" example:"phase does not match current lifecycle state"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Talentops API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Talentops API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	authsvc := auth.New(cfg.Engine.DB, cfg.Engine.Config)
	lister := listing.Service{Repo: cfg.Engine.Repo}

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTasks(group, cfg.Engine, authsvc, lister)
	registerProfiles(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine, authsvc)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidPhase):
		return newAPIError(http.StatusConflict, "invalid_phase", err.Error(), nil)
	case errors.Is(err, engine.ErrTaskClosed):
		return newAPIError(http.StatusConflict, "task_closed", err.Error(), nil)
	case errors.Is(err, engine.ErrNotPendingValidation):
		return newAPIError(http.StatusConflict, "not_pending_validation", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func orgFromPath(pathOrg, configOrg string) string {
	if strings.TrimSpace(pathOrg) != "" {
		return pathOrg
	}
	return configOrg
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
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Talentops API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "org-status",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/status",
		Summary:     "Org status",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		name, err := e.Repo.GetOrg(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"org_id":      orgID,
			"org_name":    name,
			"task_counts": counts,
		}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine, authsvc auth.Service, lister listing.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string            `path:"org_id"`
		Body  CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		opts := engine.TaskCreateOptions{
			OrgID:       orgID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			ProjectID:   stringOrEmpty(input.Body.ProjectID),
			AssignedTo:  stringOrEmpty(input.Body.AssignedTo),
			AssignedBy:  actorID,
			Priority:    stringOrEmpty(input.Body.Priority),
			DueDate:     stringOrEmpty(input.Body.DueDate),
			DueTime:     stringOrEmpty(input.Body.DueTime),
			StartDate:   stringOrEmpty(input.Body.StartDate),
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: bareTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/tasks",
		Summary:     "List tasks visible to the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrgID     string `path:"org_id"`
		ProjectID string `query:"project_id"`
		Status    string `query:"status"`
		Search    string `query:"search"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		role, err := authsvc.ActorRole(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		views, err := lister.List(ctx, listing.Scope{
			ActorID:   actorID,
			OrgID:     orgID,
			ProjectID: input.ProjectID,
			Role:      role,
		}, listing.Filter{
			Search: input.Search,
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(views)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		ID    string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		v, err := lister.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		if v.OrgID != orgID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in org", nil)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/orgs/{org_id}/tasks/{id}",
		Summary:     "Update task schedule, priority or hold status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string            `path:"org_id"`
		ID    string            `path:"id"`
		Body  UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Status != nil {
			// Lifecycle-owned summaries go through the workflow endpoints.
			if *input.Body.Status != domain.StatusOnHold && *input.Body.Status != domain.StatusPending {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "status may only be set to 'on hold' or 'pending' here", nil)
			}
		}
		u := repo.TaskMetaUpdate{
			Priority:  stringOrEmpty(input.Body.Priority),
			Status:    stringOrEmpty(input.Body.Status),
			DueDate:   input.Body.DueDate,
			DueTime:   input.Body.DueTime,
			StartDate: input.Body.StartDate,
		}
		now := e.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateTaskMeta(ctx, input.ID, now, u); err != nil {
			return nil, handleError(err)
		}
		v, err := lister.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-progress",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/tasks/{id}/progress",
		Summary:     "Per-phase progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		ID    string `path:"id"`
	}) (*struct {
		Body []domain.PhaseProgress `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PhaseProgress `json:"body"`
		}{Body: domain.Progress(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-proof",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/tasks/{id}/proof",
		Summary:     "Submit proof for the current phase",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string             `path:"org_id"`
		ID    string             `path:"id"`
		Body  SubmitProofRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Phase == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "phase is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SubmitProof(ctx, input.ID, domain.Phase(input.Body.Phase), input.Body.ProofURL, input.Body.ProofText, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: bareTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/tasks/{id}/approve",
		Summary:     "Approve pending validations",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		ID    string `path:"id"`
	}) (*struct {
		Body ApproveResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cur, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := authsvc.RequireSupervisor(ctx, actorID, cur, "approve"); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Approve(ctx, input.ID, actorID)
		if err != nil {
			if errors.Is(err, engine.ErrNothingToApprove) {
				return &struct {
					Body ApproveResponse `json:"body"`
				}{Body: ApproveResponse{Outcome: "no_op", Task: bareTaskResponse(t)}}, nil
			}
			return nil, handleError(err)
		}
		return &struct {
			Body ApproveResponse `json:"body"`
		}{Body: ApproveResponse{Outcome: "approved", Task: bareTaskResponse(t)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/tasks/{id}/reject",
		Summary:     "Reject the pending validation",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		ID    string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cur, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := authsvc.RequireSupervisor(ctx, actorID, cur, "reject"); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Reject(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: bareTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-issue",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/tasks/{id}/issues",
		Summary:     "Report an issue on a task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string             `path:"org_id"`
		ID    string             `path:"id"`
		Body  ReportIssueRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReportIssue(ctx, input.ID, input.Body.Text, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: bareTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-issue",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/tasks/{id}/issues/resolve",
		Summary:     "Mark the open issue resolved",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		ID    string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cur, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := authsvc.RequireSupervisor(ctx, actorID, cur, "resolve_issue"); err != nil {
			return nil, handleError(err)
		}
		t, err := e.ResolveIssue(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: bareTaskResponse(t)}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upsert-profile",
		Method:        http.MethodPut,
		Path:          "/orgs/{org_id}/profiles",
		Summary:       "Create or update a profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrgID string               `path:"org_id"`
		Body  UpsertProfileRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		p := domain.Profile{
			ID:        input.Body.ID,
			OrgID:     orgID,
			FullName:  input.Body.FullName,
			Role:      input.Body.Role,
			AvatarURL: input.Body.AvatarURL,
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		if p.Role == "" {
			p.Role = domain.RoleEmployee
		}
		if err := e.Repo.UpsertProfile(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/profiles",
		Summary:     "List profiles",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []ProfileResponse `json:"body"`
	}, error) {
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		items, err := e.Repo.ListProfiles(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ProfileResponse, 0, len(items))
		for _, p := range items {
			out = append(out, profileResponse(p))
		}
		return &struct {
			Body []ProfileResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrgID string               `path:"org_id"`
		Body  CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		p := domain.Project{
			ID:        stringOrEmpty(input.Body.ID),
			OrgID:     orgID,
			Name:      input.Body.Name,
			Status:    "active",
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if err := e.Repo.InsertProject(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		items, err := e.Repo.ListProjects(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ProjectResponse, 0, len(items))
		for _, p := range items {
			out = append(out, projectResponse(p))
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-member",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/projects/{project_id}/members",
		Summary:       "Add project member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID     string                  `path:"org_id"`
		ProjectID string                  `path:"project_id"`
		Body      AddProjectMemberRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectMember `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		m := domain.ProjectMember{
			ProjectID: input.ProjectID,
			UserID:    input.Body.UserID,
			Role:      input.Body.Role,
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		if m.Role == "" {
			m.Role = domain.RoleEmployee
		}
		if err := e.Repo.AddProjectMember(ctx, m); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectMember `json:"body"`
		}{Body: m}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List the caller's notifications",
	}, func(ctx context.Context, input *struct {
		UnreadOnly bool `query:"unread_only"`
		Limit      int  `query:"limit" default:"50"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, actorID, input.UnreadOnly, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]NotificationResponse, 0, len(items))
		for _, n := range items {
			out = append(out, notificationResponse(n))
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"org_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		orgID := orgFromPath(input.OrgID, e.Config.Org.ID)
		items, err := e.Repo.LatestEvents(ctx, input.Limit, orgID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.Body.ActorID
		if owner == "" {
			owner = actorID
		}
		secret := uuid.New().String()
		key := domain.APIKey{
			ID:        uuid.New().String(),
			OrgID:     e.Config.Org.ID,
			ActorID:   owner,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(secret),
			CreatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			OrgID:     key.OrgID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       secret,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, e.Config.Org.ID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, APIKeyResponse{
				ID:        k.ID,
				OrgID:     k.OrgID,
				ActorID:   k.ActorID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{id}",
		Summary:     "Revoke API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, e.Config.Org.ID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine, authsvc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		role, err := authsvc.ActorRole(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"actor_id": p.ActorID,
			"role":     role,
			"source":   p.Source,
		}}, nil
	})
}
