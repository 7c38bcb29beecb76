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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/engine/auth"
	"intakeline/internal/engine/ledger"
	"intakeline/internal/engine/priority"
	"intakeline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_closed"`
	Message string         `json:"message" example:"period already closed for team"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"period_key\":\"FY26-27\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Intakeline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
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
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Intakeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerStatuses(group, cfg.Engine)
	registerPeriods(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerBlockers(group, cfg.Engine)
	registerClose(group, cfg.Engine, logger)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrInvalidStatusKey):
		return newAPIError(http.StatusBadRequest, "invalid_status_key", msg, nil)
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case errors.Is(err, domain.ErrConflict):
		return newAPIError(http.StatusConflict, "version_conflict", msg, nil)
	case errors.Is(err, domain.ErrAlreadyClosed):
		return newAPIError(http.StatusConflict, "already_closed", msg, nil)
	case errors.Is(err, domain.ErrNotResumable):
		return newAPIError(http.StatusConflict, "not_resumable", msg, nil)
	case errors.Is(err, domain.ErrPersistFailed):
		return newAPIError(http.StatusInternalServerError, "persist_failed", "period close summary could not be stored", map[string]any{"error": msg})
	case errors.Is(err, domain.ErrAdvanceFailed):
		return newAPIError(http.StatusInternalServerError, "advance_failed", "period close summary stored but advance failed", map[string]any{"error": msg})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Intakeline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return reply(WhoAmIResponse{
			ActorID:     caller.ActorID,
			Role:        caller.Role,
			Permissions: nonNilSlice(auth.Permissions(e.Config, caller.Role)),
		}), nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	if !authCfg.EnableDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*output[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		role := strings.TrimSpace(input.Body.Role)
		if actor == "" || role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role are required", nil)
		}
		if e.Config != nil && len(e.Config.RBAC.Roles) > 0 {
			if _, ok := e.Config.RBAC.Roles[role]; !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown role", map[string]any{"role": role})
			}
		}
		token, err := SignToken(authCfg.JWTSecret, actor, role, authCfg.TokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevLoginResponse{Token: token}), nil
	})
}

func registerStatuses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "List the status pipeline",
	}, func(ctx context.Context, _ *struct{}) (*output[listOf[domain.StatusDefinition]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		defs, err := e.ListStatuses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(defs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allowed-transitions",
		Method:      http.MethodGet,
		Path:        "/statuses/{key}/transitions",
		Summary:     "Statuses reachable from a status",
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*output[listOf[domain.StatusDefinition]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		defs, err := e.AllowedTransitions(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(defs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-status",
		Method:      http.MethodPut,
		Path:        "/statuses/{key}",
		Summary:     "Create or edit a status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Key  string              `path:"key"`
		Body UpsertStatusRequest `json:"body"`
	}) (*output[domain.StatusDefinition], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		active := true
		if input.Body.Active != nil {
			active = *input.Body.Active
		}
		saved, err := e.UpsertStatus(ctx, caller, domain.StatusDefinition{
			Key:         input.Key,
			Label:       input.Body.Label,
			Position:    input.Body.Position,
			AllowedNext: input.Body.AllowedNext,
			Active:      active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(saved), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-status",
		Method:      http.MethodPost,
		Path:        "/statuses/{key}/deactivate",
		Summary:     "Deactivate a status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*output[domain.StatusDefinition], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		saved, err := e.DeactivateStatus(ctx, caller, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(saved), nil
	})
}

func registerPeriods(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-periods",
		Method:      http.MethodGet,
		Path:        "/periods",
		Summary:     "List periods",
	}, func(ctx context.Context, _ *struct{}) (*output[listOf[domain.Period]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		periods, err := e.ListPeriods(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(periods)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-period",
		Method:      http.MethodGet,
		Path:        "/periods/current",
		Summary:     "Current period",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*output[domain.Period], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.CurrentPeriod(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	type teamPath struct {
		Team string `path:"team" doc:"Team id or code"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTeamRequest `json:"body"`
	}) (*output[domain.Team], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTeam(ctx, caller, input.Body.Code, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/teams",
		Summary:     "List teams",
	}, func(ctx context.Context, _ *struct{}) (*output[listOf[domain.Team]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		teams, err := e.ListTeams(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(teams)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-team",
		Method:      http.MethodGet,
		Path:        "/teams/{team}",
		Summary:     "Get team",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *teamPath) (*output[domain.Team], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTeam(ctx, input.Team)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-developer",
		Method:        http.MethodPost,
		Path:          "/teams/{team}/developers",
		Summary:       "Add developer to team",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Team string              `path:"team"`
		Body AddDeveloperRequest `json:"body"`
	}) (*output[domain.Developer], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AddDeveloper(ctx, caller, input.Team, input.Body.Name, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-developers",
		Method:      http.MethodGet,
		Path:        "/teams/{team}/developers",
		Summary:     "List team developers",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *teamPath) (*output[listOf[domain.Developer]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		devs, err := e.ListDevelopers(ctx, input.Team)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(devs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-objective",
		Method:        http.MethodPost,
		Path:          "/teams/{team}/objectives",
		Summary:       "Create objective in the current period",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Team string                 `path:"team"`
		Body CreateObjectiveRequest `json:"body"`
	}) (*output[domain.Objective], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateObjective(ctx, caller, input.Team, input.Body.Code, input.Body.Title)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objectives",
		Method:      http.MethodGet,
		Path:        "/teams/{team}/objectives",
		Summary:     "List objectives",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Team       string `path:"team"`
		Period     string `query:"period" doc:"Period key; defaults to the current period"`
		ActiveOnly bool   `query:"active_only"`
	}) (*output[listOf[domain.Objective]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		objs, err := e.ListObjectives(ctx, input.Team, input.Period, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(objs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quadrant-board",
		Method:      http.MethodGet,
		Path:        "/teams/{team}/board",
		Summary:     "Quadrant board for the current period",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *teamPath) (*output[engine.QuadrantBoard], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		board, err := e.QuadrantBoard(ctx, input.Team)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(board), nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	type requestPath struct {
		ID string `path:"id" doc:"Request id or code"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/teams/{team}/requests",
		Summary:       "File a request",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Team string               `path:"team"`
		Body CreateRequestRequest `json:"body"`
	}) (*output[domain.Request], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		req, err := e.CreateRequest(ctx, caller, engine.CreateRequestOptions{
			TeamID:      input.Team,
			Type:        input.Body.Type,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Requester:   input.Body.Requester,
			Urgency:     input.Body.Urgency,
			Importance:  input.Body.Importance,
			Complexity:  input.Body.Complexity,
			DeveloperID: input.Body.DeveloperID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/teams/{team}/requests",
		Summary:     "List requests",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Team   string `path:"team"`
		Period string `query:"period" doc:"Period key; defaults to the current period"`
		Status string `query:"status"`
	}) (*output[listOf[domain.Request]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		reqs, err := e.ListRequests(ctx, input.Team, input.Period, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(reqs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*output[domain.Request], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		req, err := e.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rescore-request",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}/scores",
		Summary:     "Update urgency, importance or complexity",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body RescoreRequest `json:"body"`
	}) (*output[domain.Request], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.Rescore(ctx, caller, input.ID, engine.RescoreOptions{
			Urgency:         input.Body.Urgency,
			Importance:      input.Body.Importance,
			Complexity:      input.Body.Complexity,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-request-quadrant",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/quadrant",
		Summary:     "Drop a request into a quadrant",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body QuadrantMoveRequest `json:"body"`
	}) (*output[domain.Request], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := priority.ParseQuadrant(input.Body.Quadrant)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "quadrant"})
		}
		req, err := e.MoveToQuadrant(ctx, caller, input.ID, q, input.Body.ExpectedVersion)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/assign",
		Summary:     "Set or clear the primary developer",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*output[domain.Request], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.AssignDeveloper(ctx, caller, input.ID, strings.TrimSpace(input.Body.DeveloperID), input.Body.ExpectedVersion)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/transitions",
		Summary:     "Attempt a status transition",
		Description: "Returns 200 with an outcome. Only `applied` changes state; the other outcomes describe what the caller must supply or fix.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*output[TransitionResponse], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.To) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is required", map[string]any{"field": "to"})
		}
		res, err := e.AttemptTransition(ctx, caller, engine.TransitionInput{
			RequestID:       input.ID,
			ToStatus:        input.Body.To,
			ObjectiveIDs:    input.Body.ObjectiveIDs,
			AssigneeIDs:     input.Body.AssigneeIDs,
			Confirmed:       input.Body.Confirmed,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(transitionResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-linkage",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/linkage",
		Summary:     "Objectives and assignees of a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*output[domain.Linkage], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		l, err := e.Linkage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(l), nil
	})
}

func registerBlockers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-blocker",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/blockers",
		Summary:     "Report a blocker",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body BlockerRequest `json:"body"`
	}) (*output[ledger.Tally], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReportBlocker(ctx, caller, input.ID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-blocker",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/blockers/resolve",
		Summary:     "Resolve a blocker",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body BlockerRequest `json:"body"`
	}) (*output[ledger.Tally], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ResolveBlocker(ctx, caller, input.ID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "blocker-status",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/blockers",
		Summary:     "Blocker balance of a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[ledger.Tally], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.BlockerStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-blockers",
		Method:      http.MethodGet,
		Path:        "/teams/{team}/blockers",
		Summary:     "Requests with open blockers in the current period",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Team string `path:"team"`
	}) (*output[engine.OpenBlockers], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		open, err := e.OpenBlockers(ctx, input.Team)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(open), nil
	})
}

func registerClose(api huma.API, e engine.Engine, logger *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "close-period",
		Method:      http.MethodPost,
		Path:        "/teams/{team}/close",
		Summary:     "Close the current period for a team",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Team string `path:"team"`
	}) (*output[domain.PeriodCloseRecord], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.ClosePeriod(ctx, caller, input.Team)
		if err != nil {
			return nil, closeError(logger, rec, err)
		}
		return reply(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-close",
		Method:      http.MethodPost,
		Path:        "/teams/{team}/close/resume",
		Summary:     "Finish a close whose advance failed",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Team string             `path:"team"`
		Body ResumeCloseRequest `json:"body"`
	}) (*output[domain.PeriodCloseRecord], error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.ResumeClose(ctx, caller, input.Team, strings.TrimSpace(input.Body.PeriodKey))
		if err != nil {
			return nil, closeError(logger, rec, err)
		}
		return reply(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-close-records",
		Method:      http.MethodGet,
		Path:        "/teams/{team}/closes",
		Summary:     "Close summaries of a team",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Team string `path:"team"`
	}) (*output[listOf[domain.PeriodCloseRecord]], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		recs, err := e.CloseRecords(ctx, input.Team)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(recs)), nil
	})
}

// closeError keeps the stored record visible when only the advance failed.
func closeError(logger *zap.Logger, rec domain.PeriodCloseRecord, err error) huma.StatusError {
	if !errors.Is(err, domain.ErrAdvanceFailed) {
		return handleError(err)
	}
	logger.Error("period close needs resume",
		zap.String("team_id", rec.TeamID),
		zap.String("period_key", rec.PeriodKey),
		zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "advance_failed", "period close summary stored but advance failed", map[string]any{
		"record_id":       rec.ID,
		"team_id":         rec.TeamID,
		"period_key":      rec.PeriodKey,
		"next_period_key": rec.NextPeriodKey,
		"error":           err.Error(),
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Team       string `query:"team" doc:"Team id"`
		Period     string `query:"period"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"request,team,developer,objective,status,period,period_close"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		f := repo.EventFilter{
			TeamID:     input.Team,
			PeriodKey:  input.Period,
			EntityKind: input.EntityKind,
			BeforeID:   cursorID,
			Limit:      limit + 1,
		}
		if input.Type != "" {
			f.Types = []string{input.Type}
		}
		if input.EntityID != "" {
			f.EntityIDs = []string{input.EntityID}
		}
		evts, err := e.ActivityLog(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(evts) > limit {
			resp.NextCursor = strconv.FormatInt(evts[limit-1].ID, 10)
			evts = evts[:limit]
		}
		for _, evt := range evts {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
