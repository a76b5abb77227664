// Package server exposes the HTTP API: profile and composition management,
// override scheduling, and read access to runs, uploads and the event log.
// Run execution never happens in a request handler; the poller owns that.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"clipforge/internal/admin"
	"clipforge/internal/compose"
	"clipforge/internal/faults"
	"clipforge/internal/pipeline"
	"clipforge/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Admin    admin.Admin
	Coord    *pipeline.Coordinator
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"schedule is not a valid cron expression"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Clipforge API.
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
	hcfg := huma.DefaultConfig("Clipforge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProfiles(group, cfg.Admin)
	registerStages(group, cfg.Admin)
	registerOverrides(group, cfg.Admin)
	registerPlatforms(group, cfg.Admin)
	registerRuns(group, cfg.Admin, cfg.Coord)
	registerEvents(group, cfg.Admin)
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var f *faults.Fault
	if errors.As(err, &f) {
		switch f.Class {
		case faults.Configuration:
			return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		case faults.Terminal:
			return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
		}
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "terminal"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "already") || strings.Contains(lowered, "not found"):
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
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
    <title>Clipforge API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({
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

type profilePath struct {
	ProfileID string `path:"profile_id"`
}

func registerProfiles(api huma.API, a admin.Admin) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Create profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		opts := admin.ProfileCreateOptions{
			Name:           input.Body.Name,
			Schedule:       input.Body.Schedule,
			QuestionPrompt: input.Body.QuestionPrompt,
			AnswerPrompt:   input.Body.AnswerPrompt,
			BackgroundGlob: input.Body.BackgroundGlob,
			VoiceName:      input.Body.VoiceName,
			FontName:       input.Body.FontName,
			AspectRatio:    input.Body.AspectRatio,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		p, err := a.CreateProfile(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProfileResponse `json:"body"`
	}, error) {
		items, err := a.Repo.ListProfiles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProfileResponse `json:"body"`
		}{Body: mapProfiles(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}",
		Summary:     "Get profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		p, err := a.Repo.GetProfile(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	setPaused := func(paused bool) func(ctx context.Context, input *profilePath) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		return func(ctx context.Context, input *profilePath) (*struct {
			Body ProfileResponse `json:"body"`
		}, error) {
			if err := a.SetPaused(ctx, input.ProfileID, paused); err != nil {
				return nil, handleError(err)
			}
			p, err := a.Repo.GetProfile(ctx, input.ProfileID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ProfileResponse `json:"body"`
			}{Body: profileResponse(p)}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "pause-profile",
		Method:      http.MethodPost,
		Path:        "/profiles/{profile_id}/pause",
		Summary:     "Pause profile",
		Errors:      []int{http.StatusNotFound},
	}, setPaused(true))

	huma.Register(api, huma.Operation{
		OperationID: "resume-profile",
		Method:      http.MethodPost,
		Path:        "/profiles/{profile_id}/resume",
		Summary:     "Resume profile",
		Errors:      []int{http.StatusNotFound},
	}, setPaused(false))
}

func registerStages(api huma.API, a admin.Admin) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stage",
		Method:        http.MethodPost,
		Path:          "/profiles/{profile_id}/stages",
		Summary:       "Add stage",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string             `path:"profile_id"`
		Body      CreateStageRequest `json:"body"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		s, err := a.AddStage(ctx, input.ProfileID, input.Body.Name, input.Body.LastStage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/stages",
		Summary:     "List stages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		if _, err := a.Repo.GetProfile(ctx, input.ProfileID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.Repo.ListStages(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: mapStages(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-layer",
		Method:        http.MethodPost,
		Path:          "/stages/{stage_id}/layers",
		Summary:       "Add layer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StageID string             `path:"stage_id"`
		Body    CreateLayerRequest `json:"body"`
	}) (*struct {
		Body LayerResponse `json:"body"`
	}, error) {
		tag, err := tagByName(input.Body.Tag)
		if err != nil {
			return nil, handleError(err)
		}
		l, err := a.AddLayer(ctx, input.StageID, tag, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LayerResponse `json:"body"`
		}{Body: layerResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-layers",
		Method:      http.MethodGet,
		Path:        "/stages/{stage_id}/layers",
		Summary:     "List layers",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StageID string `path:"stage_id"`
	}) (*struct {
		Body []LayerResponse `json:"body"`
	}, error) {
		if _, err := a.Repo.GetStage(ctx, input.StageID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.Repo.ListLayers(ctx, input.StageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LayerResponse `json:"body"`
		}{Body: mapLayers(items)}, nil
	})
}

func registerOverrides(api huma.API, a admin.Admin) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-override",
		Method:        http.MethodPost,
		Path:          "/profiles/{profile_id}/overrides",
		Summary:       "Schedule one-off run",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string                `path:"profile_id"`
		Body      CreateOverrideRequest `json:"body"`
	}) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		runsAt, err := time.Parse(time.RFC3339, input.Body.RunsAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "runs_at must be RFC 3339", nil)
		}
		o, err := a.ScheduleOverride(ctx, input.ProfileID, runsAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: overrideResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-overrides",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/overrides",
		Summary:     "List overrides",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body []OverrideResponse `json:"body"`
	}, error) {
		if _, err := a.Repo.GetProfile(ctx, input.ProfileID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.Repo.ListOverrides(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OverrideResponse `json:"body"`
		}{Body: mapOverrides(items)}, nil
	})
}

func registerPlatforms(api huma.API, a admin.Admin) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-platform",
		Method:        http.MethodPost,
		Path:          "/profiles/{profile_id}/platforms",
		Summary:       "Register upload platform",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string                `path:"profile_id"`
		Body      CreatePlatformRequest `json:"body"`
	}) (*struct {
		Body PlatformResponse `json:"body"`
	}, error) {
		p, err := a.AddPlatform(ctx, input.ProfileID, input.Body.Platform,
			[]byte(input.Body.OAuthRefresh), []byte(input.Body.OAuthToken))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlatformResponse `json:"body"`
		}{Body: platformResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-platforms",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/platforms",
		Summary:     "List upload platforms",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body []PlatformResponse `json:"body"`
	}, error) {
		if _, err := a.Repo.GetProfile(ctx, input.ProfileID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.Repo.ListPlatforms(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PlatformResponse `json:"body"`
		}{Body: mapPlatforms(items)}, nil
	})
}

func registerRuns(api huma.API, a admin.Admin, coord *pipeline.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs",
	}, func(ctx context.Context, input *struct {
		ProfileID string `query:"profile_id"`
	}) (*struct {
		Body []RunResponse `json:"body"`
	}, error) {
		items, err := a.Repo.ListRuns(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RunResponse `json:"body"`
		}{Body: mapRuns(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		r, err := a.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/cancel",
		Summary:     "Cancel run",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		r, err := coord.Cancel(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-uploads",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/uploads",
		Summary:     "List uploads for a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body []UploadResponse `json:"body"`
	}, error) {
		if _, err := a.Repo.GetRun(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.Repo.ListUploadsForRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UploadResponse `json:"body"`
		}{Body: mapUploads(items)}, nil
	})
}

func registerEvents(api huma.API, a admin.Admin) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		ProfileID string `query:"profile_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := a.Repo.LatestEvents(ctx, input.Limit, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func tagByName(name string) (compose.Tag, error) {
	switch name {
	case "background":
		return compose.TagBackground, nil
	case "card":
		return compose.TagCard, nil
	case "voice":
		return compose.TagVoice, nil
	case "subtitle":
		return compose.TagSubtitle, nil
	case "watermark":
		return compose.TagWatermark, nil
	}
	return 0, faults.Configf("unknown layer tag %q", name)
}
