// Package httpapi is the reference HTTP binding for runtime/api.Service
// (spec §6): chi-routed handlers that marshal/unmarshal and call straight
// into the Service. No business logic lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/execfabric/fabric/runtime/api"
	"github.com/execfabric/fabric/runtime/artifact"
	"github.com/execfabric/fabric/runtime/ferrors"
	"github.com/execfabric/fabric/runtime/healthz"
	"github.com/execfabric/fabric/runtime/session"
	"github.com/execfabric/fabric/runtime/telemetry"
)

// Options configures the HTTP binding.
type Options struct {
	Service *api.Service
	Health  *healthz.Checker
	Logger  telemetry.Logger
}

// NewRouter builds a chi.Router exposing exactly the endpoints in spec §6.
func NewRouter(opts Options) (chi.Router, error) {
	if opts.Service == nil {
		return nil, ferrors.Contract8A("api service")
	}
	h := &handler{service: opts.Service, healthChecker: opts.Health, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequest)

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/session/create", h.createSession)
		r.Post("/session/upgrade", h.upgradeSession)
		r.Get("/session/{sessionID}", h.getSession)

		r.Post("/intent/submit", h.submitIntent)

		r.Get("/execution/{executionID}/status", h.getExecutionStatus)

		r.Get("/artifacts/visual/*", h.getVisual)
		r.Get("/artifacts/{artifactID}", h.getArtifact)
	})

	return r, nil
}

type handler struct {
	service       *api.Service
	healthChecker *healthz.Checker
	logger        telemetry.Logger
}

func (h *handler) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.logger != nil {
			h.logger.Info(r.Context(), "http request", "method", r.Method, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a ferrors.Kind to the HTTP status spec §7 implies and
// writes a JSON error body. A non-ferrors error is treated as an unexpected
// internal failure. The three not-found sentinels are checked ahead of the
// Kind switch because the artifact and execution ones arrive wrapped in
// ferrors.Validation, which the switch would map to 400 — spec §6 calls for
// 404 on all three.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, artifact.ErrNotFound) || errors.Is(err, api.ErrExecutionNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	kind, ok := ferrors.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case ferrors.Validation, ferrors.LifecycleViolation:
		status = http.StatusBadRequest
	case ferrors.Authorization:
		status = http.StatusForbidden
	case ferrors.Contract8A, ferrors.BackendUnavailable:
		status = http.StatusInternalServerError
	case ferrors.IdempotencyReplay:
		status = http.StatusOK
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func queryBool(r *http.Request, key string) bool {
	return r.URL.Query().Get(key) == "true"
}
