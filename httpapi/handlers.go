package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/execfabric/fabric/runtime/api"
)

type createSessionRequest struct {
	IntentType        string         `json:"intent-type"`
	TenantID          string         `json:"tenant_id"`
	UserID            string         `json:"user_id"`
	SessionID         string         `json:"session_id"`
	ExecutionContract map[string]any `json:"execution_contract"`
	Metadata          map[string]any `json:"metadata"`
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	sess, err := h.service.CreateSession(r.Context(), api.CreateSessionParams{
		TenantID: req.TenantID, UserID: req.UserID, SessionID: req.SessionID,
		ExecutionContract: req.ExecutionContract, Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type upgradeSessionRequest struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	TenantID  string         `json:"tenant_id"`
	Metadata  map[string]any `json:"metadata"`
}

func (h *handler) upgradeSession(w http.ResponseWriter, r *http.Request) {
	var req upgradeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	sess, err := h.service.UpgradeSession(r.Context(), api.UpgradeSessionParams{
		SessionID: req.SessionID, UserID: req.UserID, TenantID: req.TenantID, Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	tenantID := r.URL.Query().Get("tenant_id")
	sess, err := h.service.GetSession(r.Context(), sessionID, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type submitIntentRequest struct {
	IntentID       string         `json:"intent_id"`
	IntentType     string         `json:"intent_type"`
	TenantID       string         `json:"tenant_id"`
	SessionID      string         `json:"session_id"`
	SolutionID     string         `json:"solution_id"`
	Parameters     map[string]any `json:"parameters"`
	Metadata       map[string]any `json:"metadata"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func (h *handler) submitIntent(w http.ResponseWriter, r *http.Request) {
	var req submitIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	result, err := h.service.SubmitIntent(r.Context(), api.SubmitIntentParams{
		IntentID: req.IntentID, IntentType: req.IntentType, TenantID: req.TenantID,
		SessionID: req.SessionID, SolutionID: req.SolutionID, Parameters: req.Parameters,
		Metadata: req.Metadata, IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		// SubmitIntent only ever errors when the intent was never accepted
		// (spec §6: "500 when execution fails to accept").
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getExecutionStatus(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	tenantID := r.URL.Query().Get("tenant_id")
	status, err := h.service.GetExecutionStatus(r.Context(), api.GetExecutionStatusParams{
		TenantID: tenantID, ExecutionID: executionID,
		IncludeArtifacts: queryBool(r, "include-artifacts"),
		IncludeVisuals:   queryBool(r, "include-visuals"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) getArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")
	tenantID := r.URL.Query().Get("tenant_id")
	av, err := h.service.GetArtifact(r.Context(), api.GetArtifactParams{
		TenantID: tenantID, ArtifactID: artifactID,
		SessionID:      r.URL.Query().Get("session_id"),
		IncludeVisuals: queryBool(r, "include-visuals"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handler) getVisual(w http.ResponseWriter, r *http.Request) {
	visualPath := chi.URLParam(r, "*")
	tenantID := r.URL.Query().Get("tenant_id")
	payload, err := h.service.GetVisual(r.Context(), tenantID, visualPath)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(payload))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	status, failures := h.healthChecker.Check(r.Context())
	code := http.StatusOK
	if len(failures) > 0 {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
