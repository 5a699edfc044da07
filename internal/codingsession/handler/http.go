package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/codingsession/service"
	"distrack/backend/internal/platform/httpx"
	"distrack/backend/internal/policy/engine"
	"distrack/backend/internal/server/middleware"
)

// ScopeWriteSessions is the access token scope required to submit sessions.
const ScopeWriteSessions = "write:sessions"

type ingestRequest struct {
	SessionID        string             `json:"session_id"`
	StartedAt        string             `json:"started_at"`
	DurationSec      *float64           `json:"duration_sec"`
	Languages        map[string]float64 `json:"languages"`
	Project          string             `json:"project"`
	Editor           string             `json:"editor"`
	ExtensionVersion string             `json:"extension_version"`
	FilePaths        []string           `json:"file_paths"`
}

type ingestResponse struct {
	SessionID string `json:"session_id"`
	Created   bool   `json:"created"`
}

// RequireWriteSessions authenticates the device access token and requires
// ScopeWriteSessions among its scopes.
func RequireWriteSessions(verifier middleware.AccessVerifier, policy engine.Evaluator, log *logrus.Logger) func(http.Handler) http.Handler {
	return middleware.RequireAccess(verifier, policy, ScopeWriteSessions, log)
}

// Handler serves session ingestion.
type Handler struct {
	svc  *service.Service
	auth func(http.Handler) http.Handler
	log  *logrus.Logger
}

// NewHandler returns a sessions HTTP handler. auth must authenticate the
// device access token and store the identity with middleware.WithIdentity.
func NewHandler(svc *service.Service, auth func(http.Handler) http.Handler, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, auth: auth, log: log}
}

// RegisterRoutes registers POST /v1/sessions.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/sessions", h.auth(http.HandlerFunc(h.ingest))).Methods(http.MethodPost)
}

// ingest handles POST /v1/sessions. 201 for a new session, 200 for a replay.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !httpx.ParseJSONOrError(w, r, &req) {
		return
	}
	userID, _ := middleware.GetUserID(r.Context())
	deviceID, _ := middleware.GetDeviceID(r.Context())
	res, err := h.svc.Ingest(r.Context(), service.Input{
		UserID:           userID,
		DeviceID:         deviceID,
		SessionID:        req.SessionID,
		StartedAt:        req.StartedAt,
		DurationSec:      req.DurationSec,
		Languages:        req.Languages,
		Project:          req.Project,
		Editor:           req.Editor,
		ExtensionVersion: req.ExtensionVersion,
		FilePaths:        req.FilePaths,
		ClientIP:         httpx.ClientIPFrom(r),
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		httpx.WriteErrorLogged(w, r, h.log, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	_ = httpx.WriteJSON(w, status, ingestResponse{SessionID: res.SessionID, Created: res.Created})
}
