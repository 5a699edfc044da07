package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/device/service"
	"distrack/backend/internal/platform/apperr"
	"distrack/backend/internal/platform/httpx"
	"distrack/backend/internal/server/middleware"
)

type deviceResponse struct {
	DeviceID   string    `json:"device_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type listResponse struct {
	Devices []deviceResponse `json:"devices"`
}

// Handler serves the web tier's read-only view of linked devices.
type Handler struct {
	svc  *service.Service
	auth func(http.Handler) http.Handler
	log  *logrus.Logger
}

// NewHandler returns a device HTTP handler. auth must store a middleware.WebCaller.
func NewHandler(svc *service.Service, auth func(http.Handler) http.Handler, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, auth: auth, log: log}
}

// RegisterRoutes registers GET /v1/devices.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/devices", h.auth(http.HandlerFunc(h.list))).Methods(http.MethodGet)
}

// list handles GET /v1/devices. Session callers see their own devices; the
// API-key caller names the user with ?user_id=.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetWebCaller(r.Context())
	if !ok {
		httpx.WriteErrorMessage(w, apperr.Unauthorized, "missing or invalid authorization")
		return
	}
	userID := caller.UserID
	if caller.ViaAPIKey {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		httpx.WriteErrorMessage(w, apperr.InvalidInput, "user_id is required")
		return
	}
	devices, err := h.svc.ListForUser(r.Context(), userID)
	if err != nil {
		httpx.WriteErrorLogged(w, r, h.log, apperr.Wrap(apperr.Internal, "list devices", err))
		return
	}
	out := listResponse{Devices: make([]deviceResponse, 0, len(devices))}
	for _, d := range devices {
		out.Devices = append(out.Devices, deviceResponse{
			DeviceID:   d.DeviceID,
			LastSeenAt: d.LastSeenAt,
			UserAgent:  d.UserAgent,
			CreatedAt:  d.CreatedAt,
		})
	}
	_ = httpx.WriteJSON(w, http.StatusOK, out)
}
