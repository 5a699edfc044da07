package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/platform/httpx"
)

const readyTimeout = 2 * time.Second

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HTTPHandler serves /healthz and /readyz.
type HTTPHandler struct {
	checker *Checker
	log     *logrus.Logger
}

// NewHTTPHandler returns the HTTP health handler.
func NewHTTPHandler(checker *Checker, log *logrus.Logger) *HTTPHandler {
	return &HTTPHandler{checker: checker, log: log}
}

// RegisterRoutes registers GET /healthz and GET /readyz.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.live).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.ready).Methods(http.MethodGet)
}

func (h *HTTPHandler) live(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *HTTPHandler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := h.checker.Ready(ctx); err != nil {
		if h.log != nil {
			h.log.WithError(err).Warn("readiness check failed")
		}
		_ = httpx.WriteJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}
