package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/platform/httpx"
	"distrack/backend/internal/platform/textutil"
	"distrack/backend/internal/security"
	"distrack/backend/internal/token/domain"
	"distrack/backend/internal/token/service"
)

// TokenResponse is the body returned whenever a token pair is issued.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// NewTokenResponse converts an issued pair to its wire form.
func NewTokenResponse(p *domain.Pair) TokenResponse {
	return TokenResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresIn: p.ExpiresIn}
}

type refreshRequest struct {
	DeviceID     string `json:"device_id"`
	RefreshToken string `json:"refresh_token"`
}

// Handler serves token endpoints.
type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

// NewHandler returns a token HTTP handler.
func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes registers token routes. The refresh token is the credential,
// so these routes need no bearer auth.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/auth/refresh", h.refresh).Methods(http.MethodPost)
}

// refresh handles POST /v1/auth/refresh
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httpx.ParseJSONOrError(w, r, &req) {
		return
	}
	pair, err := h.svc.Rotate(r.Context(), req.DeviceID, req.RefreshToken, ClientInfo(r))
	if err != nil {
		httpx.WriteErrorLogged(w, r, h.log, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, NewTokenResponse(pair))
}

// ClientInfo captures the hashed client IP and user agent of r.
func ClientInfo(r *http.Request) domain.ClientInfo {
	return domain.ClientInfo{
		IPHash:    security.HashIP(httpx.ClientIPFrom(r)),
		UserAgent: textutil.Clip(r.UserAgent(), 512),
	}
}
