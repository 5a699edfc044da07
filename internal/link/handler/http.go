package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/link/service"
	"distrack/backend/internal/platform/apperr"
	"distrack/backend/internal/platform/httpx"
	"distrack/backend/internal/server/middleware"
	tokenhandler "distrack/backend/internal/token/handler"
)

type startRequest struct {
	DeviceID string `json:"device_id"`
}

type startResponse struct {
	Code      string `json:"code"`
	PollToken string `json:"poll_token"`
	ExpiresIn int64  `json:"expires_in"`
}

type claimRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

type claimResponse struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"device_id"`
}

type finishRequest struct {
	DeviceID  string `json:"device_id"`
	PollToken string `json:"poll_token"`
}

type pendingResponse struct {
	Status string `json:"status"`
}

// Handler serves the device link endpoints.
type Handler struct {
	svc  *service.Service
	auth func(http.Handler) http.Handler
	log  *logrus.Logger
}

// NewHandler returns a link HTTP handler. claimAuth authenticates the web
// caller of the claim route and must store a middleware.WebCaller in the context.
func NewHandler(svc *service.Service, claimAuth func(http.Handler) http.Handler, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, auth: claimAuth, log: log}
}

// RegisterRoutes registers link routes. Start and finish are unauthenticated;
// the poll token is the credential for finish.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/link/start", h.start).Methods(http.MethodPost)
	router.Handle("/v1/link/claim", h.auth(http.HandlerFunc(h.claim))).Methods(http.MethodPost)
	router.HandleFunc("/v1/link/finish", h.finish).Methods(http.MethodPost)
}

// start handles POST /v1/link/start
func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !httpx.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Start(r.Context(), req.DeviceID, tokenhandler.ClientInfo(r))
	if err != nil {
		httpx.WriteErrorLogged(w, r, h.log, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, startResponse{Code: res.Code, PollToken: res.PollToken, ExpiresIn: res.ExpiresIn})
}

// claim handles POST /v1/link/claim
func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !httpx.ParseJSONOrError(w, r, &req) {
		return
	}
	caller, ok := middleware.GetWebCaller(r.Context())
	if !ok {
		httpx.WriteErrorMessage(w, apperr.Unauthorized, "missing or invalid authorization")
		return
	}
	userID := req.UserID
	if !caller.ViaAPIKey {
		if userID != "" && userID != caller.UserID {
			httpx.WriteErrorMessage(w, apperr.Forbidden, "user_id does not match the signed-in user")
			return
		}
		userID = caller.UserID
	}
	deviceID, err := h.svc.Claim(r.Context(), req.Code, userID, tokenhandler.ClientInfo(r))
	if err != nil {
		var locked *service.LockedError
		if errors.As(err, &locked) {
			httpx.WriteTooManyRequests(w, apperr.Message(err), locked.RetryAfter)
			return
		}
		httpx.WriteErrorLogged(w, r, h.log, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, claimResponse{Success: true, DeviceID: deviceID})
}

// finish handles POST /v1/link/finish
func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if !httpx.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Finish(r.Context(), req.DeviceID, req.PollToken, tokenhandler.ClientInfo(r))
	if err != nil {
		httpx.WriteErrorLogged(w, r, h.log, err)
		return
	}
	if res.Pending {
		_ = httpx.WriteJSON(w, http.StatusAccepted, pendingResponse{Status: "pending"})
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, tokenhandler.NewTokenResponse(res.Pair))
}
