// Package server assembles the HTTP surface: middleware chain and route registration.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	sessionhandler "distrack/backend/internal/codingsession/handler"
	devicehandler "distrack/backend/internal/device/handler"
	healthhandler "distrack/backend/internal/health/handler"
	linkhandler "distrack/backend/internal/link/handler"
	"distrack/backend/internal/metrics"
	"distrack/backend/internal/platform/apperr"
	"distrack/backend/internal/platform/httpx"
	"distrack/backend/internal/server/middleware"
	tokenhandler "distrack/backend/internal/token/handler"
)

// Deps holds the route handlers and cross-cutting collaborators. A nil handler
// leaves its routes unregistered.
type Deps struct {
	Link     *linkhandler.Handler
	Token    *tokenhandler.Handler
	Sessions *sessionhandler.Handler
	Devices  *devicehandler.Handler
	Health   *healthhandler.HTTPHandler
	// Metrics instruments every request; MetricsHandler serves /metrics.
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	// TrustProxyHeaders honours X-Forwarded-For and X-Real-IP for client IPs.
	TrustProxyHeaders bool
	// Tracing wraps the router with otelhttp spans.
	Tracing bool
	Log     *logrus.Logger
}

// NewRouter returns the HTTP handler for the API.
//
// Route → handler mapping:
//   - POST /v1/link/start, /v1/link/claim, /v1/link/finish → internal/link/handler
//   - POST /v1/auth/refresh                                → internal/token/handler
//   - POST /v1/sessions                                    → internal/codingsession/handler
//   - GET  /v1/devices                                     → internal/device/handler
//   - GET  /healthz, /readyz                               → internal/health/handler
//   - GET  /metrics                                        → internal/metrics
func NewRouter(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	router := mux.NewRouter()
	router.Use(
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logging(log),
		httpx.ClientIPMiddleware(deps.TrustProxyHeaders),
		deps.Metrics.Middleware,
	)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteErrorMessage(w, apperr.NotFound, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusMethodNotAllowed, httpx.ErrorResponse{Error: "method not allowed", Code: "method_not_allowed"})
	})

	if deps.Link != nil {
		deps.Link.RegisterRoutes(router)
	}
	if deps.Token != nil {
		deps.Token.RegisterRoutes(router)
	}
	if deps.Sessions != nil {
		deps.Sessions.RegisterRoutes(router)
	}
	if deps.Devices != nil {
		deps.Devices.RegisterRoutes(router)
	}
	if deps.Health != nil {
		deps.Health.RegisterRoutes(router)
	}
	if deps.MetricsHandler != nil {
		router.Handle("/metrics", deps.MetricsHandler).Methods(http.MethodGet)
	}

	if !deps.Tracing {
		return router
	}
	return otelhttp.NewHandler(router, "distrack.http",
		// Every route is a static path.
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
