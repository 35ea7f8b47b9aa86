// Package middleware provides net/http middleware for the observe server.
//
// This package includes:
//   - OpenTelemetry tracing middleware
//   - Prometheus metrics middleware
//
// Both are plain func(http.Handler) http.Handler values and mount on any
// chi router:
//
//	r := chi.NewRouter()
//	r.Use(middleware.Tracing())
//	r.Use(middleware.NewMetrics().Handler)
//
// # OpenTelemetry Middleware
//
// Tracing starts a server span per request, continuing the caller's trace
// when the request carries one. Spans are named "HTTP <method> <route>":
//
//	middleware.Tracing(
//	    middleware.WithTracerName("my-app"),
//	    middleware.WithFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    }),
//	)
//
// # Prometheus Metrics
//
// NewMetrics registers:
//   - observe_http_requests_total: requests by route, method and status
//   - observe_http_request_duration_seconds: request duration by route
//   - observe_http_upgrades_total: WebSocket upgrades by route
//   - observe_http_requests_in_flight: requests currently being served
//
// WebSocket connections are counted once as an upgrade; their lifetime is
// not recorded as request duration.
package middleware
