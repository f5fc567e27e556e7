package router

import (
	"net/http"

	"orders-service/internal/handler"
	"orders-service/internal/metrics"
	"orders-service/internal/middleware"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Options carries the collaborators the router wires into its middleware chain.
type Options struct {
	APIKey string

	// CORSOrigins restricts browser callers; empty allows any origin.
	CORSOrigins []string

	// Health backs GET /health. It may be nil.
	Health handler.Pinger

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Limiter enables per-caller rate limiting when set.
	Limiter        middleware.Limiter
	RateLimitLimit int
}

// New creates a new HTTP router with all routes and middleware configured.
func New(orderHandler *handler.OrderHandler, opts Options, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health(opts.Health, logger))
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(opts.Gatherer))
	}

	mux.HandleFunc("POST /api/orders", orderHandler.Create)
	mux.HandleFunc("GET /api/orders", orderHandler.List)
	mux.HandleFunc("GET /api/orders/{id}", orderHandler.GetByID)
	mux.HandleFunc("PATCH /api/orders/{id}/status", orderHandler.ChangeStatus)
	mux.HandleFunc("POST /api/orders/{id}/payment-session", orderHandler.CreatePaymentSession)

	// Outermost first: RequestID -> Recovery -> Observe -> CORS -> APIKeyAuth -> RateLimit
	var h http.Handler = mux
	if opts.Limiter != nil {
		h = middleware.RateLimit(opts.Limiter, opts.RateLimitLimit, logger)(h)
	}
	h = middleware.APIKeyAuth(opts.APIKey, logger)(h)
	h = middleware.CORS(opts.CORSOrigins)(h)
	h = middleware.Observe(opts.Metrics, logger)(h)
	h = middleware.Recovery(logger)(h)
	h = middleware.RequestID(h)

	return h
}
