package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/pricing-engine/pkg/health"
	"github.com/utafrali/pricing-engine/pkg/middleware"
)

const serviceName = "pricing-engine"

// RoleAdmin may apply and revert campaigns.
const RoleAdmin = "admin"

// RouterConfig holds the optional parts of the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	PprofAllowedCIDRs  []string
	// RateLimitRPS and RateLimitBurst bound each client on the pricing API.
	// Zero RPS disables the limit.
	RateLimitRPS   float64
	RateLimitBurst int
	// TokenValidator guards apply and revert. Nil leaves them open.
	TokenValidator middleware.TokenValidator
}

// NewRouter creates a chi router with the pricing routes registered.
func NewRouter(svc CampaignService, healthHandler *health.Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins...)))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	h := NewPricingHandler(svc, logger)

	r.Route("/api/v1/pricing", func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
		}
		r.Use(middleware.ContentTypeJSON)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestLogger(logger))

			r.Post("/campaigns/simulate", h.Simulate)
			r.Get("/campaigns/active", h.Active)
			r.Get("/campaigns/history", h.History)
			r.Get("/campaigns/history/{id}", h.GetHistory)
			r.Get("/financials", h.Financials)
		})

		r.Group(func(r chi.Router) {
			if cfg.TokenValidator != nil {
				r.Use(middleware.Auth(cfg.TokenValidator))
				r.Use(middleware.RequireRole(RoleAdmin))
			}
			r.Use(middleware.RequestLogger(logger))

			r.Post("/campaigns/apply", h.Apply)
			r.Post("/campaigns/revert", h.Revert)
		})
	})

	return r
}
