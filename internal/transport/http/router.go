// Package httptransport wires the gateway's HTTP surface: the free
// operational endpoints, the dashboard feed and the payment-gated data
// routes.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qguard/internal/analytics"
	"qguard/internal/cache"
	"qguard/internal/chain"
	"qguard/internal/gas"
	"qguard/internal/mempool"
	"qguard/internal/payment"
	"qguard/internal/platform/middleware"
	"qguard/internal/ratelimit"
)

// Handler carries every dependency the HTTP surface needs. Construct it in
// main, call Router once.
type Handler struct {
	log       *slog.Logger
	cache     *cache.Tiered
	chain     chain.Reader
	gas       *gas.Engine
	monitor   *mempool.Monitor // nil when no ws endpoint is configured
	detector  *mempool.Detector
	analytics *analytics.Service
	pay       *payment.Middleware
	limiter   *ratelimit.Limiter
	upgrader  websocket.Upgrader

	version       string
	gasPriceCents int64
	mevPriceCents int64
}

type Deps struct {
	Log       *slog.Logger
	Cache     *cache.Tiered
	Chain     chain.Reader
	Gas       *gas.Engine
	Monitor   *mempool.Monitor
	Detector  *mempool.Detector
	Analytics *analytics.Service
	Payment   *payment.Middleware
	Limiter   *ratelimit.Limiter

	Version       string
	GasPriceCents int64
	MEVPriceCents int64
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		log:       d.Log,
		cache:     d.Cache,
		chain:     d.Chain,
		gas:       d.Gas,
		monitor:   d.Monitor,
		detector:  d.Detector,
		analytics: d.Analytics,
		pay:       d.Payment,
		limiter:   d.Limiter,
		// The dashboard is a public read-only feed; origin checks add
		// nothing here.
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		version:       d.Version,
		gasPriceCents: d.GasPriceCents,
		mevPriceCents: d.MEVPriceCents,
	}
}

// Router assembles the route tree. The websocket route sits outside the
// logging middleware: its response-writer wrapper does not expose
// http.Hijacker, which the upgrade needs.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.log))

	r.Get("/ws/dashboard", h.handleDashboard)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger(h.log))

		r.Get("/health", h.handleHealth)
		r.Get("/stats", h.handleStats)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())

		r.Group(func(r chi.Router) {
			r.Use(h.limiter.Middleware)
			r.Use(payment.Identity)

			r.With(h.pay.Require(h.gasPriceCents)).
				Get("/api/gas/prediction", h.handleGasPrediction)
			r.With(h.pay.Require(h.mevPriceCents)).
				Get("/api/mev/opportunities", h.handleMEVOpportunities)
		})
	})

	return r
}
