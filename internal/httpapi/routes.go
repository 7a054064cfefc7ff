package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-engine/internal/auth"
	"github.com/DoyleJ11/duel-engine/internal/catalog"
	"github.com/DoyleJ11/duel-engine/internal/hub"
	"github.com/DoyleJ11/duel-engine/internal/ratelimit"
	"github.com/DoyleJ11/duel-engine/internal/ws"
)

type Deps struct {
	Hub      *hub.Hub
	Verifier *auth.Verifier
	// Catalog may be nil; then every card must carry its category.
	Catalog  catalog.Catalog
	Limiter  *ratelimit.Limiter
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	WS       ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d.WS.Hub = d.Hub
	d.WS.Verifier = d.Verifier
	d.WS.Logger = log

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	r.With(d.Limiter.Middleware("/ws")).Get("/ws", ws.Handler(d.WS))

	// Matchmaking
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(d.Verifier, auth.RoleMatchmaker, auth.RoleAdmin))
		r.With(d.Limiter.Middleware("/matches")).Post("/matches", CreateMatch(d.Hub, d.Catalog, log))
		r.Get("/matches/{id}", GetMatch(d.Hub))
	})

	// Admin
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(d.Verifier, auth.RoleAdmin))
		r.Post("/admin/matches/{id}/advance", AdvanceMatch(d.Hub, log))
	})
	return r
}
