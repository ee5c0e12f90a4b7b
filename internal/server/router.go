// Package server assembles the HTTP surface: router, middleware chain, and
// the server lifecycle.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"jwt-session-auth/internal/server/handler"
	"jwt-session-auth/internal/server/middleware"
)

// Pinger reports backing-store health, typically *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps holds everything the router needs to serve requests.
type RouterDeps struct {
	AuthHandler *handler.AuthHandler
	Sessions    middleware.SessionGate
	Tokens      middleware.TokenValidator
	Users       middleware.UserLoader
	Logger      zerolog.Logger
	// PathPrefix is where the auth routes mount, e.g. "/api/auth".
	PathPrefix string
	// Registry is the prometheus registry for /metrics. If nil, metrics are
	// registered on a fresh registry that only this router serves.
	Registry *prometheus.Registry
	// DB is pinged by the health endpoint. If nil, the ping is skipped.
	DB Pinger
}

// NewRouter builds the chi router with the full middleware chain. Public
// routes (register, login) and protected routes (token, logout, refresh,
// verify-signature, user) mount under PathPrefix; /metrics and /healthz sit
// at the root.
func NewRouter(deps RouterDeps) *chi.Mux {
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := middleware.NewMetrics(registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Recover(deps.Logger))
	r.Use(metrics.Middleware)

	r.Route(deps.PathPrefix, func(r chi.Router) {
		r.Post("/register", deps.AuthHandler.Register)
		r.Post("/login", deps.AuthHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Sessions, deps.Tokens, deps.Users, deps.Logger))
			r.Get("/token", deps.AuthHandler.Token)
			r.Post("/logout", deps.AuthHandler.Logout)
			r.Post("/refresh", deps.AuthHandler.Refresh)
			r.Post("/verify-signature", deps.AuthHandler.VerifySignature)
			r.Get("/user", deps.AuthHandler.User)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", healthHandler(deps.DB))

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
