// Package api exposes wallet provisioning and transfer history over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"wallet-engine/internal/config"
	"wallet-engine/internal/health"
)

// NewRouter creates the chi router with the wallet routes.
func NewRouter(h *Handler, cfg config.ServerConfig, logger *zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(*logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)

	r.Group(func(r chi.Router) {
		r.Use(UserIDMiddleware)

		r.Post("/wallet", h.handleProvisionWallet)
		r.Get("/wallet", h.handleGetWallet)
		r.Get("/wallet/balance", h.handleGetBalance)
		r.Get("/wallet/transactions", h.handleGetTransactions)
		r.Post("/wallet/transactions", h.handleGetTransactions)
	})

	return r
}
