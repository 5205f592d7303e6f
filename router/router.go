// Package router wires the ambient middleware chain and the statistics
// endpoints onto a chi Router.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/eidaws/statistics-gateway/config"
	"github.com/eidaws/statistics-gateway/internal/httpapi"
	gwmw "github.com/eidaws/statistics-gateway/middleware"
)

// New returns a configured chi Router with the full middleware chain and
// every spec §6 endpoint mounted under cfg.StatsPrefix.
func New(cfg *config.Config, appLogger zerolog.Logger, api *httpapi.API) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(gwmw.CORSMiddleware([]string{"*"}))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	rateLimiter := gwmw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	timeoutMW := gwmw.NewTimeoutMiddleware(appLogger, cfg)
	r.Use(rateLimiter.Handler)
	r.Use(timeoutMW.Handler)

	// --- Ambient liveness probes (no DB, no auth) ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"statistics-gateway"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"statistics-gateway"}`))
	})

	// --- Stats API (spec §6 endpoint table) ---
	r.Route(cfg.StatsPrefix, func(r chi.Router) {
		r.Get("/_health", api.Health)
		r.Get("/_nodes", api.Nodes)
		r.Get("/_networks", api.Networks)
		r.Get("/_isRestricted", api.IsRestricted)
		r.Get("/node_restriction_policy", api.NodeRestrictionPolicy)
		r.Get("/network_restriction_policy", api.NetworkRestrictionPolicy)

		r.Get("/dataselect/public", api.Public)
		r.Post("/dataselect/restricted", api.Restricted)
		r.Post("/dataselect/raw", api.Raw)

		r.Post("/submit", api.Submit)
		r.Put("/submit", api.Submit)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 8 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request_too_large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
