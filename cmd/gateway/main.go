// Command gateway is the statistics-gateway HTTP server entry point:
// config -> logger -> Redis (optional) -> DB pool -> signature verifier ->
// router -> HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eidaws/statistics-gateway/config"
	"github.com/eidaws/statistics-gateway/internal/auth"
	"github.com/eidaws/statistics-gateway/internal/httpapi"
	"github.com/eidaws/statistics-gateway/internal/query"
	"github.com/eidaws/statistics-gateway/internal/restriction"
	"github.com/eidaws/statistics-gateway/internal/store"
	"github.com/eidaws/statistics-gateway/logger"
	"github.com/eidaws/statistics-gateway/redisclient"
	"github.com/eidaws/statistics-gateway/router"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("statistics gateway starting")

	var rc *redisclient.Client
	if cfg.RedisURL != "" {
		client, err := redisclient.New(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing without redis")
		} else if err := client.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed — continuing without redis")
		} else {
			rc = client
			log.Info().Msg("redis connected")
		}
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBConnTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	log.Info().Msg("database connected")

	var verifier auth.SignatureVerifier
	if cfg.SignedTokenTrustRoot != "" {
		v, err := auth.NewPGPVerifier(cfg.SignedTokenTrustRoot)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load signed-token trust root")
		}
		verifier = v
	} else {
		log.Warn().Msg("SIGNED_TOKEN_TRUST_ROOT unset — /dataselect/restricted and /dataselect/raw will reject every request")
		verifier = auth.RejectAllVerifier{}
	}

	resolver := restriction.New(db, rc, 30*time.Second)
	bearer := auth.NewBearerAuth(db, cfg.BearerHeader)
	signed := auth.NewSignedAuth(verifier, nil)
	executor := query.NewExecutor(db, resolver)

	api := httpapi.New(db, resolver, bearer, signed, executor, log, cfg.MaxBodyBytes)
	r := router.New(cfg, log, api)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gateway stopped gracefully")
	}
}
