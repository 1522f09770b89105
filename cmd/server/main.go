package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outreachpro/outreach/internal/app"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/handler"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/middleware"
	"github.com/outreachpro/outreach/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting outreach server")

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	if a.Tokens == nil {
		log.Fatal().Msg("security.tokens.secret must be set to serve the API")
	}

	// Batches left active by a previous process will never finish
	if err := a.Dispatcher.RecoverStale(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to recover stale batches")
	}

	// Initialize handlers
	h := handler.New(a.DB, a.Redis, log, cfg, a.Accounts, a.Credits, a.Imports, a.Outreach, a.Dispatcher)

	// Initialize middleware
	mw := middleware.New(a.Redis, log, cfg)

	// Set up router
	if a.Webhooks == nil {
		log.Warn().Msg("security.webhook.secret is not set; payment webhook disabled")
	}
	r := router.New(h, mw, cfg, a.Tokens, a.Webhooks)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // a drafting run talks to the provider once per contact
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Running batches stop before their next send and are marked cancelled
	if err := a.Close(ctx); err != nil {
		log.Error().Err(err).Msg("failed to stop cleanly")
	}

	log.Info().Msg("server stopped")
}
