// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package httpapi serves the remote side of point synchronization: the
// sync ingest and point query endpoints backed by the envelope store.
// Envelopes arrive and leave encrypted; this package never holds a key.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lifemap-app/lifemap/internal/logging"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr string

	// RateLimitRequests per RateLimitWindow, keyed by authenticated user.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig mirrors the sync endpoint's published limits:
// 10 requests per user per minute.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              ":8420",
		RateLimitRequests: 10,
		RateLimitWindow:   time.Minute,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server is the remote sync HTTP server. It implements suture.Service so
// the supervisor owns its lifecycle.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	tokens  *TokenManager
}

// NewServer assembles the server from its parts.
func NewServer(cfg ServerConfig, handler *Handler, tokens *TokenManager) *Server {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 10
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Server{cfg: cfg, handler: handler, tokens: tokens}
}

// Routes builds the router. Split out so tests can drive the handler
// stack through httptest without binding a socket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogging)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/location", func(r chi.Router) {
		r.Use(s.tokens.Authenticate)
		r.Use(s.rateLimit())

		r.Post("/sync", s.handler.Sync)
		r.Get("/points", s.handler.Points)
	})

	return r
}

// rateLimit keys on the authenticated user so one aggressive client
// cannot exhaust another user's budget. Authenticate runs first, so the
// context always carries a user id here.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.cfg.RateLimitRequests,
		s.cfg.RateLimitWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id, ok := UserIDFromContext(r.Context()); ok {
				return id, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

// Serve runs the HTTP server until ctx is canceled, then drains it.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown forced")
		return srv.Close()
	}
	logging.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) String() string { return "httpapi-server" }

// requestLogging emits one debug line per request with method, path,
// status, and latency.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
