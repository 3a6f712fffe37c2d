// Package server wires handlers, middleware, and routes, and owns the HTTP
// server lifecycle. This is the composition root: every dependency is
// constructed here and injected downward, so no other package reaches for
// globals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/gitlink/internal/auth"
	"github.com/sakif/gitlink/internal/config"
	"github.com/sakif/gitlink/internal/github"
	"github.com/sakif/gitlink/internal/handler"
	"github.com/sakif/gitlink/internal/middleware"
	sqliteRepo "github.com/sakif/gitlink/internal/repository/sqlite"
	"github.com/sakif/gitlink/internal/service"
	"github.com/sakif/gitlink/internal/session"
)

// oauthWindow bounds how long a pending OAuth context stays valid — the time
// a user gets to click through GitHub's installation UI.
const oauthWindow = 10 * time.Minute

// Server holds the router and the resources it owns. The database connection
// is closed during graceful shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the dependency chain:
//
//	sqlite.DB → LinkService ← github.Client, session.Manager
//	                 ↓
//	           LinkHandler → routes
//
// The service receives interfaces (CredentialRepository, Provider), never the
// concrete sqlite or HTTP types.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures middleware and the route table.
//
// ROUTE STRUCTURE:
//
//	GET    /api/health      → liveness probe (public)
//	GET    /github/callback → OAuth callback (public — GitHub calls it)
//	GET    /github/install  → start linking (auth)
//	DELETE /github/install  → unlink (auth)
//	GET    /api/repos       → list linked repositories (auth)
//
// The callback cannot require auth: the browser arrives from GitHub, and the
// flow recovers the initiating user from the session's pending context — not
// from whoever presents the callback.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	sessions := session.NewManager(s.config.StateNamespace, oauthWindow)
	provider := github.NewClient(s.config.GitHubClientID, s.config.GitHubClientSecret)

	linkService := service.NewLinkService(s.db, provider, sessions, s.config.GitHubAppSlug, s.logger)
	linkHandler := handler.NewLinkHandler(linkService, s.config.DemoMode, s.logger)

	s.router.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// GitHub redirects the browser here after the installation UI.
	s.router.Get("/github/callback", linkHandler.HandleCallback)

	// Authenticated surface.
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/github/install", linkHandler.HandleInstall)
		r.Delete("/github/install", linkHandler.HandleUninstall)
		r.Get("/api/repos", linkHandler.HandleListRepos)
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, drain in-flight requests (30s),
// close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.Bool("demoMode", s.config.DemoMode),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
