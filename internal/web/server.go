package web

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/store"
	api "github.com/nestauk/asf-core-data/internal/web/handlers"
	"github.com/nestauk/asf-core-data/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     Config
	store      store.Store
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
}

// NewServer creates a new web server instance over a store
func NewServer(config Config, st store.Store) *Server {
	server := &Server{
		config: config,
		store:  st,
	}

	// Setup routes
	server.setupRoutes()

	// Create HTTP server
	server.httpServer = &http.Server{
		Addr:         config.Addr(),
		Handler:      server.handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server
}

// Handler exposes the routed handler with its middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	runsHandler := &api.RunsHandler{Store: s.store}

	// API routes
	apiRouter := s.router.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/health", runsHandler.Health).Methods("GET")
	apiRouter.HandleFunc("/runs", runsHandler.ListRuns).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", runsHandler.GetRun).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/matches", runsHandler.ListMatches).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/properties/{uprn}", runsHandler.GetProperty).Methods("GET")

	// Apply middleware
	s.router.Use(middleware.RequestLogging())
	apiRouter.Use(middleware.Authentication(s.config.APIKey))

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-API-Key"}),
	)
	s.handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(cors(s.router))
}

// Start serves until ctx is cancelled or the process is interrupted
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("web: starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return eris.Wrap(err, "web: serve")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("web: shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "web: shutdown")
	}

	zap.L().Info("web: server stopped")
	return nil
}
