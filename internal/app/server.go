package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/docindex/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/docindex/internal/api/middlewares"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	app        *App
}

// NewServer builds and wires all routes.
func NewServer(a *App) *Server {
	return &Server{
		app: a,
		httpServer: &http.Server{
			Addr:              ":" + a.Config.Port,
			Handler:           NewRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter exposes the API of a under /api plus the probes and /metrics.
func NewRouter(a *App) http.Handler {
	docHandler := handlers.NewDocumentHandler(a.Documents)
	searchHandler := handlers.NewSearchHandler(a.Search)
	pingers := []handlers.Pinger{a.Store}
	if p, ok := a.Objects.(handlers.Pinger); ok {
		pingers = append(pingers, p)
	}
	healthHandler := handlers.NewHealthHandler(pingers...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(a.Logger, a.Metrics))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Location", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler.Health)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))

		api.Post("/documents", docHandler.UploadDocument)
		api.Get("/documents", docHandler.GetDocuments)
		api.Get("/documents/{id}", docHandler.GetDocument)
		api.Delete("/documents/{id}", docHandler.DeleteDocument)
		api.Get("/documents/{id}/status", docHandler.GetStatus)
		api.Post("/documents/{id}/cancel", docHandler.CancelDocument)

		api.Post("/search", searchHandler.Search)
	})
	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.app.Logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Serve resumes interrupted ingestion jobs in the background and serves HTTP
// until ctx is canceled. Shutdown stops accepting requests first and then
// drains the ingestion queue within shutdownTimeout.
func Serve(ctx context.Context, a *App, shutdownTimeout time.Duration) error {
	go func() {
		n, err := a.Runner.Resume(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			a.Logger.Error("resume failed", "resumed", n, "error", err)
		case n > 0:
			a.Logger.Info("resumed interrupted ingestions", "count", n)
		}
	}()

	srv := NewServer(a)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("http shutdown", "error", err)
	}
	if err := a.Runner.Close(shutdownCtx); err != nil {
		a.Logger.Warn("ingestion jobs left for resume", "error", err)
	}
	return nil
}
