// Package server exposes the star schema over HTTP: the cube descriptor for
// the analytical browser, the registry listings, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopylabs/datamart/pkg/datamart"
)

type Config struct {
	Logger  *slog.Logger
	Addr    string
	Model   *datamart.Model
	Manager *datamart.Manager
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Model == nil {
		return errors.New("model is required")
	}
	if cfg.Manager == nil {
		return errors.New("manager is required")
	}
	return nil
}

// Server is the HTTP server for the data mart.
type Server struct {
	log     *slog.Logger
	model   *datamart.Model
	manager *datamart.Manager
	router  *chi.Mux
	srv     *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log:     cfg.Logger,
		model:   cfg.Model,
		manager: cfg.Manager,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/cube-model", s.handleCubeModel)
		r.Get("/dimensions", s.handleListDimensions)
		r.Get("/dimensions/{name}/values", s.handleDimensionValues)
		r.Get("/fact-tables", s.handleListFactTables)
	})
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) handleCubeModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.model.CubeModel())
}

func (s *Server) handleListDimensions(w http.ResponseWriter, r *http.Request) {
	regs, err := s.manager.Registered(r.Context())
	if err != nil {
		s.log.Error("failed to list dimensions", "error", err)
		http.Error(w, "failed to list dimensions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, regs)
}

func (s *Server) handleDimensionValues(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, err := s.manager.Load(r.Context(), name)
	if err != nil {
		var notRegistered *datamart.NotRegisteredError
		if errors.As(err, &notRegistered) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.log.Error("failed to load dimension", "dimension", name, "error", err)
		http.Error(w, "failed to load dimension", http.StatusInternalServerError)
		return
	}

	frame, err := d.Values(r.Context(), s.manager.Store())
	if err != nil {
		s.log.Error("failed to read dimension values", "dimension", name, "error", err)
		http.Error(w, "failed to read dimension values", http.StatusInternalServerError)
		return
	}

	resp := struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}{Columns: frame.Columns()}
	for i := 0; i < frame.Len(); i++ {
		resp.Rows = append(resp.Rows, frame.Row(i))
	}
	writeJSON(w, resp)
}

func (s *Server) handleListFactTables(w http.ResponseWriter, r *http.Request) {
	regs, err := s.manager.FactTables(r.Context())
	if err != nil {
		s.log.Error("failed to list fact tables", "error", err)
		http.Error(w, "failed to list fact tables", http.StatusInternalServerError)
		return
	}
	writeJSON(w, regs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
