// Package server provides a local stand-in for the bulk rules search API. It
// serves rule trees from fixture files and answers searches over them.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/bulksearch/internal/config"
	"github.com/hyperjump/bulksearch/internal/models"
	"go.uber.org/zap"
)

// Server is the HTTP server for the stub search API.
type Server struct {
	catalog    *Catalog
	config     *config.ServerConfig
	logger     *zap.Logger
	accountKey string
	server     *http.Server

	mu     sync.Mutex
	jobs   map[string]*job // by link key
	lastID int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAccountKey makes every request carry accountSwitchKey=key; others get 403.
func WithAccountKey(key string) ServerOption {
	return func(s *Server) { s.accountKey = key }
}

// NewServer creates a server over catalog.
func NewServer(catalog *Catalog, cfg *config.ServerConfig, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		catalog: catalog,
		config:  cfg,
		logger:  logger,
		jobs:    make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAccountKey)
		r.Post(searchPath, s.handleSubmit)
		r.Get(searchPath+"/{id}", s.handleStatus)
		r.Get("/papi/v1/properties/{id}/versions/{version}/rules", s.handleRules(models.KindProperty))
		r.Get("/papi/v1/includes/{id}/versions/{version}/rules", s.handleRules(models.KindInclude))
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Mount("/", s.Handler())

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	hs := &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.mu.Lock()
	s.server = hs
	s.mu.Unlock()
	s.logger.Info("Starting stub search service", zap.String("addr", addr), zap.Int("entities", s.catalog.Len()))
	return hs.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	hs := s.server
	s.mu.Unlock()
	if hs != nil {
		return hs.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requireAccountKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.accountKey != "" && r.URL.Query().Get("accountSwitchKey") != s.accountKey {
			s.respondError(w, http.StatusForbidden, "account switch key missing or not permitted")
			return
		}
		next.ServeHTTP(w, r)
	})
}
