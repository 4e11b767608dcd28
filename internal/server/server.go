// Package server exposes the control plane's HTTP surface: SQL batch
// submission and polling, cache scans, the synchronous Redis command
// fan-out, health and metrics. All policy checks run here, before an
// execution record exists; executors only ever see approved work.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/execstore"
	"github.com/giantswarm/dbfleet/internal/kvscan"
	"github.com/giantswarm/dbfleet/internal/logging"
	"github.com/giantswarm/dbfleet/internal/sqlexec"
)

const shutdownGrace = 15 * time.Second

// Server wires the HTTP surface over the executors and stores.
type Server struct {
	cfg      *config.CloudConfig
	settings config.Settings
	store    execstore.Store
	active   *execstore.ActiveClients
	sqlExec  *sqlexec.Executor
	kvExec   *kvscan.Executor
	kvRunner KVRunner
	auth     Authenticator
	verifier PasswordVerifier
	logger   *slog.Logger
}

// Options collects the server dependencies.
type Options struct {
	Config   *config.CloudConfig
	Settings config.Settings
	Store    execstore.Store
	Active   *execstore.ActiveClients
	SQLExec  *sqlexec.Executor
	KVExec   *kvscan.Executor
	KVRunner KVRunner
	Auth     Authenticator
	Verifier PasswordVerifier
	Logger   *slog.Logger
}

// New builds the server. Auth defaults to the header authenticator.
func New(opts Options) *Server {
	if opts.Auth == nil {
		opts.Auth = HeaderAuthenticator{}
	}
	return &Server{
		cfg:      opts.Config,
		settings: opts.Settings,
		store:    opts.Store,
		active:   opts.Active,
		sqlExec:  opts.SQLExec,
		kvExec:   opts.KVExec,
		kvRunner: opts.KVRunner,
		auth:     opts.Auth,
		verifier: opts.Verifier,
		logger:   logging.WithOperation(opts.Logger, "http"),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", HeaderUser, HeaderRole},
		AllowCredentials: true,
	}))
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Route("/query", func(r chi.Router) {
			r.Post("/execute", s.handleQueryExecute)
			r.Get("/status/{id}", s.handleQueryStatus)
			r.Post("/cancel/{id}", s.handleQueryCancel)
			r.Get("/active", s.handleQueryActive)
			r.Post("/validate", s.handleQueryValidate)
		})
		r.Route("/redis", func(r chi.Router) {
			r.Post("/execute", s.handleRedisExecute)
			r.Post("/scan", s.handleRedisScan)
			r.Get("/scan/{id}", s.handleScanStatus)
			r.Post("/scan/{id}/cancel", s.handleScanCancel)
		})
	})
	return r
}

// ListenAndServe serves until the context is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
