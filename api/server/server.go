package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/rewards/api/handlers"
	"github.com/malbeclabs/rewards/api/metrics"
)

type Server struct {
	log        *slog.Logger
	cfg        Config
	httpSrv    *http.Server
	metricsSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h, err := handlers.New(cfg.HandlersConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}

	s := &Server{
		log: cfg.HandlersConfig.Logger,
		cfg: cfg,
	}

	r := chi.NewRouter()
	r.Get("/version", s.versionHandler)
	r.Mount("/", h.Router())

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
	}

	metrics.BuildInfo.WithLabelValues(cfg.VersionInfo.Version, cfg.VersionInfo.Commit, cfg.VersionInfo.Date).Set(1)
	return s, nil
}

// Handler returns the API handler, for serving without Run.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled or a listener fails, then shuts every listener down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	servers := []*http.Server{s.httpSrv}
	if s.metricsSrv != nil {
		servers = append(servers, s.metricsSrv)
	}

	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, ln)
	}

	for i, srv := range servers {
		ln := listeners[i]
		s.log.Info("server: http listening", "address", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("server: http server error causing shutdown", "error", err, "address", srv.Addr)
				return fmt.Errorf("failed to serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("server: stopping", "reason", context.Cause(gctx))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", srv.Addr, err))
			}
		}
		if len(errs) == 0 {
			s.log.Info("server: http server shutdown complete")
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("failed to write version response", "error", err)
	}
}
