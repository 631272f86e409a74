package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/metrics"
)

// Server exposes health and Prometheus metrics while watch mode runs.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(addr string, health *HealthHandler, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Logger installs the request logger that RequestID and Recoverer enrich.
	r.Use(Logger(log))
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
