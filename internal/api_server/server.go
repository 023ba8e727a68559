package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	v1 "github.com/wa-console/instance-manager/api/v1"
	"github.com/wa-console/instance-manager/internal/auth"
	"github.com/wa-console/instance-manager/internal/config"
	"github.com/wa-console/instance-manager/internal/handlers"
)

const gracefulShutdownTimeout = 5 * time.Second

type Server struct {
	cfg      *config.Config
	listener net.Listener
	handler  *handlers.Handler
	verifier auth.Verifier
}

func New(cfg *config.Config, listener net.Listener, handler *handlers.Handler, verifier auth.Verifier) *Server {
	return &Server{
		cfg:      cfg,
		listener: listener,
		handler:  handler,
		verifier: verifier,
	}
}

// NewRouter builds the HTTP routes. The API is mounted under the base URL
// declared by the OpenAPI document.
func NewRouter(handler *handlers.Handler, verifier auth.Verifier) (http.Handler, error) {
	swagger, err := v1.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI spec: %w", err)
	}
	if len(swagger.Servers) == 0 {
		return nil, fmt.Errorf("OpenAPI spec missing servers configuration")
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(accessLog)
	router.Use(middleware.Recoverer)

	router.Get("/health", handler.GetHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(v1.Document())
	})

	router.Route(swagger.Servers[0].URL, func(r chi.Router) {
		handler.Mount(r, verifier)
	})
	return router, nil
}

func (s *Server) Run(ctx context.Context) error {
	router, err := NewRouter(s.handler, s.verifier)
	if err != nil {
		return err
	}

	srv := http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
	}()

	log.Info().Str("address", s.listener.Addr().String()).Msg("starting API server")
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
