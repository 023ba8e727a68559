package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	apiserver "github.com/wa-console/instance-manager/internal/api_server"
	"github.com/wa-console/instance-manager/internal/auth"
	"github.com/wa-console/instance-manager/internal/config"
	"github.com/wa-console/instance-manager/internal/gateway"
	"github.com/wa-console/instance-manager/internal/handlers"
	"github.com/wa-console/instance-manager/internal/healthcheck"
	"github.com/wa-console/instance-manager/internal/logging"
	"github.com/wa-console/instance-manager/internal/poller"
	"github.com/wa-console/instance-manager/internal/service"
	"github.com/wa-console/instance-manager/internal/store"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("instance manager stopped")
		os.Exit(1)
	}
	log.Info().Msg("shut down")
}

// run owns every resource so deferred cleanup happens before main exits.
// It returns when ctx is done or the server fails.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	// Initialize database
	db, err := store.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	dataStore := store.NewStore(db)
	defer dataStore.Close()

	// Gateway client and lifecycle
	client := gateway.NewClient(cfg.Gateway)
	defaults := gateway.EndpointsFromConfig(cfg.Gateway)

	polls := poller.New(cfg.Poll.Interval, cfg.Poll.Timeout)
	polls.OnFinish = func(id uuid.UUID, outcome poller.Outcome) {
		log.Debug().Str("instance_id", id.String()).Str("outcome", string(outcome)).Msg("status poll finished")
	}
	lifecycle := service.NewLifecycleService(dataStore, client, defaults, polls, cfg.Gateway.RestartDelay)
	defer lifecycle.Shutdown()

	handler := handlers.NewHandler(
		service.NewInstanceService(dataStore, client, defaults, lifecycle),
		lifecycle,
		service.NewIngestService(dataStore, lifecycle, cfg.Auth.WebhookSecret),
		service.NewWebhookService(dataStore),
		service.NewSendService(dataStore, client, defaults, cfg.Service.PublicBaseURL),
	)
	if cfg.Auth.WebhookSecret == "" {
		log.Warn().Msg("AUTH_WEBHOOK_SECRET is empty, status pushes are not authenticated")
	}

	listener, err := net.Listen("tcp", cfg.Service.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Service.Address, err)
	}

	var monitor *healthcheck.Monitor
	if cfg.HealthCheck.Enabled {
		monitor, err = healthcheck.NewMonitor(dataStore.Instance(), lifecycle, cfg.HealthCheck)
		if err != nil {
			listener.Close()
			return fmt.Errorf("create health check monitor: %w", err)
		}
	}
	srv := apiserver.New(cfg, listener, handler, auth.NewJWTVerifier(cfg.Auth.JWTSecret))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if monitor != nil {
		monitor.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			monitor.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
