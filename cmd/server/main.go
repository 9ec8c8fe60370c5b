package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"multi-entity-auth/backend/internal/app"
	"multi-entity-auth/backend/internal/config"
	"multi-entity-auth/backend/internal/health"
	identityhandler "multi-entity-auth/backend/internal/identity/handler"
	"multi-entity-auth/backend/internal/logging"
	"multi-entity-auth/backend/internal/server"
	"multi-entity-auth/backend/internal/server/interceptors"
	"multi-entity-auth/backend/internal/session/purge"
	telemetryotel "multi-entity-auth/backend/internal/telemetry/otel"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.SetDefault("auth-server", version, "text", "info").Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.SetDefault("auth-server", version, cfg.LogFormat, cfg.LogLevel).With("auth_entity", cfg.AuthEntity)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "auth-server",
		ServiceVersion: version,
		Insecure:       cfg.OTLPInsecure,
		Log:            log,
	})
	if err != nil {
		log.Error("telemetry", "error", err)
		os.Exit(1)
	}
	providers.SetGlobal()
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	a, err := app.New(ctx, cfg, app.Options{Log: log, Events: telemetryotel.NewEventEmitter(providers.LoggerProvider)})
	if err != nil {
		log.Error("startup", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	s, healthSrv := server.NewGRPCServer(server.Deps{
		Auth:     identityhandler.NewServer(a.Auth, a.Sessions, a.Outbox, log),
		Sessions: a.Sessions,
		Entity:   a.Entity.Name,
		Events:   a.Events,
		Limiter:  interceptors.NewLimiterRegistry(cfg.LoginRateLimit, cfg.LoginRateBurst),
		Log:      log,
	})

	var pinger health.Pinger
	if a.Pool != nil {
		pinger = a.Pool
	}
	go health.NewChecker(healthSrv, pinger, a.Policy, log, identityhandler.ServiceName).Run(ctx, health.DefaultInterval)
	go func() {
		if err := a.Metrics.Serve(ctx, cfg.MetricsAddr, log); err != nil {
			log.Error("metrics server", "error", err)
		}
	}()
	go func() { _ = purge.New(a.Sessions, cfg.PurgeInterval(), cfg.InactiveSessionRetentionDays, log).Run(ctx) }()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("listen", "error", err)
		os.Exit(1)
	}
	defer lis.Close()

	go func() {
		log.Info("gRPC server listening", "addr", cfg.GRPCAddr, "version", version)
		if err := s.Serve(lis); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error("serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gRPC server")
	s.GracefulStop()
	log.Info("gRPC server stopped")
}
