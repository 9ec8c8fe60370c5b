// Worker purges expired sessions and inactive sessions past INACTIVE_SESSION_RETENTION_DAYS on
// SESSION_PURGE_INTERVAL. Use -once for a single pass (e.g. from cron).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"multi-entity-auth/backend/internal/app"
	"multi-entity-auth/backend/internal/config"
	"multi-entity-auth/backend/internal/logging"
	"multi-entity-auth/backend/internal/session/purge"
)

var version = "dev"

func main() {
	once := flag.Bool("once", false, "run a single purge pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.SetDefault("auth-worker", version, "text", "info").Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.SetDefault("auth-worker", version, cfg.LogFormat, cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		log.Error("worker: DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Log: log})
	if err != nil {
		log.Error("startup", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	p := purge.New(a.Sessions, cfg.PurgeInterval(), cfg.InactiveSessionRetentionDays, log)
	if *once {
		res, err := p.RunOnce(ctx)
		if err != nil {
			log.Error("purge", "error", err)
			os.Exit(1)
		}
		log.Info("purge complete", "expired", res.Expired, "inactive", res.Inactive)
		return
	}

	log.Info("worker started", "interval", cfg.PurgeInterval().String(), "retention_days", cfg.InactiveSessionRetentionDays)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("purge loop", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
