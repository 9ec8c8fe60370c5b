// seed registers a verified development identity in every auth entity. Run via ./scripts/seed.sh.
// Idempotent: entities where dev@example.com already exists are skipped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"multi-entity-auth/backend/internal/app"
	"multi-entity-auth/backend/internal/autherr"
	"multi-entity-auth/backend/internal/config"
	"multi-entity-auth/backend/internal/entity"
	identityservice "multi-entity-auth/backend/internal/identity/service"
	"multi-entity-auth/backend/internal/logging"
)

const (
	devEmail    = "dev@example.com"
	devPassword = "DevPassw0rd!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.SetDefault("auth-seed", "dev", "text", "info").Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.SetDefault("auth-seed", "dev", "text", cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}
	if cfg.IsProduction() {
		log.Error("refusing to seed a production environment")
		os.Exit(1)
	}

	ctx := context.Background()
	for _, def := range entity.Builtin {
		if err := seedEntity(ctx, *cfg, def.Name); err != nil {
			log.Error("seed", "auth_entity", def.Name, "error", err)
			os.Exit(1)
		}
	}
	log.Info("seed completed")
	fmt.Printf("Dev login (every entity): %s / %s\n", devEmail, devPassword)
}

func seedEntity(ctx context.Context, cfg config.Config, name string) error {
	cfg.AuthEntity = name
	log := logging.SetDefault("auth-seed", "dev", "text", cfg.LogLevel).With("auth_entity", name)
	a, err := app.New(ctx, &cfg, app.Options{Log: log})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Auth.Register(ctx, identityservice.RegisterInput{
		Email:     devEmail,
		Password:  devPassword,
		FirstName: "Dev",
		LastName:  name,
	})
	if errors.Is(err, autherr.ErrEmailAlreadyRegistered) {
		log.Info("dev identity exists; skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.Entity.Repository.MarkEmailVerified(ctx, res.Identity.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("verify dev identity: %w", err)
	}
	log.Info("dev identity created", "identity_id", res.Identity.ID)
	return nil
}
