// Package app assembles the auth core for one auth entity from Config. The server, worker and seed
// binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"multi-entity-auth/backend/internal/audit"
	auditrepo "multi-entity-auth/backend/internal/audit/repository"
	"multi-entity-auth/backend/internal/config"
	"multi-entity-auth/backend/internal/db"
	"multi-entity-auth/backend/internal/devoutbox"
	"multi-entity-auth/backend/internal/entity"
	identityrepo "multi-entity-auth/backend/internal/identity/repository"
	identityservice "multi-entity-auth/backend/internal/identity/service"
	"multi-entity-auth/backend/internal/metrics"
	"multi-entity-auth/backend/internal/notify"
	policyengine "multi-entity-auth/backend/internal/policy/engine"
	"multi-entity-auth/backend/internal/security"
	"multi-entity-auth/backend/internal/server/interceptors"
	sessionrepo "multi-entity-auth/backend/internal/session/repository"
	sessionservice "multi-entity-auth/backend/internal/session/service"
)

// App holds the wired services. Close releases the database pool.
type App struct {
	Entity   *entity.Resolved
	Auth     *identityservice.AuthService
	Sessions *sessionservice.SessionService
	Tokens   *security.TokenProvider
	Policy   *policyengine.OPAEvaluator
	Metrics  *metrics.Metrics
	// Events fans out to the audit log and Options.Events.
	Events audit.Recorder
	// Outbox is nil unless DEV_OUTBOX is set.
	Outbox *devoutbox.MemoryStore
	// Pool is nil when DATABASE_URL is empty and the in-memory stores are used.
	Pool *pgxpool.Pool
}

// Options are the collaborators the caller provides.
type Options struct {
	Log *slog.Logger
	// Events receives security events in addition to the audit log.
	Events audit.Recorder
}

// New wires the services for cfg.AuthEntity. Configuration problems are returned as autherr
// ConfigurationErrors and are fatal for the caller.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	a := &App{Metrics: metrics.New()}

	var (
		sessionsRepo sessionrepo.Repository
		auditRepo    auditrepo.Repository
		factory      entity.RepositoryFactory
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.Pool = pool
		sessionsRepo = sessionrepo.NewPostgresRepository(pool)
		auditRepo = auditrepo.NewPostgresRepository(pool)
		factory = func(d entity.Definition) (identityrepo.Repository, error) {
			return identityrepo.NewPostgresRepository(pool, d.Name, d.Table)
		}
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		sessionsRepo = sessionrepo.NewMemoryRepository()
		auditRepo = auditrepo.NewMemoryRepository()
		factory = func(d entity.Definition) (identityrepo.Repository, error) {
			return identityrepo.NewMemoryRepository(d.Name), nil
		}
	}

	resolved, err := entity.NewResolver(factory).Resolve(cfg.AuthEntity)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Entity = resolved

	key, err := security.LoadSigningKey(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tokens, err = security.NewTokenProvider(key, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := loadPolicy(cfg.LoginPolicyFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Policy, err = policyengine.NewOPAEvaluator(ctx, policy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("login policy: %w", err)
	}

	events := audit.Multi(audit.NewLogger(auditRepo, interceptors.ClientIP, log), opts.Events)
	a.Events = events

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.DevOutbox {
		a.Outbox = devoutbox.NewMemoryStore(cfg.ResetTokenTTLValue(), cfg.VerificationCodeTTLValue())
		notifiers = append(notifiers, a.Outbox)
		log.Warn("dev outbox enabled; reset tokens and verification codes are readable over RPC")
	}

	a.Sessions = sessionservice.NewSessionService(sessionsRepo, a.Tokens,
		sessionservice.WithRecorder(events),
		sessionservice.WithMetrics(a.Metrics),
		sessionservice.WithLogger(log),
	)
	a.Auth = identityservice.NewAuthService(resolved, a.Sessions, security.NewHasher(cfg.BcryptCost),
		identityservice.Config{
			MaxLoginAttempts:    cfg.MaxLoginAttempts,
			LockDuration:        cfg.LockDurationValue(),
			ResetTokenTTL:       cfg.ResetTokenTTLValue(),
			VerificationCodeTTL: cfg.VerificationCodeTTLValue(),
			BcryptCost:          cfg.BcryptCost,
		},
		identityservice.WithPolicy(a.Policy),
		identityservice.WithNotifier(notifiers),
		identityservice.WithRecorder(events),
		identityservice.WithMetrics(a.Metrics),
		identityservice.WithLogger(log),
	)
	return a, nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

func loadPolicy(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return policyengine.DefaultLoginPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read LOGIN_POLICY_FILE: %w", err)
	}
	return string(b), nil
}
