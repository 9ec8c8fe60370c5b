// Package health drives the standard gRPC health service from dependency probes.
package health

import (
	"context"
	"log/slog"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultInterval is how often Run probes dependencies.
const DefaultInterval = 15 * time.Second

// Pinger is a database handle (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker is the login admission policy (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker marks services SERVING while every configured probe succeeds.
type Checker struct {
	server   *grpchealth.Server
	services []string
	db       Pinger
	policy   PolicyChecker
	timeout  time.Duration
	log      *slog.Logger
}

// NewChecker returns a checker updating server for services. db and policy may be nil.
func NewChecker(server *grpchealth.Server, db Pinger, policy PolicyChecker, log *slog.Logger, services ...string) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		server:   server,
		services: append([]string{""}, services...),
		db:       db,
		policy:   policy,
		timeout:  5 * time.Second,
		log:      log,
	}
}

// Check probes once and publishes the result.
func (c *Checker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if c.db != nil {
		if err := c.db.Ping(ctx); err != nil {
			c.log.WarnContext(ctx, "health: database ping failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			c.log.WarnContext(ctx, "health: policy check failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	for _, svc := range c.services {
		c.server.SetServingStatus(svc, st)
	}
	return st
}

// Run checks immediately and then every interval until ctx is done, then marks everything NOT_SERVING.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}
