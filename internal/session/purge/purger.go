// Package purge runs session garbage collection: expired sessions and long-inactive sessions are
// deleted by bulk predicate so the job can run alongside live traffic.
package purge

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval and DefaultRetentionDays apply when the configured values are not positive.
const (
	DefaultInterval      = time.Hour
	DefaultRetentionDays = 30
)

// Sessions is the part of the session service the purger drives.
type Sessions interface {
	PurgeExpired(ctx context.Context) (int64, error)
	PurgeInactive(ctx context.Context, daysOld int) (int64, error)
}

// Result is the outcome of one purge pass.
type Result struct {
	Expired  int64
	Inactive int64
}

// Purger deletes expired sessions and inactive sessions older than RetentionDays.
type Purger struct {
	sessions      Sessions
	interval      time.Duration
	retentionDays int
	log           *slog.Logger
}

// New returns a Purger. Non-positive interval or retentionDays fall back to the defaults.
func New(sessions Sessions, interval time.Duration, retentionDays int, log *slog.Logger) *Purger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if log == nil {
		log = slog.Default()
	}
	return &Purger{sessions: sessions, interval: interval, retentionDays: retentionDays, log: log}
}

// RunOnce performs a single pass. The inactive purge still runs when the expired purge fails;
// the first error is returned.
func (p *Purger) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var firstErr error
	n, err := p.sessions.PurgeExpired(ctx)
	if err != nil {
		firstErr = err
	} else {
		res.Expired = n
	}
	n, err = p.sessions.PurgeInactive(ctx, p.retentionDays)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		res.Inactive = n
	}
	return res, firstErr
}

// Run purges immediately and then on every tick until ctx is done. Errors are logged and the loop continues.
func (p *Purger) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.pass(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Purger) pass(ctx context.Context) {
	res, err := p.RunOnce(ctx)
	if err != nil {
		p.log.ErrorContext(ctx, "session purge failed", "error", err)
	}
	p.log.InfoContext(ctx, "session purge", "expired", res.Expired, "inactive", res.Inactive, "retention_days", p.retentionDays)
}
