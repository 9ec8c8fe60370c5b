package audit

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"multi-entity-auth/backend/internal/audit/domain"
	auditrepo "multi-entity-auth/backend/internal/audit/repository"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Logger persists events through the audit repository.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *slog.Logger
}

// NewLogger returns a Logger that persists to repo and uses ipExtractor for the client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log}
}

// Record writes one audit log entry. Failures are logged and not returned.
func (l *Logger) Record(ctx context.Context, e Event) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	meta := maps.Clone(e.Metadata)
	if e.SessionID != "" {
		if meta == nil {
			meta = map[string]string{}
		}
		meta["session_id"] = e.SessionID
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		AuthEntity: e.AuthEntity,
		IdentityID: e.IdentityID,
		Action:     e.Action,
		IP:         ip,
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WarnContext(ctx, "audit: failed to record event", "action", e.Action, "entity", e.AuthEntity, "error", err)
	}
}
