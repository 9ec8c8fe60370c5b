package repository

import (
	"context"

	"multi-entity-auth/backend/internal/audit/domain"
	"multi-entity-auth/backend/internal/db"
)

// PostgresRepository stores audit logs in the audit_logs table.
type PostgresRepository struct {
	pool db.Querier
}

// NewPostgresRepository returns an audit log repository that uses pool for persistence.
func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create persists a. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO audit_logs (id, auth_entity, identity_id, action, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.AuthEntity, db.NullIfEmpty(a.IdentityID), a.Action, db.NullIfEmpty(a.IP), meta, a.CreatedAt)
	return err
}

// ListByIdentity returns the newest audit logs of an identity first.
func (r *PostgresRepository) ListByIdentity(ctx context.Context, entity, identityID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, auth_entity, identity_id, action, ip, metadata, created_at
		FROM audit_logs WHERE auth_entity = $1 AND identity_id = $2 ORDER BY created_at DESC LIMIT $3`,
		entity, identityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a            domain.AuditLog
			identity, ip *string
		)
		if err := rows.Scan(&a.ID, &a.AuthEntity, &identity, &a.Action, &ip, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.IdentityID, a.IP = db.Deref(identity), db.Deref(ip)
		out = append(out, &a)
	}
	return out, rows.Err()
}
