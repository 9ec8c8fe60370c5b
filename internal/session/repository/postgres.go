package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"multi-entity-auth/backend/internal/db"
	"multi-entity-auth/backend/internal/security"
	"multi-entity-auth/backend/internal/session/domain"
)

const sessionColumns = `id, identity_id, email, auth_entity, role, access_token_hash, refresh_token_hash,
	access_token_expires_at, refresh_token_expires_at, expires_at, active, last_activity_at, deactivated_at,
	device_name, device_type, ip_address, user_agent, metadata, created_at, updated_at`

// PostgresRepository is the session store on the sessions table.
type PostgresRepository struct {
	pool db.Querier
}

// NewPostgresRepository returns a session repository that uses pool for persistence.
func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts s. ID and token digests must be set by the caller.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.IdentityID, s.Email, s.AuthEntity, s.Role, s.AccessTokenHash, s.RefreshTokenHash,
		s.AccessExpiresAt, s.RefreshExpiresAt, s.ExpiresAt, s.IsActive(), s.LastActivityAt, s.DeactivatedAt,
		db.NullIfEmpty(s.Device.Name), db.NullIfEmpty(s.Device.Type), db.NullIfEmpty(s.Device.IP),
		db.NullIfEmpty(s.Device.UserAgent), metadata, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

func (r *PostgresRepository) FindActiveByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND active`, id)
}

// FindActiveByEmailAndEntity returns the most recent active session of the pair.
func (r *PostgresRepository) FindActiveByEmailAndEntity(ctx context.Context, email, entity string) (*domain.Session, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE email = $1 AND auth_entity = $2 AND active ORDER BY created_at DESC LIMIT 1`, email, entity)
}

func (r *PostgresRepository) FindByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	if refreshToken == "" {
		return nil, nil
	}
	return r.one(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`,
		security.HashToken(refreshToken))
}

func (r *PostgresRepository) ListActiveByIdentity(ctx context.Context, identityID, entity string) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE identity_id = $1 AND auth_entity = $2 AND active ORDER BY last_activity_at DESC`, identityID, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeactivateAllForEmailInEntity(ctx context.Context, email, entity string, now time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE sessions SET active = FALSE, deactivated_at = $3, last_activity_at = $3, updated_at = $3
		WHERE email = $1 AND auth_entity = $2 AND active`, email, entity, now)
}

func (r *PostgresRepository) DeactivateOthersForEmailInEntity(ctx context.Context, email, entity, keepID string, now time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE sessions SET active = FALSE, deactivated_at = $4, last_activity_at = $4, updated_at = $4
		WHERE email = $1 AND auth_entity = $2 AND id <> $3 AND active`, email, entity, keepID, now)
}

func (r *PostgresRepository) DeactivateAllForEmail(ctx context.Context, email string, now time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE sessions SET active = FALSE, deactivated_at = $2, last_activity_at = $2, updated_at = $2
		WHERE email = $1 AND active`, email, now)
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string, now time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE sessions SET active = FALSE, deactivated_at = $2, last_activity_at = $2, updated_at = $2
		WHERE id = $1 AND active`, id, now)
}

// UpdateTokens only touches active sessions, so an inactive session can never be revived by a rotation.
func (r *PostgresRepository) UpdateTokens(ctx context.Context, id string, u TokenUpdate, now time.Time) (int64, error) {
	var refreshExp *time.Time
	if !u.RefreshExpiresAt.IsZero() {
		refreshExp = &u.RefreshExpiresAt
	}
	return r.exec(ctx, `UPDATE sessions SET
		access_token_hash = $2,
		access_token_expires_at = $3,
		refresh_token_hash = COALESCE($4, refresh_token_hash),
		refresh_token_expires_at = COALESCE($5, refresh_token_expires_at),
		expires_at = COALESCE($5, expires_at),
		last_activity_at = $6,
		updated_at = $6
		WHERE id = $1 AND active`,
		id, u.AccessHash, u.AccessExpiresAt, db.NullIfEmpty(u.RefreshHash), refreshExp, now)
}

func (r *PostgresRepository) UpdateActivity(ctx context.Context, id, ip, userAgent string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_activity_at = $2, updated_at = $2,
		ip_address = COALESCE($3, ip_address), user_agent = COALESCE($4, user_agent)
		WHERE id = $1`, id, now, db.NullIfEmpty(ip), db.NullIfEmpty(userAgent))
	return err
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
}

func (r *PostgresRepository) PurgeInactiveOlderThan(ctx context.Context, days int, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE NOT active AND updated_at < $1`, inactiveCutoff(days, now))
}

func (r *PostgresRepository) CountActiveByEntity(ctx context.Context, entity string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE auth_entity = $1 AND active`, entity).Scan(&n)
	return n, err
}

func (r *PostgresRepository) Stats(ctx context.Context, entity string) (*domain.Stats, error) {
	rows, err := r.pool.Query(ctx, `SELECT auth_entity, count(*), count(DISTINCT email) FROM sessions
		WHERE active AND ($1 = '' OR auth_entity = $1) GROUP BY auth_entity`, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	st := &domain.Stats{ByEntity: map[string]int64{}}
	for rows.Next() {
		var (
			name          string
			total, unique int64
		)
		if err := rows.Scan(&name, &total, &unique); err != nil {
			return nil, err
		}
		st.ByEntity[name] = total
		st.TotalActive += total
		// The same email may hold a session in several entities; each counts as its own user.
		st.UniqueUsers += unique
	}
	return st, rows.Err()
}

func (r *PostgresRepository) exec(ctx context.Context, q string, args ...any) (int64, error) {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) one(ctx context.Context, q string, args ...any) (*domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s                    domain.Session
		active               bool
		name, typ, ip, agent *string
		metadata             map[string]string
	)
	err := row.Scan(
		&s.ID, &s.IdentityID, &s.Email, &s.AuthEntity, &s.Role, &s.AccessTokenHash, &s.RefreshTokenHash,
		&s.AccessExpiresAt, &s.RefreshExpiresAt, &s.ExpiresAt, &active, &s.LastActivityAt, &s.DeactivatedAt,
		&name, &typ, &ip, &agent, &metadata, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.State = domain.StateFromActive(active)
	s.Device = domain.DeviceInfo{Name: db.Deref(name), Type: db.Deref(typ), IP: db.Deref(ip), UserAgent: db.Deref(agent)}
	if len(metadata) > 0 {
		s.Metadata = metadata
	}
	return &s, nil
}
