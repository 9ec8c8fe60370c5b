package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"multi-entity-auth/backend/internal/db"
	"multi-entity-auth/backend/internal/identity/domain"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const identityColumns = `id, email, username, first_name, last_name, password_hash, status, role, level,
	email_verified, login_attempts, lock_until, reset_token_hash, reset_token_expires_at,
	verification_code_hash, verification_expires_at, last_login_at, last_login_ip,
	last_login_user_agent, password_changed_at, created_at, updated_at`

// PostgresRepository stores the identities of one auth entity in its own table.
type PostgresRepository struct {
	pool   db.Querier
	entity string
	table  string
}

// NewPostgresRepository returns a repository over table for entity. The table name comes from the
// entity registry and is validated here; it is never taken from request input.
func NewPostgresRepository(pool db.Querier, entity, table string) (*PostgresRepository, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("identity repository: invalid table name %q", table)
	}
	return &PostgresRepository{pool: pool, entity: entity, table: pgx.Identifier{table}.Sanitize()}, nil
}

func (r *PostgresRepository) selectWhere(where string) string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, identityColumns, r.table, where)
}

// GetByID returns the identity for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.one(ctx, r.selectWhere(`id = $1`), id)
}

// FindByEmail returns the identity for email with PasswordHash cleared, or nil if not found.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	i, err := r.FindByEmailWithDigest(ctx, email)
	if i != nil {
		i.PasswordHash = ""
	}
	return i, err
}

// FindByEmailWithDigest returns the identity for email including its password digest, or nil if not found.
func (r *PostgresRepository) FindByEmailWithDigest(ctx context.Context, email string) (*domain.Identity, error) {
	return r.one(ctx, r.selectWhere(`email = $1`), domain.NormalizeEmail(email))
}

// FindByUsername matches username case-insensitively.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return r.one(ctx, r.selectWhere(`lower(username) = lower($1)`), username)
}

func (r *PostgresRepository) FindByResetToken(ctx context.Context, tokenHash string) (*domain.Identity, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return r.one(ctx, r.selectWhere(`reset_token_hash = $1`), tokenHash)
}

func (r *PostgresRepository) FindByVerificationCode(ctx context.Context, email, codeHash string) (*domain.Identity, error) {
	if codeHash == "" {
		return nil, nil
	}
	return r.one(ctx, r.selectWhere(`email = $1 AND verification_code_hash = $2`), domain.NormalizeEmail(email), codeHash)
}

func (r *PostgresRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `email = $1`, domain.NormalizeEmail(email))
}

func (r *PostgresRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	return r.exists(ctx, `lower(username) = lower($1)`, username)
}

// Create inserts i. ID, CreatedAt and UpdatedAt must be set by the caller.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, email, username, first_name, last_name, password_hash, status,
		role, level, email_verified, login_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12)`, r.table)
	_, err := r.pool.Exec(ctx, q,
		i.ID, domain.NormalizeEmail(i.Email), db.NullIfEmpty(i.Username), i.FirstName, i.LastName,
		i.PasswordHash, string(i.Status), i.Role, i.Level, i.EmailVerified, i.CreatedAt, i.UpdatedAt)
	return err
}

func (r *PostgresRepository) Update(ctx context.Context, i *domain.Identity) error {
	q := fmt.Sprintf(`UPDATE %s SET username = $2, first_name = $3, last_name = $4, status = $5, role = $6,
		level = $7, email_verified = $8, reset_token_hash = $9, reset_token_expires_at = $10,
		verification_code_hash = $11, verification_expires_at = $12, updated_at = $13
		WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, q,
		i.ID, db.NullIfEmpty(i.Username), i.FirstName, i.LastName, string(i.Status), i.Role, i.Level,
		i.EmailVerified, db.NullIfEmpty(i.ResetTokenHash), i.ResetTokenExpiresAt,
		db.NullIfEmpty(i.VerificationCodeHash), i.VerificationExpires, i.UpdatedAt)
	return err
}

// IncrementLoginAttempts updates the counter in one statement; SET expressions see the pre-update row.
func (r *PostgresRepository) IncrementLoginAttempts(ctx context.Context, id string, maxAttempts int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	q := fmt.Sprintf(`UPDATE %s SET
		login_attempts = CASE WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1 ELSE login_attempts + 1 END,
		lock_until = CASE
			WHEN lock_until IS NOT NULL AND lock_until > $2 THEN lock_until
			WHEN $3 > 0 AND (CASE WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1 ELSE login_attempts + 1 END) >= $3 THEN $4::timestamptz
			ELSE NULL END,
		updated_at = $2
		WHERE id = $1
		RETURNING login_attempts, lock_until`, r.table)
	var (
		attempts  int
		lockUntil *time.Time
	)
	err := r.pool.QueryRow(ctx, q, id, now, maxAttempts, now.Add(lockFor)).Scan(&attempts, &lockUntil)
	if err != nil {
		return 0, nil, err
	}
	return attempts, lockUntil, nil
}

// RecordSuccessfulLogin resets the counter, clears any lock and stamps last-login metadata.
func (r *PostgresRepository) RecordSuccessfulLogin(ctx context.Context, id, ip, userAgent string, at time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET login_attempts = 0, lock_until = NULL, last_login_at = $2,
		last_login_ip = $3, last_login_user_agent = $4, updated_at = $2 WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, q, id, at, db.NullIfEmpty(ip), db.NullIfEmpty(userAgent))
	return err
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET password_hash = $2, password_changed_at = $3, reset_token_hash = NULL,
		reset_token_expires_at = NULL, login_attempts = 0, lock_until = NULL, updated_at = $3 WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, q, id, passwordHash, at)
	return err
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET email_verified = TRUE, verification_code_hash = NULL,
		verification_expires_at = NULL, updated_at = $2 WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, q, id, at)
	return err
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = now()
		WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, q, id, tokenHash, expiresAt)
	return err
}

func (r *PostgresRepository) SetVerificationCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET verification_code_hash = $2, verification_expires_at = $3, updated_at = now()
		WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, q, id, codeHash, expiresAt)
	return err
}

func (r *PostgresRepository) exists(ctx context.Context, where string, arg any) (bool, error) {
	var ok bool
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s)`, r.table, where)
	if err := r.pool.QueryRow(ctx, q, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *PostgresRepository) one(ctx context.Context, q string, args ...any) (*domain.Identity, error) {
	var (
		i                                          domain.Identity
		status                                     string
		username, resetHash, verifyHash, ip, agent *string
	)
	err := r.pool.QueryRow(ctx, q, args...).Scan(
		&i.ID, &i.Email, &username, &i.FirstName, &i.LastName, &i.PasswordHash, &status, &i.Role, &i.Level,
		&i.EmailVerified, &i.LoginAttempts, &i.LockUntil, &resetHash, &i.ResetTokenExpiresAt,
		&verifyHash, &i.VerificationExpires, &i.LastLoginAt, &ip,
		&agent, &i.PasswordChangedAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.AuthEntity = r.entity
	i.Status = domain.Status(status)
	i.Username = db.Deref(username)
	i.ResetTokenHash = db.Deref(resetHash)
	i.VerificationCodeHash = db.Deref(verifyHash)
	i.LastLoginIP = db.Deref(ip)
	i.LastLoginUserAgent = db.Deref(agent)
	return &i, nil
}
