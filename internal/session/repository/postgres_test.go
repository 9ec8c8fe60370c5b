package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multi-entity-auth/backend/internal/security"
	"multi-entity-auth/backend/internal/session/domain"
)

var sessionCols = []string{
	"id", "identity_id", "email", "auth_entity", "role", "access_token_hash", "refresh_token_hash",
	"access_token_expires_at", "refresh_token_expires_at", "expires_at", "active", "last_activity_at", "deactivated_at",
	"device_name", "device_type", "ip_address", "user_agent", "metadata", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return NewPostgresRepository(mock), mock
}

func TestPostgresRepository_FindByRefreshToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	device := "laptop"

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantID    string
		wantErr   bool
	}{
		{
			name: "found by digest",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(sessionCols).AddRow(
					"s1", "u1", "a@x.com", "users", "user", "ah", security.HashToken("raw-refresh"),
					now.Add(time.Hour), now.Add(24*time.Hour), now.Add(24*time.Hour), false, now, &now,
					&device, nil, nil, nil, map[string]string{}, now, now,
				)
				mock.ExpectQuery(`(?s)SELECT .+ FROM sessions WHERE refresh_token_hash = \$1`).
					WithArgs(security.HashToken("raw-refresh")).
					WillReturnRows(rows)
			},
			wantID: "s1",
		},
		{
			name: "no rows",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`(?s)SELECT .+ FROM sessions WHERE refresh_token_hash = \$1`).
					WithArgs(security.HashToken("raw-refresh")).
					WillReturnError(pgx.ErrNoRows)
			},
		},
		{
			name: "storage error propagates unmodified",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`(?s)SELECT .+ FROM sessions WHERE refresh_token_hash = \$1`).
					WithArgs(security.HashToken("raw-refresh")).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			tt.setupMock(mock)

			got, err := repo.FindByRefreshToken(context.Background(), "raw-refresh")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, "connection reset", err.Error())
			} else {
				require.NoError(t, err)
				if tt.wantID == "" {
					assert.Nil(t, got)
				} else {
					require.NotNil(t, got)
					assert.Equal(t, tt.wantID, got.ID)
					assert.Equal(t, domain.StateInactive, got.State)
					assert.Equal(t, "laptop", got.Device.Name)
					assert.Nil(t, got.Metadata)
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresRepository_Deactivations(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		run       func(r *PostgresRepository) (int64, error)
		want      int64
	}{
		{
			name: "email in entity",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`(?s)UPDATE sessions SET active = FALSE.+WHERE email = \$1 AND auth_entity = \$2 AND active`).
					WithArgs("a@x.com", "users", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 2))
			},
			run: func(r *PostgresRepository) (int64, error) {
				return r.DeactivateAllForEmailInEntity(context.Background(), "a@x.com", "users", now)
			},
			want: 2,
		},
		{
			name: "others in entity",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`(?s)UPDATE sessions SET active = FALSE.+AND id <> \$3 AND active`).
					WithArgs("a@x.com", "users", "keep", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
			run: func(r *PostgresRepository) (int64, error) {
				return r.DeactivateOthersForEmailInEntity(context.Background(), "a@x.com", "users", "keep", now)
			},
			want: 1,
		},
		{
			name: "all entities",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`(?s)UPDATE sessions SET active = FALSE.+WHERE email = \$1 AND active`).
					WithArgs("a@x.com", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 3))
			},
			run: func(r *PostgresRepository) (int64, error) {
				return r.DeactivateAllForEmail(context.Background(), "a@x.com", now)
			},
			want: 3,
		},
		{
			name: "purge expired",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`DELETE FROM sessions WHERE expires_at < \$1`).
					WithArgs(now).
					WillReturnResult(pgxmock.NewResult("DELETE", 7))
			},
			run: func(r *PostgresRepository) (int64, error) {
				return r.PurgeExpired(context.Background(), now)
			},
			want: 7,
		},
		{
			name: "purge inactive",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`DELETE FROM sessions WHERE NOT active AND updated_at < \$1`).
					WithArgs(now.AddDate(0, 0, -30)).
					WillReturnResult(pgxmock.NewResult("DELETE", 4))
			},
			run: func(r *PostgresRepository) (int64, error) {
				return r.PurgeInactiveOlderThan(context.Background(), 30, now)
			},
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			tt.setupMock(mock)
			got, err := tt.run(repo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_UpdateTokens(t *testing.T) {
	now := time.Now().UTC()
	accessExp := now.Add(time.Hour)
	refreshExp := now.Add(7 * 24 * time.Hour)

	repo, mock := newMockRepo(t)
	refreshHash := "rh"
	mock.ExpectExec(`(?s)UPDATE sessions SET.+refresh_token_hash = COALESCE\(\$4, refresh_token_hash\).+WHERE id = \$1 AND active`).
		WithArgs("s1", "ah", accessExp, &refreshHash, &refreshExp, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := repo.UpdateTokens(context.Background(), "s1", TokenUpdate{
		AccessHash: "ah", AccessExpiresAt: accessExp, RefreshHash: "rh", RefreshExpiresAt: refreshExp,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateTokens_InactiveSession(t *testing.T) {
	now := time.Now().UTC()
	accessExp := now.Add(time.Hour)

	repo, mock := newMockRepo(t)
	mock.ExpectExec(`(?s)UPDATE sessions SET.+WHERE id = \$1 AND active`).
		WithArgs("s1", "ah", accessExp, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := repo.UpdateTokens(context.Background(), "s1", TokenUpdate{AccessHash: "ah", AccessExpiresAt: accessExp}, now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Stats(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`(?s)SELECT auth_entity, count\(\*\), count\(DISTINCT email\) FROM sessions`).
		WithArgs("").
		WillReturnRows(pgxmock.NewRows([]string{"auth_entity", "count", "unique"}).
			AddRow("users", int64(5), int64(4)).
			AddRow("admins", int64(2), int64(2)))

	st, err := repo.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.TotalActive)
	assert.Equal(t, int64(6), st.UniqueUsers)
	assert.Equal(t, map[string]int64{"users": 5, "admins": 2}, st.ByEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CountActiveByEntity(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM sessions WHERE auth_entity = \$1 AND active`).
		WithArgs("vendors").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := repo.CountActiveByEntity(context.Background(), "vendors")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
