package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresIdentityRepo はidentitiesテーブルを扱う。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProvider はIdP上のユーザーIDからidentityを引く。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProvider(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var (
		identity  model.Identity
		lastLogin sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at, last_login_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by provider: %w", err)
	}

	if lastLogin.Valid {
		identity.LastLoginAt = &lastLogin.Time
	}
	return &identity, nil
}

// RecordLogin はlast_login_atを更新する。identityが消えていてもエラーにしない。
func (r *PostgresIdentityRepo) RecordLogin(ctx context.Context, identityID string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE identities SET last_login_at = $2 WHERE id = $1`,
		identityID, at,
	); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
