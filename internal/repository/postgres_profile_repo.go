package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, role, full_name, professional_type, care_services, care_recipient,
		        location, bio, avatar_url, created_at, updated_at
		 FROM profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &role, &p.FullName, &p.ProfessionalType, pq.Array(&p.CareServices),
		&p.CareRecipient, &p.Location, &p.Bio, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	p.Role = model.Role(role)

	return p, nil
}

// Upsert はプロフィールを作成または上書きする。created_atは初回作成時の値を維持する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, p *model.Profile) error {
	services := p.CareServices
	if services == nil {
		services = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, role, full_name, professional_type, care_services, care_recipient,
		                       location, bio, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id) DO UPDATE SET
		     role = EXCLUDED.role,
		     full_name = EXCLUDED.full_name,
		     professional_type = EXCLUDED.professional_type,
		     care_services = EXCLUDED.care_services,
		     care_recipient = EXCLUDED.care_recipient,
		     location = EXCLUDED.location,
		     bio = EXCLUDED.bio,
		     avatar_url = EXCLUDED.avatar_url,
		     updated_at = EXCLUDED.updated_at`,
		p.UserID, string(p.Role), p.FullName, p.ProfessionalType, pq.Array(services), p.CareRecipient,
		p.Location, p.Bio, p.AvatarURL, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーのプロフィールを削除する。
func (r *PostgresProfileRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
