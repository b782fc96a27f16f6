package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/carelink/internal/model"
)

// セッションにユーザーのメールとプロフィールのロールを結合して読む。
// プロフィール未作成ならroleはNULL。
const selectLiveSession = `
SELECT s.id, s.user_id, u.email, p.role, s.expires_at, s.created_at
  FROM sessions s
  JOIN users u ON u.id = s.user_id
  LEFT JOIN profiles p ON p.user_id = s.user_id
 WHERE s.id = $1 AND s.expires_at > now()`

// PostgresSessionRepo はsessionsテーブルを扱う。
type PostgresSessionRepo struct {
	db *sql.DB
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, q, s.ID, s.UserID, s.ExpiresAt, s.CreatedAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効なセッションだけを返す。期限切れや存在しない場合はnil, nil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var (
		s    model.Session
		role sql.NullString
	)
	err := r.db.QueryRowContext(ctx, selectLiveSession, id).
		Scan(&s.ID, &s.UserID, &s.Email, &role, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	s.Role = model.Role(role.String)
	return &s, nil
}

func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.deleteWhere(ctx, "id = $1", id)
	return err
}

// DeleteByUserID は退会時などにユーザーの全端末のセッションを消す。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.deleteWhere(ctx, "user_id = $1", userID)
	return err
}

func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return r.deleteWhere(ctx, "expires_at <= now()")
}

func (r *PostgresSessionRepo) deleteWhere(ctx context.Context, cond string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE "+cond, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions (%s): %w", cond, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
