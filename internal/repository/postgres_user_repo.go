package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresUserRepo はusersテーブルを扱う。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// CreateWithIdentity は初回ログイン時にユーザーとidentityをまとめて作成する。
// 同じIdPアカウントで同時にログインした場合、後発はErrDuplicateになる。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, name, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at, last_login_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert identity: %w", err)
		}
		return nil
	})
}

// UpdateContact はメールアドレスと表示名を更新する。値が変わらない場合は書き込まない。
func (r *PostgresUserRepo) UpdateContact(ctx context.Context, id, email, name string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, name = $3, updated_at = $4
		 WHERE id = $1 AND (email <> $2 OR name <> $3)`,
		id, email, name, at,
	); err != nil {
		return fmt.Errorf("failed to update user contact: %w", err)
	}
	return nil
}

// DeleteByID はユーザーを削除する。
// エンゲージメントの集計を保つため、イベントはuser_idを外して残す。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE engagement_events SET user_id = NULL WHERE user_id = $1`,
			id,
		); err != nil {
			return fmt.Errorf("failed to anonymize engagement events: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("user not found: %s", id)
		}
		return nil
	})
}

// withTx はfnをトランザクション内で実行し、エラーがなければコミットする。
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ UserRepository = (*PostgresUserRepo)(nil)
