package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/carelink/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresVoteRepo はPostgreSQLを使用した投票リポジトリ。
type PostgresVoteRepo struct {
	db *sql.DB
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db *sql.DB) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db}
}

// Create は投票を作成する。(feature_id, user_id) が既に存在する場合はErrDuplicateを返す。
func (r *PostgresVoteRepo) Create(ctx context.Context, vote *model.Vote) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feature_votes (feature_id, user_id, created_at) VALUES ($1, $2, $3)`,
		vote.FeatureID, vote.UserID, vote.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("vote %s/%s: %w", vote.FeatureID, vote.UserID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create vote: %w", err)
	}
	return nil
}

// Delete は投票を取り消す。
func (r *PostgresVoteRepo) Delete(ctx context.Context, featureID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM feature_votes WHERE feature_id = $1 AND user_id = $2`,
		featureID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete vote: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// CountByFeatureID は機能リクエストの投票数を返す。
func (r *PostgresVoteRepo) CountByFeatureID(ctx context.Context, featureID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM feature_votes WHERE feature_id = $1`,
		featureID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}

// DeleteByUserID はユーザーの全投票を削除する。
func (r *PostgresVoteRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feature_votes WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user votes: %w", err)
	}
	return nil
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)
