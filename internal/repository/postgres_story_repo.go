package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresStoryRepo はPostgreSQLを使用した体験談リポジトリ。
type PostgresStoryRepo struct {
	db *sql.DB
}

// NewPostgresStoryRepo はPostgresStoryRepoを生成する。
func NewPostgresStoryRepo(db *sql.DB) *PostgresStoryRepo {
	return &PostgresStoryRepo{db: db}
}

// Create は体験談を作成する。
func (r *PostgresStoryRepo) Create(ctx context.Context, story *model.Story) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO stories (id, user_id, title, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		story.ID, story.UserID, story.Title, story.Body, story.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create story: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件の体験談を返す。
func (r *PostgresStoryRepo) ListRecent(ctx context.Context, limit int) ([]*model.Story, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, body, created_at
		 FROM stories
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	stories := []*model.Story{}
	for rows.Next() {
		s := &model.Story{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.Body, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stories: %w", err)
	}
	return stories, nil
}

// DeleteByUserID はユーザーの全体験談を削除する。
func (r *PostgresStoryRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM stories WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user stories: %w", err)
	}
	return nil
}

// compile-time interface check
var _ StoryRepository = (*PostgresStoryRepo)(nil)
