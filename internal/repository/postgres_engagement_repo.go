package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresEngagementRepo はPostgreSQLを使用したエンゲージメントイベントリポジトリ。
type PostgresEngagementRepo struct {
	db *sql.DB
}

// NewPostgresEngagementRepo はPostgresEngagementRepoを生成する。
func NewPostgresEngagementRepo(db *sql.DB) *PostgresEngagementRepo {
	return &PostgresEngagementRepo{db: db}
}

// Insert はイベントを追記する。UserIDが空の場合は匿名イベントとしてNULLを保存する。
func (r *PostgresEngagementRepo) Insert(ctx context.Context, event *model.EngagementEvent) error {
	var userID any
	if event.UserID != "" {
		userID = event.UserID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO engagement_events (id, action_type, session_id, user_id, feature_name, additional_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.ActionType, event.SessionID, userID, event.FeatureName,
		nullableJSON(event.AdditionalData), event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert engagement event: %w", err)
	}
	return nil
}

// DeleteOlderThan はcutoffより前のイベントを削除する。
func (r *PostgresEngagementRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM engagement_events WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old engagement events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ EngagementRepository = (*PostgresEngagementRepo)(nil)
