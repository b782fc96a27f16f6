package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresFeatureRepo はPostgreSQLを使用した機能リクエストリポジトリ。
type PostgresFeatureRepo struct {
	db *sql.DB
}

// NewPostgresFeatureRepo はPostgresFeatureRepoを生成する。
func NewPostgresFeatureRepo(db *sql.DB) *PostgresFeatureRepo {
	return &PostgresFeatureRepo{db: db}
}

// featureWithVotesQuery は投票数と本人の投票有無を集計するSELECT。
// $1はユーザーID（未ログイン時は空文字列）。
const featureWithVotesQuery = `
	SELECT f.id, f.title, f.description, f.status, f.created_at,
	       count(v.user_id) AS vote_count,
	       COALESCE(bool_or(v.user_id::text = $1), false) AS voted_by_me
	FROM feature_requests f
	LEFT JOIN feature_votes v ON v.feature_id = f.id`

// FindByID は投票集計付きで機能リクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresFeatureRepo) FindByID(ctx context.Context, id, userID string) (*model.FeatureWithVotes, error) {
	f := &model.FeatureWithVotes{}
	err := r.db.QueryRowContext(ctx,
		featureWithVotesQuery+`
		WHERE f.id = $2
		GROUP BY f.id`,
		userID, id,
	).Scan(&f.ID, &f.Title, &f.Description, &f.Status, &f.CreatedAt, &f.VoteCount, &f.VotedByMe)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find feature request: %w", err)
	}
	return f, nil
}

// ListWithVotes は投票数の多い順に機能リクエスト一覧を返す。
func (r *PostgresFeatureRepo) ListWithVotes(ctx context.Context, userID string) ([]model.FeatureWithVotes, error) {
	rows, err := r.db.QueryContext(ctx,
		featureWithVotesQuery+`
		GROUP BY f.id
		ORDER BY vote_count DESC, f.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature requests: %w", err)
	}
	defer rows.Close()

	features := []model.FeatureWithVotes{}
	for rows.Next() {
		var f model.FeatureWithVotes
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.Status, &f.CreatedAt, &f.VoteCount, &f.VotedByMe); err != nil {
			return nil, fmt.Errorf("failed to scan feature request: %w", err)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feature requests: %w", err)
	}
	return features, nil
}

// compile-time interface check
var _ FeatureRepository = (*PostgresFeatureRepo)(nil)
