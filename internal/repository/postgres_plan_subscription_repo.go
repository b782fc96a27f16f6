package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresPlanSubscriptionRepo はPostgreSQLを使用したプラン契約リポジトリ。
type PostgresPlanSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresPlanSubscriptionRepo はPostgresPlanSubscriptionRepoを生成する。
func NewPostgresPlanSubscriptionRepo(db *sql.DB) *PostgresPlanSubscriptionRepo {
	return &PostgresPlanSubscriptionRepo{db: db}
}

// FindByUserID はユーザーの契約を取得する。見つからない場合はnilを返す。
func (r *PostgresPlanSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*model.PlanSubscription, error) {
	sub := &model.PlanSubscription{}
	var plan, status string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, plan, status, created_at, updated_at
		 FROM plan_subscriptions
		 WHERE user_id = $1`,
		userID,
	).Scan(&sub.UserID, &plan, &status, &sub.CreatedAt, &sub.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan subscription: %w", err)
	}
	sub.Plan = model.Plan(plan)
	sub.Status = model.SubscriptionStatus(status)
	return sub, nil
}

// Upsert は契約を作成または更新する。
func (r *PostgresPlanSubscriptionRepo) Upsert(ctx context.Context, sub *model.PlanSubscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plan_subscriptions (user_id, plan, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		     plan = EXCLUDED.plan,
		     status = EXCLUDED.status,
		     updated_at = EXCLUDED.updated_at`,
		sub.UserID, string(sub.Plan), string(sub.Status), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert plan subscription: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの契約を削除する。
func (r *PostgresPlanSubscriptionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM plan_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete plan subscription: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PlanSubscriptionRepository = (*PostgresPlanSubscriptionRepo)(nil)
