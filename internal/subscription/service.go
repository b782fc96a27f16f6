// Package subscription は有料プラン契約のドメインロジックを提供する。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/notify"
	"github.com/hitoshi/carelink/internal/repository"
)

// UserFinder は通知先メールアドレスの取得に使うインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service はプラン契約のサービス層。
// 契約、解約、契約状態の参照を提供する。
type Service struct {
	repo      repository.PlanSubscriptionRepository
	users     UserFinder
	publisher notify.Publisher
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// usersとpublisherはnilでもよい（通知しない）。
func NewService(repo repository.PlanSubscriptionRepository, users UserFinder, publisher notify.Publisher) *Service {
	return &Service{
		repo:      repo,
		users:     users,
		publisher: publisher,
		now:       time.Now,
	}
}

// Get はユーザーの契約を返す。契約がない場合はSUBSCRIPTION_NOT_FOUND。
func (s *Service) Get(ctx context.Context, userID string) (*model.PlanSubscription, error) {
	sub, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError()
	}
	return sub, nil
}

// IsActive はユーザーが有効な契約を持っているかを返す。
func (s *Service) IsActive(ctx context.Context, userID string) (bool, error) {
	sub, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	return sub != nil && sub.Status == model.SubscriptionActive, nil
}

// Subscribe はプランを契約する。既存の契約はプラン変更として上書きする。
// 同じプランで有効な契約が既にある場合は何もせずに返す。
func (s *Service) Subscribe(ctx context.Context, userID string, plan model.Plan) (*model.PlanSubscription, error) {
	if !plan.Valid() {
		return nil, model.NewInvalidPlanError(string(plan))
	}

	existing, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	if existing != nil && existing.Plan == plan && existing.Status == model.SubscriptionActive {
		return existing, nil
	}

	now := s.now().UTC()
	sub := &model.PlanSubscription{
		UserID:    userID,
		Plan:      plan,
		Status:    model.SubscriptionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		sub.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("契約の保存に失敗しました: %w", err)
	}

	slog.Info("プランを契約しました",
		slog.String("user_id", userID),
		slog.String("plan", string(plan)),
	)
	s.notify(ctx, userID, notify.TemplateSubscriptionActive, map[string]string{"plan": string(plan)})
	return sub, nil
}

// Cancel は契約を解約する。レコードは残し、状態をcanceledにする。
func (s *Service) Cancel(ctx context.Context, userID string) (*model.PlanSubscription, error) {
	sub, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	if sub == nil || sub.Status != model.SubscriptionActive {
		return nil, model.NewSubscriptionNotFoundError()
	}

	sub.Status = model.SubscriptionCanceled
	sub.UpdatedAt = s.now().UTC()
	if err := s.repo.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("契約の更新に失敗しました: %w", err)
	}

	slog.Info("プランを解約しました", slog.String("user_id", userID))
	s.notify(ctx, userID, notify.TemplateSubscriptionCanceled, map[string]string{"plan": string(sub.Plan)})
	return sub, nil
}

// notify は通知を発行する。失敗しても契約処理は成功とする。
func (s *Service) notify(ctx context.Context, userID, template string, data map[string]string) {
	if s.publisher == nil {
		return
	}
	n := notify.Notification{Template: template, UserID: userID, Data: data}
	if s.users != nil {
		if u, err := s.users.FindByID(ctx, userID); err == nil && u != nil {
			n.Email = u.Email
		}
	}
	if err := s.publisher.Publish(ctx, n); err != nil {
		slog.Warn("通知の発行に失敗しました",
			slog.String("user_id", userID),
			slog.String("template", template),
			slog.String("error", err.Error()),
		)
	}
}
