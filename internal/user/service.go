// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/repository"
)

// UserDataDeleter はユーザーに紐づくデータの一括削除インターフェース。
type UserDataDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	votes       UserDataDeleter
	stories     UserDataDeleter
	plans       UserDataDeleter
	profiles    UserDataDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
// userRepo以外はnilでもよい（その削除手順を省略する）。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	votes UserDataDeleter,
	stories UserDataDeleter,
	plans UserDataDeleter,
	profiles UserDataDeleter,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		votes:       votes,
		stories:     stories,
		plans:       plans,
		profiles:    profiles,
	}
}

type deleteStep struct {
	name    string
	deleter UserDataDeleter
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: feature_votes → stories → plan_subscriptions → profiles → sessions → user（+ CASCADE: identities）
// engagement_eventsは匿名化（user_idをNULL）して残す。保留アクションはブラウザ単位のため対象外。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	steps := []deleteStep{
		{"投票", s.votes},
		{"体験談", s.stories},
		{"プラン契約", s.plans},
		{"プロフィール", s.profiles},
	}
	if s.sessionRepo != nil {
		steps = append(steps, deleteStep{"セッション", s.sessionRepo})
	}

	for _, step := range steps {
		if step.deleter == nil {
			continue
		}
		if err := step.deleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("%sの削除に失敗しました: %w", step.name, err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
