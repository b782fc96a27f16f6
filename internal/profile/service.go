// Package profile はプロフィールと登録完了状態のドメインロジックを提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/notify"
	"github.com/hitoshi/carelink/internal/repository"
)

const (
	maxNameLength     = 200
	maxBioLength      = 2000
	maxCareServices   = 20
	maxShortTextField = 200
)

// AvatarVerifier はアバターURLの検証インターフェース。
type AvatarVerifier interface {
	Verify(ctx context.Context, rawURL string) error
}

// SessionRefresher はプロフィール変更をセッション監視へ伝えるインターフェース。
type SessionRefresher interface {
	RefreshUser(ctx context.Context, userID string)
}

// UserFinder は通知先メールアドレスの取得に使うインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// UpdateResult はプロフィール更新の結果。
type UpdateResult struct {
	Profile        *model.Profile
	Complete       bool
	BecameComplete bool
}

// Service はプロフィールのサービス層。
type Service struct {
	repo      repository.ProfileRepository
	avatars   AvatarVerifier
	sessions  SessionRefresher
	users     UserFinder
	publisher notify.Publisher
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// avatars, sessions, users, publisherはnilでもよい。
func NewService(
	repo repository.ProfileRepository,
	avatars AvatarVerifier,
	sessions SessionRefresher,
	users UserFinder,
	publisher notify.Publisher,
) *Service {
	return &Service{
		repo:      repo,
		avatars:   avatars,
		sessions:  sessions,
		users:     users,
		publisher: publisher,
		now:       time.Now,
	}
}

// Get はユーザーのプロフィールを返す。未作成の場合はPROFILE_NOT_FOUND。
func (s *Service) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return p, nil
}

// Completeness はユーザーのプロフィールが完了しているかを返す。未作成の場合はfalse。
func (s *Service) Completeness(ctx context.Context, userID string) (bool, error) {
	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return model.IsProfileComplete(p), nil
}

// Update はプロフィールを部分更新する。未作成の場合は作成する。
// 完了状態がfalseからtrueに変わった場合はウェルカム通知を発行する。
func (s *Service) Update(ctx context.Context, userID string, patch model.ProfilePatch) (*UpdateResult, error) {
	current, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	before := model.IsProfileComplete(current)

	now := s.now().UTC()
	next := &model.Profile{UserID: userID, CreatedAt: now}
	if current != nil {
		copied := *current
		next = &copied
	}
	patch.Apply(next)
	next.UpdatedAt = now

	if err := validate(next, patch); err != nil {
		return nil, err
	}
	if patch.AvatarURL != nil && next.AvatarURL != "" && s.avatars != nil {
		if current == nil || current.AvatarURL != next.AvatarURL {
			if err := s.avatars.Verify(ctx, next.AvatarURL); err != nil {
				return nil, model.NewInvalidAvatarError(err.Error())
			}
		}
	}

	if err := s.repo.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}

	after := model.IsProfileComplete(next)
	result := &UpdateResult{
		Profile:        next,
		Complete:       after,
		BecameComplete: !before && after,
	}

	if s.sessions != nil {
		s.sessions.RefreshUser(ctx, userID)
	}
	if result.BecameComplete {
		slog.Info("プロフィールの登録が完了しました",
			slog.String("user_id", userID),
			slog.String("role", string(next.Role)),
		)
		s.sendWelcome(ctx, next)
	}
	return result, nil
}

func validate(p *model.Profile, patch model.ProfilePatch) error {
	if p.Role != "" && !p.Role.Valid() {
		return model.NewInvalidProfileError("unknown role")
	}
	// adminは管理画面から付与する
	if patch.Role != nil && *patch.Role == model.RoleAdmin {
		return model.NewInvalidProfileError("role cannot be set to admin")
	}
	if utf8.RuneCountInString(p.FullName) > maxNameLength {
		return model.NewInvalidProfileError("full_name is too long")
	}
	if utf8.RuneCountInString(p.Bio) > maxBioLength {
		return model.NewInvalidProfileError("bio is too long")
	}
	for _, f := range []string{p.ProfessionalType, p.CareRecipient, p.Location} {
		if utf8.RuneCountInString(f) > maxShortTextField {
			return model.NewInvalidProfileError("field is too long")
		}
	}
	if len(p.CareServices) > maxCareServices {
		return model.NewInvalidProfileError("too many care_services")
	}
	return nil
}

func (s *Service) sendWelcome(ctx context.Context, p *model.Profile) {
	if s.publisher == nil {
		return
	}
	n := notify.Notification{
		Template: notify.TemplateWelcome,
		UserID:   p.UserID,
		Data:     map[string]string{"role": string(p.Role), "full_name": p.FullName},
	}
	if s.users != nil {
		if u, err := s.users.FindByID(ctx, p.UserID); err == nil && u != nil {
			n.Email = u.Email
		}
	}
	if err := s.publisher.Publish(ctx, n); err != nil {
		slog.Warn("ウェルカム通知の発行に失敗しました",
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()),
		)
	}
}
