package replay

import (
	"context"
	"log/slog"

	"github.com/hitoshi/carelink/internal/model"
)

// ProfilePolicy は種別ごとのプロフィール完了要否。
type ProfilePolicy interface {
	RequiresProfile(kind model.ActionKind) bool
}

// ProfileFinder はプロフィールの取得インターフェース。
type ProfileFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// ProfileGate はプロフィール完了状態を最新のストア内容で確認するGateCheck。
type ProfileGate struct {
	policy   ProfilePolicy
	profiles ProfileFinder
	logger   *slog.Logger
}

// NewProfileGate はProfileGateを生成する。
func NewProfileGate(policy ProfilePolicy, profiles ProfileFinder, logger *slog.Logger) *ProfileGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileGate{policy: policy, profiles: profiles, logger: logger}
}

// Ready はユーザーが種別のゲートを通過できるかを返す。
// 未ログイン、またはプロフィールの取得に失敗した場合は通過できない。
func (g *ProfileGate) Ready(ctx context.Context, userID string, kind model.ActionKind) bool {
	if userID == "" {
		return false
	}
	if !g.policy.RequiresProfile(kind) {
		return true
	}
	profile, err := g.profiles.FindByUserID(ctx, userID)
	if err != nil {
		g.logger.Warn("プロフィールの取得に失敗したため再実行を保留します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return model.IsProfileComplete(profile)
}
