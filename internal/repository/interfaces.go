// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// ErrDuplicate は一意制約違反を表す。サービス層でドメインエラーに変換する。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateContact はIdPから取得したメールアドレスと表示名を反映する。
	UpdateContact(ctx context.Context, id, email, name string, at time.Time) error

	// DeleteByID は指定IDのユーザーを削除する。
	// engagement_eventsは匿名化して残し、identitiesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProvider はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	// RecordLogin はidentityの最終ログイン時刻を更新する。
	RecordLogin(ctx context.Context, identityID string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	// EmailとRoleはusers / profilesから補完する。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
	// Upsert はプロフィールを作成または上書きする。
	Upsert(ctx context.Context, profile *model.Profile) error
	// DeleteByUserID は指定ユーザーのプロフィールを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// IntentRepository は保留アクションの永続化インターフェース。
// (client_id, kind) ごとに最大1件を保持する。
type IntentRepository interface {
	// Set は保留アクションを書き込む。同じ種別の既存レコードは上書きする。
	Set(ctx context.Context, intent *model.PendingIntent) error
	// Get は保留アクションを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, clientID string, kind model.ActionKind) (*model.PendingIntent, error)
	// Clear は保留アクションを削除する。存在しなくてもエラーにしない。
	Clear(ctx context.Context, clientID string, kind model.ActionKind) error
	// ClearIfMatch は保存中のIDがintentIDと一致する場合のみ削除し、削除したかを返す。
	ClearIfMatch(ctx context.Context, clientID string, kind model.ActionKind, intentID string) (bool, error)
	// List はクライアントの保留アクションを新しい順に返す。
	List(ctx context.Context, clientID string) ([]*model.PendingIntent, error)
	// DeleteOlderThan はcutoffより前に作成された保留アクションを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EngagementRepository はエンゲージメントイベントの永続化インターフェース。
type EngagementRepository interface {
	// Insert はイベントを追記する。
	Insert(ctx context.Context, event *model.EngagementEvent) error
	// DeleteOlderThan は保持期間を過ぎたイベントを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// FeatureRepository は機能リクエストの参照インターフェース。
type FeatureRepository interface {
	// FindByID は投票集計付きで機能リクエストを取得する。見つからない場合はnilを返す。
	// userIDが空の場合、VotedByMeは常にfalse。
	FindByID(ctx context.Context, id, userID string) (*model.FeatureWithVotes, error)
	// ListWithVotes は投票集計付きで機能リクエスト一覧を返す。
	ListWithVotes(ctx context.Context, userID string) ([]model.FeatureWithVotes, error)
}

// VoteRepository は投票の永続化インターフェース。
type VoteRepository interface {
	// Create は投票を作成する。既に投票済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, vote *model.Vote) error
	// Delete は投票を取り消し、削除したかを返す。
	Delete(ctx context.Context, featureID, userID string) (bool, error)
	// CountByFeatureID は機能リクエストの投票数を返す。
	CountByFeatureID(ctx context.Context, featureID string) (int, error)
	// DeleteByUserID はユーザーの全投票を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// StoryRepository は体験談の永続化インターフェース。
type StoryRepository interface {
	// Create は体験談を作成する。
	Create(ctx context.Context, story *model.Story) error
	// ListRecent は新しい順に最大limit件の体験談を返す。
	ListRecent(ctx context.Context, limit int) ([]*model.Story, error)
	// DeleteByUserID はユーザーの全体験談を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// PlanSubscriptionRepository はプラン契約の永続化インターフェース。
type PlanSubscriptionRepository interface {
	// FindByUserID はユーザーの契約を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.PlanSubscription, error)
	// Upsert は契約を作成または更新する。
	Upsert(ctx context.Context, sub *model.PlanSubscription) error
	// DeleteByUserID はユーザーの契約を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを作成する。
	Create(ctx context.Context, msg *model.Message) error
}

// BookingRepository は予約リクエストの永続化インターフェース。
type BookingRepository interface {
	// Create は予約リクエストを作成する。
	Create(ctx context.Context, booking *model.BookingRequest) error
}
