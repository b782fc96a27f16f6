// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/repository"
	"github.com/hitoshi/carelink/internal/session"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// Notifier はログイン・ログアウトをセッション監視へ伝えるインターフェース。
type Notifier interface {
	Notify(ctx context.Context, ev session.Event) session.Transition
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// LoginResult はOAuthコールバック処理の結果。
type LoginResult struct {
	Session *model.Session
	// Destination はログイン後の遷移先。保留アクションの戻り先が優先される。空の場合は呼び出し側で決める。
	Destination string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	notifier    Notifier
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。notifierはnilでもよい。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	notifier Notifier,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		notifier:    notifier,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// セッション発行後、clientIDのブラウザコンテキストにSignedInを通知し、遷移先を決める。
func (s *Service) HandleCallback(ctx context.Context, clientID, code string) (*LoginResult, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	userID, err := s.resolveUser(ctx, userInfo)
	if err != nil {
		return nil, err
	}

	sess, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	sess.Email = userInfo.Email

	result := &LoginResult{Session: sess}
	if s.notifier != nil && clientID != "" {
		tr := s.notifier.Notify(ctx, session.Event{Type: session.SignedIn, ClientID: clientID, Session: sess})
		result.Destination = tr.Destination
	}
	return result, nil
}

// resolveUser はidentityから既存ユーザーを特定し、いなければ作成する。
// 既存ユーザーはIdP側で変わったメールアドレスと表示名を取り込む。
func (s *Service) resolveUser(ctx context.Context, userInfo *OAuthUserInfo) (string, error) {
	identity, err := s.identRepo.FindByProvider(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		s.refreshReturningUser(ctx, identity, userInfo)
		return identity.UserID, nil
	}

	now := s.now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}
	err = s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity)
	if errors.Is(err, repository.ErrDuplicate) {
		// 別タブのコールバックが先に作成した
		identity, err = s.identRepo.FindByProvider(ctx, userInfo.Provider, userInfo.ProviderUserID)
		if err != nil {
			return "", fmt.Errorf("failed to find identity after duplicate insert: %w", err)
		}
		if identity == nil {
			return "", fmt.Errorf("identity %s/%s vanished after duplicate insert", userInfo.Provider, userInfo.ProviderUserID)
		}
		return identity.UserID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("provider", userInfo.Provider),
	)
	return newUser.ID, nil
}

// refreshReturningUser は最終ログイン時刻と連絡先を更新する。失敗してもログインは継続する。
func (s *Service) refreshReturningUser(ctx context.Context, identity *model.Identity, userInfo *OAuthUserInfo) {
	now := s.now()
	if err := s.identRepo.RecordLogin(ctx, identity.ID, now); err != nil {
		slog.Warn("最終ログイン時刻の更新に失敗しました",
			slog.String("user_id", identity.UserID),
			slog.String("error", err.Error()),
		)
	}
	if userInfo.Email != "" {
		if err := s.userRepo.UpdateContact(ctx, identity.UserID, userInfo.Email, userInfo.Name, now); err != nil {
			slog.Warn("連絡先の更新に失敗しました",
				slog.String("user_id", identity.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("existing user logged in",
		slog.String("user_id", identity.UserID),
		slog.String("provider", userInfo.Provider),
	)
}

// Logout はセッションを破棄し、clientIDのブラウザコンテキストにSignedOutを通知する。
// 保留アクションは残す。
func (s *Service) Logout(ctx context.Context, clientID, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if s.notifier != nil && clientID != "" {
		s.notifier.Notify(ctx, session.Event{Type: session.SignedOut, ClientID: clientID})
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentSession は有効なセッションを返す。存在しないか期限切れの場合はnil。
func (s *Service) GetCurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return sess, nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	sess := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return sess, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
