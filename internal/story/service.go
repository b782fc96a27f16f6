// Package story は体験談の投稿と一覧を提供する。
package story

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/repository"
)

const (
	maxTitleLength = 200
	maxBodyLength  = 20000
	// DefaultListLimit は一覧取得件数の既定値。
	DefaultListLimit = 20
	maxListLimit     = 100
)

// SharedMessage は投稿成功時にユーザーへ表示するメッセージ。
const SharedMessage = "Thanks for sharing your story!"

// Sanitizer は本文HTMLの無害化インターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
	PlainText(rawHTML string) string
}

// ShareInput は投稿内容。
type ShareInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Service は体験談のサービス層。
type Service struct {
	repo      repository.StoryRepository
	sanitizer Sanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.StoryRepository, sanitizer Sanitizer) *Service {
	return &Service{repo: repo, sanitizer: sanitizer, now: time.Now}
}

// Share は体験談を投稿する。本文は保存前に無害化する。
func (s *Service) Share(ctx context.Context, userID string, in ShareInput) (*model.Story, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, model.NewEmptyContentError("Title")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewInvalidRequestError("title is too long")
	}
	if utf8.RuneCountInString(in.Body) > maxBodyLength {
		return nil, model.NewInvalidRequestError("body is too long")
	}
	if s.sanitizer.PlainText(in.Body) == "" {
		return nil, model.NewEmptyContentError("Story")
	}

	st := &model.Story{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     s.sanitizer.PlainText(title),
		Body:      s.sanitizer.Sanitize(in.Body),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("体験談の保存に失敗しました: %w", err)
	}

	slog.Info("体験談を投稿しました",
		slog.String("user_id", userID),
		slog.String("story_id", st.ID),
	)
	return st, nil
}

// List は新しい順に体験談を返す。limitは1〜100に丸める。
func (s *Service) List(ctx context.Context, limit int) ([]*model.Story, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	stories, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("体験談一覧の取得に失敗しました: %w", err)
	}
	return stories, nil
}
