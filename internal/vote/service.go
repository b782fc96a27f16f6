// Package vote は機能リクエストへの投票を扱う。
package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/repository"
)

// ThanksMessage は投票成功時にユーザーへ表示するメッセージ。
const ThanksMessage = "Thank you for voting!"

// 投票結果のラベル。
const (
	ResultCreated   = "created"
	ResultDuplicate = "duplicate"
	ResultRetracted = "retracted"
	ResultError     = "error"
)

// Metrics は投票の計測インターフェース。
type Metrics interface {
	RecordVote(result string)
}

// Service は投票のサービス層。
type Service struct {
	features repository.FeatureRepository
	votes    repository.VoteRepository
	metrics  Metrics
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(features repository.FeatureRepository, votes repository.VoteRepository, metrics Metrics) *Service {
	return &Service{
		features: features,
		votes:    votes,
		metrics:  metrics,
		now:      time.Now,
	}
}

// ListFeatures は投票集計付きの機能リクエスト一覧を返す。
func (s *Service) ListFeatures(ctx context.Context, userID string) ([]model.FeatureWithVotes, error) {
	features, err := s.features.ListWithVotes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("機能リクエスト一覧の取得に失敗しました: %w", err)
	}
	return features, nil
}

// GetFeature は投票集計付きの機能リクエストを返す。
func (s *Service) GetFeature(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error) {
	f, err := s.features.FindByID(ctx, featureID, userID)
	if err != nil {
		return nil, fmt.Errorf("機能リクエストの取得に失敗しました: %w", err)
	}
	if f == nil {
		return nil, model.NewFeatureNotFoundError(featureID)
	}
	return f, nil
}

// Vote は機能リクエストに投票し、更新後の集計を返す。
// 同じユーザーの二重投票はDUPLICATE_VOTEとなる。
func (s *Service) Vote(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error) {
	if _, err := s.GetFeature(ctx, featureID, userID); err != nil {
		return nil, err
	}

	err := s.votes.Create(ctx, &model.Vote{
		FeatureID: featureID,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		s.record(ResultDuplicate)
		return nil, model.NewDuplicateVoteError()
	}
	if err != nil {
		s.record(ResultError)
		return nil, fmt.Errorf("投票の保存に失敗しました: %w", err)
	}
	s.record(ResultCreated)

	slog.Info("投票しました",
		slog.String("user_id", userID),
		slog.String("feature_id", featureID),
	)
	return s.GetFeature(ctx, featureID, userID)
}

// Retract は投票を取り消す。
func (s *Service) Retract(ctx context.Context, featureID, userID string) error {
	deleted, err := s.votes.Delete(ctx, featureID, userID)
	if err != nil {
		s.record(ResultError)
		return fmt.Errorf("投票の取り消しに失敗しました: %w", err)
	}
	if !deleted {
		return model.NewVoteNotFoundError()
	}
	s.record(ResultRetracted)
	return nil
}

// Count は機能リクエストの投票数を返す。
func (s *Service) Count(ctx context.Context, featureID string) (int, error) {
	n, err := s.votes.CountByFeatureID(ctx, featureID)
	if err != nil {
		return 0, fmt.Errorf("投票数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordVote(result)
	}
}
