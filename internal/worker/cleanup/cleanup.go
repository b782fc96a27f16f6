// Package cleanup は保持期間を過ぎたデータの定期削除ジョブを提供する。
// 期限切れの保留アクション、期限切れセッション、保持期間（デフォルト90日）を
// 超過したエンゲージメントイベントを日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// IntentPurger は期限切れの保留アクションを削除する。
type IntentPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// EventPurger はcutoffより古いエンゲージメントイベントを削除する。
type EventPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は保持期間を超過したデータの削除ジョブ。
// 各削除は冪等であり、1つが失敗しても残りは実行する。
type CleanupJob struct {
	intents       IntentPurger
	events        EventPurger
	sessions      SessionPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // エンゲージメントイベントの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// nilの対象は削除をスキップする。
func NewCleanupJob(intents IntentPurger, events EventPurger, sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		intents:       intents,
		events:        events,
		sessions:      sessions,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 90,
	}
}

type step struct {
	target string
	run    func(ctx context.Context) (int64, error)
}

func (j *CleanupJob) steps() []step {
	var steps []step
	if j.intents != nil {
		steps = append(steps, step{target: "pending_intents", run: j.intents.PurgeExpired})
	}
	if j.sessions != nil {
		steps = append(steps, step{target: "sessions", run: j.sessions.DeleteExpired})
	}
	if j.events != nil {
		steps = append(steps, step{target: "engagement_events", run: func(ctx context.Context) (int64, error) {
			cutoff := j.now().AddDate(0, 0, -j.RetentionDays)
			return j.events.DeleteOlderThan(ctx, cutoff)
		}})
	}
	return steps
}

// Run は各対象の削除を順に実行する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	var total int64
	for _, s := range j.steps() {
		deleted, err := s.run(ctx)
		if err != nil {
			j.logger.Error("クリーンアップの実行に失敗しました",
				slog.String("target", s.target),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.target, err))
			continue
		}
		total += deleted
		j.logger.Info("クリーンアップが完了しました",
			slog.String("target", s.target),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if len(errs) > 0 {
		return fmt.Errorf("クリーンアップの一部が失敗: %w", errors.Join(errs...))
	}
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
