package intent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/model"
)

// Metrics はストレージエラーの計測インターフェース。
type Metrics interface {
	RecordIntentStoreError(op string)
}

// Intents は保留アクションの読み書きを提供するファサード。
// どの操作もエラーを返さない。ストレージ障害はログとメトリクスに記録し、
// 読み出しは「保留アクションなし」、書き込みと削除は何もしなかったものとして扱う。
type Intents struct {
	store   Store
	maxAge  time.Duration
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// Option はIntentsの設定オプション。
type Option func(*Intents)

// WithMaxAge は保留アクションの有効期間を設定する。0の場合は期限なし。
func WithMaxAge(d time.Duration) Option {
	return func(i *Intents) { i.maxAge = d }
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m Metrics) Option {
	return func(i *Intents) { i.metrics = m }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(i *Intents) { i.logger = l }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(i *Intents) { i.now = now }
}

// NewIntents はIntentsを生成する。
func NewIntents(store Store, opts ...Option) *Intents {
	i := &Intents{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetPendingIntent は保留アクションを保存し、保存した内容を返す。
// 同じ種別の既存の保留アクションは無条件に上書きされる。
// IDとCreatedAtが未設定の場合はここで採番する。
func (i *Intents) SetPendingIntent(ctx context.Context, clientID string, p model.PendingIntent) model.PendingIntent {
	p.ClientID = clientID
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = i.now().UTC()
	}
	if p.ReturnPath == "" {
		p.ReturnPath = "/"
	}
	if clientID == "" {
		i.logger.Warn("client_idがないため保留アクションを保存しません",
			slog.String("kind", string(p.Kind)),
		)
		return p
	}

	if err := i.store.Set(ctx, &p); err != nil {
		i.fail("set", clientID, p.Kind, err)
	}
	return p
}

// GetPendingIntent は保留アクションを返す。
// 存在しない、期限切れ、またはストレージが利用できない場合はnilを返す。
func (i *Intents) GetPendingIntent(ctx context.Context, clientID string, kind model.ActionKind) *model.PendingIntent {
	if clientID == "" {
		return nil
	}
	p, err := i.store.Get(ctx, clientID, kind)
	if err != nil {
		i.fail("get", clientID, kind, err)
		return nil
	}
	if p == nil || i.expired(p) {
		return nil
	}
	return p
}

// ClearPendingIntent は保留アクションを削除する。存在しない場合は何もしない。
func (i *Intents) ClearPendingIntent(ctx context.Context, clientID string, kind model.ActionKind) {
	if clientID == "" {
		return
	}
	if err := i.store.Clear(ctx, clientID, kind); err != nil {
		i.fail("clear", clientID, kind, err)
	}
}

// ClearPendingIntentIfMatch は保存中の保留アクションのIDがintentIDと一致する場合のみ削除する。
// 再実行中に同じ種別の新しい保留アクションが書き込まれていれば、そちらは残る。
func (i *Intents) ClearPendingIntentIfMatch(ctx context.Context, clientID string, kind model.ActionKind, intentID string) bool {
	if clientID == "" {
		return false
	}
	cleared, err := i.store.ClearIfMatch(ctx, clientID, kind, intentID)
	if err != nil {
		i.fail("clear_if_match", clientID, kind, err)
		return false
	}
	return cleared
}

// ListPendingIntents は有効な保留アクションを新しい順に返す。
func (i *Intents) ListPendingIntents(ctx context.Context, clientID string) []*model.PendingIntent {
	if clientID == "" {
		return nil
	}
	all, err := i.store.List(ctx, clientID)
	if err != nil {
		i.fail("list", clientID, "", err)
		return nil
	}
	out := make([]*model.PendingIntent, 0, len(all))
	for _, p := range all {
		if !i.expired(p) {
			out = append(out, p)
		}
	}
	return out
}

// LatestPendingIntent は最も新しい有効な保留アクションを返す。存在しない場合はnil。
func (i *Intents) LatestPendingIntent(ctx context.Context, clientID string) *model.PendingIntent {
	list := i.ListPendingIntents(ctx, clientID)
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

// PurgeExpired は有効期間を過ぎた保留アクションをストレージから削除する。
// 定期クリーンアップジョブから呼ばれるため、このメソッドのみエラーを返す。
func (i *Intents) PurgeExpired(ctx context.Context) (int64, error) {
	if i.maxAge <= 0 {
		return 0, nil
	}
	n, err := i.store.DeleteOlderThan(ctx, i.now().Add(-i.maxAge))
	if err != nil {
		i.recordError("purge")
		return 0, fmt.Errorf("failed to purge expired intents: %w", err)
	}
	return n, nil
}

func (i *Intents) expired(p *model.PendingIntent) bool {
	if i.maxAge <= 0 {
		return false
	}
	return i.now().Sub(p.CreatedAt) > i.maxAge
}

func (i *Intents) fail(op, clientID string, kind model.ActionKind, err error) {
	i.logger.Error("保留アクションストアの操作に失敗しました",
		slog.String("op", op),
		slog.String("client_id", clientID),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	i.recordError(op)
}

func (i *Intents) recordError(op string) {
	if i.metrics != nil {
		i.metrics.RecordIntentStoreError(op)
	}
}
