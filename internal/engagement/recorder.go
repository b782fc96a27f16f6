// Package engagement はユーザー操作の記録を非同期にシンクへ書き出す。
// 記録の失敗が呼び出し元の処理に影響することはない。
package engagement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/model"
)

// 記録結果のラベル。
const (
	ResultQueued    = "queued"
	ResultDropped   = "dropped"
	ResultWritten   = "written"
	ResultSinkError = "sink_error"
)

// DefaultQueueSize はキューサイズ未指定時のデフォルト値。
const DefaultQueueSize = 1024

// Sink はイベントの書き込み先。
type Sink interface {
	Name() string
	Write(ctx context.Context, event *model.EngagementEvent) error
}

// Metrics はエンゲージメント記録の計測インターフェース。
type Metrics interface {
	RecordEngagement(result string)
}

// Recorder はイベントを有界キューに積み、Runでシンクへ書き出す。
type Recorder struct {
	queue        chan *model.EngagementEvent
	sinks        []Sink
	metrics      Metrics
	logger       *slog.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

// NewRecorder はRecorderを生成する。queueSizeが0以下の場合はDefaultQueueSizeを使う。
func NewRecorder(queueSize int, sinks []Sink, metrics Metrics, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		queue:        make(chan *model.EngagementEvent, queueSize),
		sinks:        sinks,
		metrics:      metrics,
		logger:       logger,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
	}
}

// Track はイベントをキューに積む。ブロックせず、キューが満杯の場合は破棄する。
// IDとTimestampが空の場合はここで補完する。
func (r *Recorder) Track(_ context.Context, event model.EngagementEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}

	select {
	case r.queue <- &event:
		r.record(ResultQueued)
	default:
		r.record(ResultDropped)
		r.logger.Warn("エンゲージメントキューが満杯のためイベントを破棄しました",
			slog.String("action_type", event.ActionType),
			slog.String("session_id", event.SessionID),
		)
	}
}

// Run はキューのイベントをシンクへ書き出す。ctxがキャンセルされると残りを書き出してから戻る。
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case ev := <-r.queue:
			r.write(ctx, ev)
		}
	}
}

// drain はシャットダウン時にキューに残ったイベントを書き出す。
func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		default:
			return
		}
	}
}

// Pending はキューに残っているイベント数を返す。
func (r *Recorder) Pending() int {
	return len(r.queue)
}

func (r *Recorder) write(ctx context.Context, ev *model.EngagementEvent) {
	for _, sink := range r.sinks {
		wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
		err := sink.Write(wctx, ev)
		cancel()
		if err != nil {
			r.record(ResultSinkError)
			r.logger.Error("エンゲージメントイベントの書き込みに失敗しました",
				slog.String("sink", sink.Name()),
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.record(ResultWritten)
	}
}

func (r *Recorder) record(result string) {
	if r.metrics != nil {
		r.metrics.RecordEngagement(result)
	}
}
