package vote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// ChannelName は投票変更を通知するPostgresのチャネル名。トリガーが機能リクエストIDを送る。
const ChannelName = "feature_votes"

// NotificationSource はpq.Listenerのうち使用するメソッド。
type NotificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// NewPQListener は投票チャネルを購読するpq.Listenerを生成する。
func NewPQListener(databaseURL string, logger *slog.Logger) (*pq.Listener, error) {
	l := pq.NewListener(databaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("投票通知リスナーの接続状態が変化しました",
				slog.Int("event", int(ev)),
				slog.String("error", err.Error()),
			)
		}
	})
	if err := l.Listen(ChannelName); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Feed は機能リクエストごとの投票変更を購読者へ配信する。
// 通知は最低1回（重複しうる）であり、受け取った側は集計を取得し直す。
type Feed struct {
	mu     sync.Mutex
	subs   map[string]map[chan struct{}]struct{}
	logger *slog.Logger
}

// NewFeed はFeedを生成する。
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		subs:   make(map[string]map[chan struct{}]struct{}),
		logger: logger,
	}
}

// Subscribe は機能リクエストの変更通知を購読する。戻り値の関数で解除する。
// 未読の通知は1件にまとめられる。
func (f *Feed) Subscribe(featureID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	if f.subs[featureID] == nil {
		f.subs[featureID] = make(map[chan struct{}]struct{})
	}
	f.subs[featureID][ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[featureID], ch)
			if len(f.subs[featureID]) == 0 {
				delete(f.subs, featureID)
			}
		})
	}
}

// Publish は機能リクエストの購読者に通知する。ブロックしない。
func (f *Feed) Publish(featureID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[featureID] {
		signal(ch)
	}
}

// broadcast は全購読者に通知する。再接続で通知を取りこぼした可能性がある場合に使う。
func (f *Feed) broadcast() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, chans := range f.subs {
		for ch := range chans {
			signal(ch)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Listen はsrcの通知をctxがキャンセルされるまで配信する。
// 一定時間通知がない場合はPingで接続を確認する。
func (f *Feed) Listen(ctx context.Context, src NotificationSource) {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-src.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				// 再接続後。通知を取りこぼした可能性がある。
				f.broadcast()
				continue
			}
			f.Publish(n.Extra)
		case <-ticker.C:
			if err := src.Ping(); err != nil {
				f.logger.Warn("投票通知リスナーのPingに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
