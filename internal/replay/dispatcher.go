// Package replay はゲートが開いたときに保留アクションを一度だけ再実行する。
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/carelink/internal/action"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/session"
)

// Outcome は再実行チェックの結果。
type Outcome string

const (
	// OutcomeNone は該当種別の保留アクションがなかった。
	OutcomeNone Outcome = "none"
	// OutcomeMismatch は保留アクションの対象がページの対象と異なった。保留アクションは残る。
	OutcomeMismatch Outcome = "mismatch"
	// OutcomeDeferred はゲートがまだ開いていない（プロフィール未完了など）。保留アクションは残る。
	OutcomeDeferred Outcome = "deferred"
	// OutcomeReplayed は再実行に成功した。
	OutcomeReplayed Outcome = "replayed"
	// OutcomeFailed は再実行したがハンドラーがエラーを返した。保留アクションは削除済み。
	OutcomeFailed Outcome = "failed"
)

// transientFailureMessage はAPIError以外の失敗時にユーザーへ表示するメッセージ。
const transientFailureMessage = "Something went wrong while completing your action. Please try again."

// Page は再実行チェックを行うページの対象。
type Page struct {
	Kind     model.ActionKind
	TargetID string
}

// Result は再実行チェックの結果。
type Result struct {
	Outcome Outcome
	Message string
	Intent  *model.PendingIntent
	Action  action.Result
}

// IntentStore は再実行に必要な保留アクション操作。
type IntentStore interface {
	GetPendingIntent(ctx context.Context, clientID string, kind model.ActionKind) *model.PendingIntent
	ClearPendingIntentIfMatch(ctx context.Context, clientID string, kind model.ActionKind, intentID string) bool
}

// Executor はアクションの実行インターフェース。
type Executor interface {
	Execute(ctx context.Context, inv action.Invocation) (action.Result, error)
}

// GateCheck は保留アクションの種別についてゲートが開いているかを判定する。
type GateCheck interface {
	Ready(ctx context.Context, userID string, kind model.ActionKind) bool
}

// Metrics は再実行の計測インターフェース。
type Metrics interface {
	RecordReplay(kind, outcome string)
	RecordReplayLatency(duration time.Duration)
}

// TransitionSource はセッション状態遷移の購読元。
type TransitionSource interface {
	Subscribe(fn func(session.Transition)) (unsubscribe func())
}

// Dispatcher は保留アクションの再実行を行う。
// 同一プロセス内では (client, kind) ごとに排他し、同じ保留アクションが二重に実行されないようにする。
// 複数プロセス間の競合は、実行後の比較削除で後から書かれた保留アクションを守るのみとする。
type Dispatcher struct {
	intents  IntentStore
	executor Executor
	gate     GateCheck
	metrics  Metrics
	logger   *slog.Logger
	locks    *keyedMutex
	timeout  time.Duration
}

// NewDispatcher はDispatcherを生成する。gateとmetricsはnilでもよい。
func NewDispatcher(intents IntentStore, executor Executor, gate GateCheck, metrics Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		intents:  intents,
		executor: executor,
		gate:     gate,
		metrics:  metrics,
		logger:   logger,
		locks:    newKeyedMutex(),
		timeout:  10 * time.Second,
	}
}

// Dispatch はページの対象に一致する保留アクションがあれば再実行する。
//  1. 該当種別の保留アクションがなければOutcomeNone
//  2. 対象が一致しなければOutcomeMismatch（保留アクションは変更しない）
//  3. ゲートが開いていなければOutcomeDeferred
//  4. 一致すればReplayフラグ付きでハンドラーを実行し、その後IDの比較削除を行う
//
// ハンドラーがエラーを返しても保留アクションは削除する（自動リトライはしない）。
// その場合はOutcomeFailedとエラーを返す。
func (d *Dispatcher) Dispatch(ctx context.Context, clientID, userID string, page Page) (Result, error) {
	unlock := d.locks.lock(clientID + "\x00" + string(page.Kind))
	defer unlock()

	pending := d.intents.GetPendingIntent(ctx, clientID, page.Kind)
	if pending == nil {
		return d.finish(page.Kind, Result{Outcome: OutcomeNone}), nil
	}
	if pending.TargetID != page.TargetID {
		return d.finish(page.Kind, Result{Outcome: OutcomeMismatch, Intent: pending}), nil
	}
	if d.gate != nil && !d.gate.Ready(ctx, userID, page.Kind) {
		return d.finish(page.Kind, Result{Outcome: OutcomeDeferred, Intent: pending}), nil
	}

	start := time.Now()
	res, err := d.executor.Execute(ctx, action.Invocation{
		UserID:   userID,
		ClientID: clientID,
		Action:   pending.Action(),
		Replay:   true,
	})
	if d.metrics != nil {
		d.metrics.RecordReplayLatency(time.Since(start))
	}

	// 実行を試みた後に削除する。実行中に書かれた新しい保留アクションは残る。
	d.intents.ClearPendingIntentIfMatch(ctx, clientID, page.Kind, pending.ID)

	if err != nil {
		d.logger.Warn("保留アクションの再実行に失敗しました",
			slog.String("client_id", clientID),
			slog.String("user_id", userID),
			slog.String("kind", string(page.Kind)),
			slog.String("error", err.Error()),
		)
		return d.finish(page.Kind, Result{
			Outcome: OutcomeFailed,
			Message: failureMessage(err),
			Intent:  pending,
		}), fmt.Errorf("replay %s: %w", page.Kind, err)
	}

	d.logger.Info("保留アクションを再実行しました",
		slog.String("client_id", clientID),
		slog.String("user_id", userID),
		slog.String("kind", string(page.Kind)),
		slog.String("target_id", pending.TargetID),
	)
	return d.finish(page.Kind, Result{
		Outcome: OutcomeReplayed,
		Message: res.Message,
		Intent:  pending,
		Action:  res,
	}), nil
}

func (d *Dispatcher) finish(kind model.ActionKind, r Result) Result {
	if d.metrics != nil {
		d.metrics.RecordReplay(string(kind), string(r.Outcome))
	}
	return r
}

func failureMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return transientFailureMessage
}

// Attach はクライアントの状態遷移を購読し、ログイン時とプロフィール完了時にDispatchを実行する。
// onResultは各実行の結果を受け取る（nilでもよい）。戻り値の関数で購読を解除する。
func (d *Dispatcher) Attach(src TransitionSource, clientID string, page Page, onResult func(Result, error)) (detach func()) {
	return src.Subscribe(func(tr session.Transition) {
		if !shouldReplay(tr, clientID) {
			return
		}
		userID := tr.Session.UserID
		// 購読コールバックは通知元のゴルーチンで呼ばれるため、再実行は別ゴルーチンで行う。
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			res, err := d.Dispatch(ctx, clientID, userID, page)
			if onResult != nil {
				onResult(res, err)
			}
		}()
	})
}

func shouldReplay(tr session.Transition, clientID string) bool {
	if tr.ClientID != clientID || tr.To != session.Authenticated || tr.Session == nil {
		return false
	}
	return tr.SignedIn || tr.From != session.Authenticated || tr.ProfileBecameComplete
}

// keyedMutex はキーごとの排他ロック。使用中のキーのみ保持する。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
