// Package session はブラウザコンテキストごとの認証状態を追跡し、状態遷移を購読者に通知する。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// State はブラウザコンテキストの認証状態。
type State string

const (
	// Uninitialized は一度もセッションを確認していない状態。
	Uninitialized State = "uninitialized"
	// Loading はセッションを確認中の状態。
	Loading State = "loading"
	// Authenticated はログイン済みの状態。
	Authenticated State = "authenticated"
	// Anonymous は未ログインの状態。
	Anonymous State = "anonymous"
)

// EventType は認証プロバイダーからのイベント種別。
type EventType string

const (
	SignedIn       EventType = "signed_in"
	SignedOut      EventType = "signed_out"
	UserUpdated    EventType = "user_updated"
	TokenRefreshed EventType = "token_refreshed"
)

// Event は認証状態の変化を通知するイベント。
type Event struct {
	Type     EventType
	ClientID string
	Session  *model.Session
}

// Snapshot はある時点のクライアントの状態。
type Snapshot struct {
	State           State
	Session         *model.Session
	Role            model.Role
	ProfileComplete bool
}

// Transition は状態遷移の通知内容。
type Transition struct {
	ClientID        string
	From            State
	To              State
	Session         *model.Session
	Role            model.Role
	ProfileComplete bool
	// ProfileBecameComplete はこの遷移でプロフィールが未完了から完了に変わったことを示す。
	ProfileBecameComplete bool
	// SignedIn は未ログインからのログインであることを示す。
	// セッション復元やトークン更新ではfalse。
	SignedIn bool
	// Destination はSignedInの場合のログイン後遷移先。Notifyの戻り値にのみ設定され、購読者には届かない。
	Destination string
}

// SessionSource は既存セッションの取得インターフェース。
type SessionSource interface {
	GetCurrentSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// SessionSourceFunc は関数をSessionSourceとして使うためのアダプタ。
type SessionSourceFunc func(ctx context.Context, sessionID string) (*model.Session, error)

// GetCurrentSession はf(ctx, sessionID)を呼ぶ。
func (f SessionSourceFunc) GetCurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return f(ctx, sessionID)
}

// ProfileSource はプロフィールの取得インターフェース。
type ProfileSource interface {
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// IntentReader は最新の保留アクションの取得インターフェース。
type IntentReader interface {
	LatestPendingIntent(ctx context.Context, clientID string) *model.PendingIntent
}

// DestinationPolicy はロールごとのログイン後遷移先を提供する。
type DestinationPolicy interface {
	DestinationFor(role model.Role) string
}

type clientState struct {
	state           State
	session         *model.Session
	role            model.Role
	profileComplete bool
	lastSeen        time.Time
}

// Observer はクライアントごとの認証状態を保持するプロセス全体のオブジェクト。
// 状態遷移は内部ロックを解放してから購読者に同期的に通知する。
type Observer struct {
	sessions SessionSource
	profiles ProfileSource
	intents  IntentReader
	policy   DestinationPolicy
	fallback string
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	clients     map[string]*clientState
	subscribers map[int]func(Transition)
	nextSubID   int
}

// NewObserver はObserverを生成する。
// fallbackはロール別の遷移先がない場合のログイン後遷移先。
func NewObserver(sessions SessionSource, profiles ProfileSource, intents IntentReader, policy DestinationPolicy, fallback string, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == "" {
		fallback = "/"
	}
	return &Observer{
		sessions:    sessions,
		profiles:    profiles,
		intents:     intents,
		policy:      policy,
		fallback:    fallback,
		logger:      logger,
		now:         time.Now,
		clients:     make(map[string]*clientState),
		subscribers: make(map[int]func(Transition)),
	}
}

// Subscribe は状態遷移の購読を登録し、解除関数を返す。
// 解除関数は何度呼んでもよい。
func (o *Observer) Subscribe(fn func(Transition)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subscribers, id)
			o.mu.Unlock()
		})
	}
}

// Snapshot はクライアントの現在の状態を返す。未知のクライアントはUninitialized。
func (o *Observer) Snapshot(clientID string) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	cs, ok := o.clients[clientID]
	if !ok {
		return Snapshot{State: Uninitialized}
	}
	return Snapshot{
		State:           cs.state,
		Session:         cs.session,
		Role:            cs.role,
		ProfileComplete: cs.profileComplete,
	}
}

// Load は既存セッションを確認してクライアントの初期状態を確定する。
// sessionIDが空、期限切れ、または取得に失敗した場合はAnonymousになる。
func (o *Observer) Load(ctx context.Context, clientID, sessionID string) Snapshot {
	o.apply(clientID, func(cs *clientState) bool {
		if cs.state == Loading {
			return false
		}
		cs.state = Loading
		return true
	}, nil)

	var sess *model.Session
	if sessionID != "" {
		s, err := o.sessions.GetCurrentSession(ctx, sessionID)
		if err != nil {
			o.logger.Warn("セッションの確認に失敗しました",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		} else {
			sess = s
		}
	}

	if sess == nil {
		o.signOut(clientID)
	} else {
		o.authenticate(ctx, clientID, sess, false)
	}
	return o.Snapshot(clientID)
}

// Notify は認証プロバイダーからのイベントを反映し、発生した遷移を返す。
// 状態が変化しない場合、戻り値のFromとToは等しい。
func (o *Observer) Notify(ctx context.Context, ev Event) Transition {
	switch ev.Type {
	case SignedOut:
		return o.signOut(ev.ClientID)
	case SignedIn:
		if ev.Session == nil {
			return o.signOut(ev.ClientID)
		}
		return o.authenticate(ctx, ev.ClientID, ev.Session, true)
	case UserUpdated, TokenRefreshed:
		sess := ev.Session
		if sess == nil {
			sess = o.Snapshot(ev.ClientID).Session
		}
		if sess == nil {
			return o.signOut(ev.ClientID)
		}
		return o.authenticate(ctx, ev.ClientID, sess, false)
	default:
		o.logger.Warn("未知の認証イベントを無視します", slog.String("type", string(ev.Type)))
		snap := o.Snapshot(ev.ClientID)
		return Transition{ClientID: ev.ClientID, From: snap.State, To: snap.State}
	}
}

// RefreshProfile はログイン中のクライアントのロールとプロフィール完了状態を再取得する。
// ログインしていないクライアントでは何もしない。
func (o *Observer) RefreshProfile(ctx context.Context, clientID string) Transition {
	snap := o.Snapshot(clientID)
	if snap.State != Authenticated || snap.Session == nil {
		return Transition{ClientID: clientID, From: snap.State, To: snap.State}
	}
	return o.authenticate(ctx, clientID, snap.Session, false)
}

// RefreshUser はユーザーに紐づく全クライアントのプロフィール状態を再取得する。
// 別タブでプロフィールを更新した場合にも完了通知を届けるために使う。
func (o *Observer) RefreshUser(ctx context.Context, userID string) {
	o.mu.Lock()
	var clientIDs []string
	for id, cs := range o.clients {
		if cs.state == Authenticated && cs.session != nil && cs.session.UserID == userID {
			clientIDs = append(clientIDs, id)
		}
	}
	o.mu.Unlock()

	for _, id := range clientIDs {
		o.RefreshProfile(ctx, id)
	}
}

// Prune はidleより長く操作のないクライアントの状態を破棄し、破棄した件数を返す。
func (o *Observer) Prune(idle time.Duration) int {
	cutoff := o.now().Add(-idle)
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, cs := range o.clients {
		if cs.lastSeen.Before(cutoff) {
			delete(o.clients, id)
			n++
		}
	}
	return n
}

// authenticate はクライアントをAuthenticatedにし、ロールと完了状態を取得する。
// プロフィールの取得に失敗した場合はロール不明のままAuthenticatedとする。
func (o *Observer) authenticate(ctx context.Context, clientID string, sess *model.Session, signIn bool) Transition {
	role := sess.Role
	complete := false
	profile, err := o.profiles.FindByUserID(ctx, sess.UserID)
	if err != nil {
		o.logger.Warn("プロフィールの取得に失敗しました",
			slog.String("client_id", clientID),
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		role = ""
	} else {
		if profile != nil {
			role = profile.Role
		}
		complete = model.IsProfileComplete(profile)
	}

	var tr Transition
	o.apply(clientID, func(cs *clientState) bool {
		from := cs.state
		wasComplete := cs.profileComplete && cs.state == Authenticated
		// 期限切れ後の再ログインなど、Authenticatedのまま別セッションが届いた場合もサインインとみなす
		signedIn := signIn && (from != Authenticated || cs.session == nil || cs.session.ID != sess.ID)
		cs.state = Authenticated
		cs.session = sess
		cs.role = role
		cs.profileComplete = complete

		tr = Transition{
			ClientID:              clientID,
			From:                  from,
			To:                    Authenticated,
			Session:               sess,
			Role:                  role,
			ProfileComplete:       complete,
			ProfileBecameComplete: from == Authenticated && !signedIn && !wasComplete && complete,
			SignedIn:              signedIn,
		}
		return from != Authenticated || tr.ProfileBecameComplete || signedIn
	}, &tr)

	if tr.SignedIn {
		tr.Destination = o.postLoginDestination(ctx, clientID, role)
	}
	return tr
}

// signOut はクライアントをAnonymousにする。保留アクションは残す。
func (o *Observer) signOut(clientID string) Transition {
	var tr Transition
	o.apply(clientID, func(cs *clientState) bool {
		from := cs.state
		cs.state = Anonymous
		cs.session = nil
		cs.role = ""
		cs.profileComplete = false
		tr = Transition{ClientID: clientID, From: from, To: Anonymous}
		return from != Anonymous
	}, &tr)
	return tr
}

// apply はロック下で状態を更新し、mutateがtrueを返した場合はロック解放後に遷移を通知する。
// trがnilの場合は状態のみから遷移を組み立てる。
func (o *Observer) apply(clientID string, mutate func(cs *clientState) bool, tr *Transition) {
	o.mu.Lock()
	cs, ok := o.clients[clientID]
	if !ok {
		cs = &clientState{state: Uninitialized}
		o.clients[clientID] = cs
	}
	from := cs.state
	changed := mutate(cs)
	cs.lastSeen = o.now()

	var notify Transition
	if tr != nil {
		notify = *tr
	} else {
		notify = Transition{
			ClientID: clientID, From: from, To: cs.state,
			Session: cs.session, Role: cs.role, ProfileComplete: cs.profileComplete,
		}
	}
	subs := make([]func(Transition), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(notify)
	}
}

// postLoginDestination はログイン後の遷移先を決める。
// 保留アクションの戻り先を最優先し、なければロールの遷移先、それもなければfallback。
func (o *Observer) postLoginDestination(ctx context.Context, clientID string, role model.Role) string {
	if p := o.intents.LatestPendingIntent(ctx, clientID); p != nil && p.ReturnPath != "" {
		return p.ReturnPath
	}
	if dest := o.policy.DestinationFor(role); dest != "" {
		return dest
	}
	return o.fallback
}
