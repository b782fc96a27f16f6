package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/carelink/internal/action"
	"github.com/hitoshi/carelink/internal/gate"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/session"
)

// --- 共通ヘルパー ---

// withUserID はリクエストのコンテキストにユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withSession はリクエストのコンテキストにセッションとクライアントIDを注入する。
func withSession(r *http.Request, clientID string, sess *model.Session) *http.Request {
	ctx := middleware.ContextWithClientID(r.Context(), clientID)
	if sess != nil {
		ctx = middleware.ContextWithSession(ctx, sess)
	}
	return r.WithContext(ctx)
}

// decodeResponse はレスポンスボディをoutにデコードする。
func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v (body=%q)", err, w.Body.String())
	}
}

func findResponseCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- モック定義 ---

// stubObserver はSessionObserverのモック実装。常に同じスナップショットを返す。
type stubObserver struct {
	mu      sync.Mutex
	snap    session.Snapshot
	loads   []string
	notices []session.Event
}

func (o *stubObserver) Snapshot(string) session.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

func (o *stubObserver) Load(_ context.Context, _ string, sessionID string) session.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads = append(o.loads, sessionID)
	return o.snap
}

func (o *stubObserver) Notify(_ context.Context, ev session.Event) session.Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, ev)
	return session.Transition{ClientID: ev.ClientID}
}

func (o *stubObserver) Subscribe(func(session.Transition)) func() {
	return func() {}
}

// authenticatedObserver はsessでログイン済みのスナップショットを返すモックを生成する。
func authenticatedObserver(sess *model.Session, complete bool) *stubObserver {
	return &stubObserver{snap: session.Snapshot{
		State:           session.Authenticated,
		Session:         sess,
		Role:            sess.Role,
		ProfileComplete: complete,
	}}
}

// mockGate はGateEvaluatorのモック実装。evaluateFnがない場合はセッションの有無のみで判定する。
type mockGate struct {
	evaluateFn func(ctx context.Context, clientID string, act model.Action, sess *model.Session, profileComplete bool) gate.Decision
	calls      []model.Action
}

func (m *mockGate) Evaluate(ctx context.Context, clientID string, act model.Action, sess *model.Session, profileComplete bool) gate.Decision {
	m.calls = append(m.calls, act)
	if m.evaluateFn != nil {
		return m.evaluateFn(ctx, clientID, act, sess, profileComplete)
	}
	if sess == nil {
		return gate.Decision{Disposition: gate.RedirectToAuth, Location: "/auth/google/login"}
	}
	return gate.Decision{Disposition: gate.Allow}
}

// mockExecutor はActionExecutorのモック実装。
type mockExecutor struct {
	executeFn func(ctx context.Context, inv action.Invocation) (action.Result, error)
	calls     []action.Invocation
}

func (m *mockExecutor) Execute(ctx context.Context, inv action.Invocation) (action.Result, error) {
	m.calls = append(m.calls, inv)
	if m.executeFn != nil {
		return m.executeFn(ctx, inv)
	}
	return action.Result{Message: "done"}, nil
}

// recordingTracker はEngagementTrackerのモック実装。
type recordingTracker struct {
	mu     sync.Mutex
	events []model.EngagementEvent
}

func (r *recordingTracker) Track(_ context.Context, ev model.EngagementEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// stubCooldown はCooldownのモック実装。allowがfalseなら常に抑止する。
type stubCooldown struct {
	allow bool
	keys  []string
}

func (c *stubCooldown) Allow(key string) bool {
	c.keys = append(c.keys, key)
	return c.allow
}

func (c *stubCooldown) Window() time.Duration { return 2 * time.Second }
