package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/replay"
)

// --- モック定義 ---

type mockFeatureService struct {
	mu           sync.Mutex
	listFn       func(ctx context.Context, userID string) ([]model.FeatureWithVotes, error)
	getFn        func(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error)
	retractFn    func(ctx context.Context, featureID, userID string) error
	getCallCount int
}

func (m *mockFeatureService) ListFeatures(ctx context.Context, userID string) ([]model.FeatureWithVotes, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockFeatureService) GetFeature(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error) {
	m.mu.Lock()
	m.getCallCount++
	m.mu.Unlock()
	if m.getFn != nil {
		return m.getFn(ctx, featureID, userID)
	}
	return &model.FeatureWithVotes{FeatureRequest: model.FeatureRequest{ID: featureID}}, nil
}

func (m *mockFeatureService) Retract(ctx context.Context, featureID, userID string) error {
	if m.retractFn != nil {
		return m.retractFn(ctx, featureID, userID)
	}
	return nil
}

type stubFeed struct {
	ch           chan struct{}
	unsubscribed chan struct{}
}

func newStubFeed() *stubFeed {
	return &stubFeed{ch: make(chan struct{}, 1), unsubscribed: make(chan struct{})}
}

func (f *stubFeed) Subscribe(string) (<-chan struct{}, func()) {
	return f.ch, func() { close(f.unsubscribed) }
}

// stubDispatcher はReplayDispatcherのモック実装。Attachで渡されたコールバックをattachedに送る。
type stubDispatcher struct {
	dispatchFn func(ctx context.Context, clientID, userID string, page replay.Page) (replay.Result, error)
	attached   chan func(replay.Result, error)
	pages      []replay.Page
}

func (d *stubDispatcher) Dispatch(ctx context.Context, clientID, userID string, page replay.Page) (replay.Result, error) {
	d.pages = append(d.pages, page)
	if d.dispatchFn != nil {
		return d.dispatchFn(ctx, clientID, userID, page)
	}
	return replay.Result{Outcome: replay.OutcomeNone}, nil
}

func (d *stubDispatcher) Attach(_ replay.TransitionSource, _ string, page replay.Page, onResult func(replay.Result, error)) func() {
	d.pages = append(d.pages, page)
	if d.attached != nil {
		d.attached <- onResult
	}
	return func() {}
}

func featureRouter(h *FeatureHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithClientID(r.Context(), "client-1")))
		})
	})
	r.Get("/api/features", h.List)
	r.Get("/api/features/{id}", h.Get)
	r.Post("/api/features/{id}/vote", h.Vote)
	r.Delete("/api/features/{id}/vote", h.Unvote)
	r.Get("/api/features/{id}/events", h.Events)
	return r
}

// --- テスト ---

func TestFeatureHandler_List(t *testing.T) {
	svc := &mockFeatureService{
		listFn: func(ctx context.Context, userID string) ([]model.FeatureWithVotes, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return []model.FeatureWithVotes{
				{FeatureRequest: model.FeatureRequest{ID: "f-1", Title: "Dark mode"}, VoteCount: 2},
				{FeatureRequest: model.FeatureRequest{ID: "f-2", Title: "Calendar"}, VoteCount: 5, VotedByMe: true},
			}, nil
		},
	}
	h := NewFeatureHandler(svc, nil, nil, nil, nil, nil)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/features", nil), "user-1")
	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body []featureResponse
	decodeResponse(t, w, &body)
	if len(body) != 2 || body[1].ID != "f-2" || body[1].VoteCount != 5 || !body[1].VotedByMe {
		t.Errorf("body = %+v", body)
	}
}

func TestFeatureHandler_List_EmptyIsArray(t *testing.T) {
	h := NewFeatureHandler(&mockFeatureService{}, nil, nil, nil, nil, nil)

	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/features", nil))

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestFeatureHandler_Get_NotFound(t *testing.T) {
	svc := &mockFeatureService{
		getFn: func(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error) {
			return nil, model.NewFeatureNotFoundError(featureID)
		},
	}
	h := NewFeatureHandler(svc, nil, nil, nil, nil, nil)

	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/features/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestFeatureHandler_Vote_AnonymousRedirectsWithDefaultReturnPath(t *testing.T) {
	g := &mockGate{}
	actions := NewActionHandler(g, &mockExecutor{}, &stubObserver{}, nil)
	h := NewFeatureHandler(&mockFeatureService{}, actions, nil, nil, nil, &stubCooldown{allow: true})

	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/features/f-1/vote", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(g.calls) != 1 {
		t.Fatalf("gate calls = %d, want 1", len(g.calls))
	}
	want := model.Action{Kind: model.ActionVote, TargetID: "f-1", ReturnPath: "/features/f-1"}
	if got := g.calls[0]; got.Kind != want.Kind || got.TargetID != want.TargetID || got.ReturnPath != want.ReturnPath {
		t.Errorf("action = %+v, want %+v", got, want)
	}
}

func TestFeatureHandler_Vote_UsesRequestedReturnPath(t *testing.T) {
	g := &mockGate{}
	actions := NewActionHandler(g, &mockExecutor{}, &stubObserver{}, nil)
	h := NewFeatureHandler(&mockFeatureService{}, actions, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/features/f-1/vote", strings.NewReader(`{"return_path":"/roadmap"}`))
	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, req)

	if len(g.calls) != 1 || g.calls[0].ReturnPath != "/roadmap" {
		t.Errorf("gate calls = %+v", g.calls)
	}
}

func TestFeatureHandler_Vote_CooldownSuppressesDoubleSubmit(t *testing.T) {
	g := &mockGate{}
	cooldown := &stubCooldown{allow: false}
	actions := NewActionHandler(g, &mockExecutor{}, &stubObserver{}, nil)
	h := NewFeatureHandler(&mockFeatureService{}, actions, nil, nil, nil, cooldown)

	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/features/f-1/vote", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}
	var body apiErrorResponse
	decodeResponse(t, w, &body)
	if body.Code != errCodeCooldown {
		t.Errorf("code = %q, want %q", body.Code, errCodeCooldown)
	}
	if body.RetryAfter != 2 {
		t.Errorf("retry_after = %d, want 2", body.RetryAfter)
	}
	if len(g.calls) != 0 {
		t.Error("gate should not be evaluated while cooling down")
	}
	if len(cooldown.keys) != 1 || cooldown.keys[0] != "client-1:vote:f-1" {
		t.Errorf("cooldown keys = %v", cooldown.keys)
	}
}

func TestFeatureHandler_Unvote(t *testing.T) {
	var gotFeature, gotUser string
	svc := &mockFeatureService{
		retractFn: func(ctx context.Context, featureID, userID string) error {
			gotFeature, gotUser = featureID, userID
			return nil
		},
	}
	h := NewFeatureHandler(svc, nil, nil, nil, nil, nil)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/features/f-1/vote", nil), "user-1")
	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotFeature != "f-1" || gotUser != "user-1" {
		t.Errorf("Retract(%q, %q)", gotFeature, gotUser)
	}
}

func TestFeatureHandler_Unvote_NotVoted(t *testing.T) {
	svc := &mockFeatureService{
		retractFn: func(context.Context, string, string) error { return model.NewVoteNotFoundError() },
	}
	h := NewFeatureHandler(svc, nil, nil, nil, nil, nil)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/features/f-1/vote", nil), "user-1")
	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// sseEvent はテスト用に読み取ったSSEイベント。
type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && ev.name != "":
			return ev
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestFeatureHandler_Events_StreamsCountsAndReplays(t *testing.T) {
	var count int
	var mu sync.Mutex
	svc := &mockFeatureService{
		getFn: func(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error) {
			mu.Lock()
			defer mu.Unlock()
			count++
			return &model.FeatureWithVotes{FeatureRequest: model.FeatureRequest{ID: featureID}, VoteCount: count}, nil
		},
	}
	feed := newStubFeed()
	dispatcher := &stubDispatcher{attached: make(chan func(replay.Result, error), 1)}
	h := NewFeatureHandler(svc, nil, feed, dispatcher, &stubObserver{}, nil)
	h.heartbeat = time.Hour

	srv := httptest.NewServer(featureRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/features/f-1/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	reader := bufio.NewReader(resp.Body)

	// 接続直後の状態
	ev := readEvent(t, reader)
	var f featureResponse
	if err := json.Unmarshal([]byte(ev.data), &f); err != nil || ev.name != "feature" || f.VoteCount != 1 {
		t.Fatalf("first event = %+v (err=%v)", ev, err)
	}

	var onResult func(replay.Result, error)
	select {
	case onResult = <-dispatcher.attached:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not attach a replay dispatcher")
	}
	if len(dispatcher.pages) != 1 || dispatcher.pages[0] != (replay.Page{Kind: model.ActionVote, TargetID: "f-1"}) {
		t.Errorf("attached pages = %+v", dispatcher.pages)
	}

	// 投票数の変更通知
	feed.ch <- struct{}{}
	ev = readEvent(t, reader)
	if err := json.Unmarshal([]byte(ev.data), &f); err != nil || ev.name != "feature" || f.VoteCount != 2 {
		t.Fatalf("change event = %+v (err=%v)", ev, err)
	}

	// 何もしなかった再実行チェックは配信しない
	onResult(replay.Result{Outcome: replay.OutcomeNone}, nil)
	onResult(replay.Result{Outcome: replay.OutcomeReplayed, Message: "Thank you for voting!"}, nil)
	ev = readEvent(t, reader)
	var rr replayResponse
	if err := json.Unmarshal([]byte(ev.data), &rr); err != nil || ev.name != "replay" {
		t.Fatalf("replay event = %+v (err=%v)", ev, err)
	}
	if rr.Outcome != "replayed" || rr.Message != "Thank you for voting!" {
		t.Errorf("replay = %+v", rr)
	}

	resp.Body.Close()
	select {
	case <-feed.unsubscribed:
	case <-time.After(2 * time.Second):
		t.Error("stream did not unsubscribe after the client disconnected")
	}
}

func TestFeatureHandler_Events_UnknownFeature(t *testing.T) {
	svc := &mockFeatureService{
		getFn: func(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error) {
			return nil, model.NewFeatureNotFoundError(featureID)
		},
	}
	h := NewFeatureHandler(svc, nil, newStubFeed(), nil, nil, nil)

	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/features/missing/events", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestFeatureHandler_Get_InternalError(t *testing.T) {
	svc := &mockFeatureService{
		getFn: func(context.Context, string, string) (*model.FeatureWithVotes, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewFeatureHandler(svc, nil, nil, nil, nil, nil)

	w := httptest.NewRecorder()
	featureRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/features/f-1", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
