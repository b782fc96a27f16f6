package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

func testLimiterConfig(generalBurst, voteBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		VoteRate:        1,
		VoteBurst:       voteBurst,
		CleanupInterval: 1 * time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// serveAs はユーザーIDをコンテキストに入れてリクエストを処理し、レスポンスを返す。
func serveAs(h http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), userIDContextKey, userID))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		if w := serveAs(handler, "user-1"); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := serveAs(handler, "user-1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retrySeconds, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retrySeconds < 1 {
		t.Errorf("Retry-After = %q, want a positive number", w.Header().Get("Retry-After"))
	}
}

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	serveAs(handler, "user-json")
	w := serveAs(handler, "user-json")

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Message == "" || body.Category == "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	if w := serveAs(handler, "user-A"); w.Code != http.StatusOK {
		t.Errorf("user-A first: status = %d", w.Code)
	}
	if w := serveAs(handler, "user-A"); w.Code != http.StatusTooManyRequests {
		t.Errorf("user-A second: status = %d, want 429", w.Code)
	}
	if w := serveAs(handler, "user-B"); w.Code != http.StatusOK {
		t.Errorf("user-B first: status = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.VoteMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called without user ID")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/features/F1/vote", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestVoteRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(100, 2))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	vote := rl.VoteMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		if w := serveAs(vote, "voter"); w.Code != http.StatusOK {
			t.Errorf("vote %d: status = %d, want 200", i, w.Code)
		}
	}
	if w := serveAs(vote, "voter"); w.Code != http.StatusTooManyRequests {
		t.Errorf("third vote: status = %d, want 429", w.Code)
	}
	if w := serveAs(general, "voter"); w.Code != http.StatusOK {
		t.Errorf("general after vote limit: status = %d, want 200", w.Code)
	}
	if rl.VoteLimiterCount() != 1 || rl.GeneralLimiterCount() != 1 {
		t.Errorf("counts = vote %d, general %d; want 1, 1", rl.VoteLimiterCount(), rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testLimiterConfig(5, 5)
	cfg.CleanupInterval = 50 * time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	serveAs(rl.GeneralMiddleware()(okHandler()), "user-cleanup")
	serveAs(rl.VoteMiddleware()(okHandler()), "user-cleanup")
	if rl.GeneralLimiterCount() == 0 || rl.VoteLimiterCount() == 0 {
		t.Fatal("expected limiter entries")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	time.Sleep(250 * time.Millisecond)

	if n := rl.GeneralLimiterCount() + rl.VoteLimiterCount(); n != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", n)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

func TestRateLimitMiddleware_InChainWithSessionAndCORS(t *testing.T) {
	repo := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "rate-limit-session" {
				return &model.Session{
					ID:        "rate-limit-session",
					UserID:    "user-rate-chain",
					ExpiresAt: time.Now().Add(1 * time.Hour),
				}, nil
			}
			return nil, nil
		},
	}

	rl := NewRateLimiter(testLimiterConfig(2, 10))
	defer rl.Stop()

	// CORS -> Session -> RateLimit -> Handler
	handler := NewCORSMiddleware("http://localhost:3000")(NewSessionMiddleware(repo)(rl.GeneralMiddleware()(okHandler())))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "rate-limit-session"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.VoteRate != 0.5 {
		t.Errorf("VoteRate = %f, want 0.5", cfg.VoteRate)
	}
	if cfg.VoteBurst != 10 {
		t.Errorf("VoteBurst = %d, want 10", cfg.VoteBurst)
	}
}
