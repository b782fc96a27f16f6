package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
	calls      int
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.calls++
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func validSessionRepo() *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "valid-session-id" {
				return &model.Session{
					ID:        "valid-session-id",
					UserID:    "user-123",
					Role:      model.RoleFamily,
					ExpiresAt: time.Now().Add(1 * time.Hour),
				}, nil
			}
			return nil, nil
		},
	}
}

// --- NewSessionMiddleware ---

func TestSessionMiddleware_ValidSession_InjectsSession(t *testing.T) {
	mw := NewSessionMiddleware(validSessionRepo())

	var capturedUserID string
	var captured *model.Session
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		captured = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
	if captured == nil || captured.Role != model.RoleFamily {
		t.Errorf("session = %+v, want family session", captured)
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		repo   *mockSessionRepository
	}{
		{name: "no cookie", repo: &mockSessionRepository{}},
		{name: "empty cookie", cookie: &http.Cookie{Name: SessionCookieName, Value: ""}, repo: &mockSessionRepository{}},
		{
			name:   "expired session",
			cookie: &http.Cookie{Name: SessionCookieName, Value: "expired-session"},
			repo:   &mockSessionRepository{},
		},
		{
			name:   "repository error",
			cookie: &http.Cookie{Name: SessionCookieName, Value: "some-session"},
			repo: &mockSessionRepository{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return nil, context.DeadlineExceeded
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(tt.repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

func TestSessionMiddleware_ReusesOptionalSession(t *testing.T) {
	repo := validSessionRepo()
	chain := NewOptionalSessionMiddleware(repo)(NewSessionMiddleware(repo)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	chain.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if repo.calls != 1 {
		t.Errorf("FindByID calls = %d, want 1", repo.calls)
	}
}

// --- NewOptionalSessionMiddleware ---

func TestOptionalSessionMiddleware_AnonymousPassesThrough(t *testing.T) {
	called := false
	handler := NewOptionalSessionMiddleware(validSessionRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if s := SessionFromContext(r.Context()); s != nil {
			t.Errorf("session = %+v, want nil", s)
		}
		if _, err := UserIDFromContext(r.Context()); err == nil {
			t.Error("expected no user ID for anonymous request")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/features", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "unknown"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("handler should be called")
	}
}

func TestOptionalSessionMiddleware_InjectsSession(t *testing.T) {
	var userID string
	handler := NewOptionalSessionMiddleware(validSessionRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/features", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if userID != "user-123" {
		t.Errorf("userID = %q, want %q", userID, "user-123")
	}
}

// --- NewClientContextMiddleware ---

func TestClientContextMiddleware_IssuesCookie(t *testing.T) {
	var clientID string
	handler := NewClientContextMiddleware(ClientContextConfig{CookieSecure: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID = ClientIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(clientID); err != nil {
		t.Fatalf("client ID %q is not a uuid: %v", clientID, err)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == ClientIDCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("client_id cookie was not set")
	}
	if cookie.Value != clientID {
		t.Errorf("cookie value = %q, want %q", cookie.Value, clientID)
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Errorf("cookie should be HttpOnly and Secure: %+v", cookie)
	}
}

func TestClientContextMiddleware_ReusesExistingCookie(t *testing.T) {
	existing := uuid.New().String()

	var clientID string
	handler := NewClientContextMiddleware(ClientContextConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID = ClientIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientIDCookieName, Value: existing})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if clientID != existing {
		t.Errorf("client ID = %q, want %q", clientID, existing)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("no cookie should be set when a valid client_id exists")
	}
}

func TestClientContextMiddleware_ReplacesMalformedCookie(t *testing.T) {
	var clientID string
	handler := NewClientContextMiddleware(ClientContextConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID = ClientIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientIDCookieName, Value: "not-a-uuid"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if clientID == "not-a-uuid" || clientID == "" {
		t.Errorf("client ID = %q, want a freshly issued uuid", clientID)
	}
}

// --- コンテキストヘルパー ---

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if err == nil {
		t.Error("expected error for missing user ID in context")
	}
}

func TestUserIDFromContext_ValidValue_ReturnsUserID(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-456")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if userID != "user-456" {
		t.Errorf("userID = %q, want %q", userID, "user-456")
	}
}

func TestClientIDFromContext_Missing(t *testing.T) {
	if got := ClientIDFromContext(context.Background()); got != "" {
		t.Errorf("client ID = %q, want empty", got)
	}
}
