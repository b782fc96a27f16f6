// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/model"
)

const (
	// SessionCookieName はセッションIDを保持するCookieの名前。
	SessionCookieName = "session_id"
	// ClientIDCookieName はブラウザコンテキストの識別子を保持するCookieの名前。
	ClientIDCookieName = "client_id"

	clientIDMaxAge = 365 * 24 * 60 * 60
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey   = contextKey("user_id")
	sessionContextKey  = contextKey("session")
	clientIDContextKey = contextKey("client_id")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// ClientContextConfig はclient_id Cookieの設定。
type ClientContextConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewClientContextMiddleware はブラウザコンテキストの識別子をコンテキストに注入するミドルウェアを返す。
// client_id Cookieがない、または不正な値の場合は新しいUUIDを発行してCookieに設定する。
func NewClientContextMiddleware(config ClientContextConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if cookie, err := r.Cookie(ClientIDCookieName); err == nil {
				if _, err := uuid.Parse(cookie.Value); err == nil {
					clientID = cookie.Value
				}
			}

			if clientID == "" {
				clientID = uuid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientIDCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   clientIDMaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClientID(r.Context(), clientID)))
		})
	}
}

// NewOptionalSessionMiddleware は有効なセッションがあればコンテキストに注入するミドルウェアを返す。
// 未認証のリクエストもそのまま次のハンドラーに渡す。
func NewOptionalSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session := findSession(r, sessionFinder); session != nil {
				r = r.WithContext(ContextWithSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みセッションとユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// OptionalSessionMiddlewareを通過済みならそのセッションを使う
			session := SessionFromContext(r.Context())
			if session == nil {
				session = findSession(r, sessionFinder)
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// findSession はCookieのセッションIDからセッションを取得する。
// Cookieがない、期限切れ、または取得に失敗した場合はnilを返す。
func findSession(r *http.Request, sessionFinder SessionFinder) *model.Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return session
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。未認証の場合はnil。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// ContextWithSession はコンテキストにセッションとそのユーザーIDを注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	return ContextWithUserID(ctx, session.UserID)
}

// ClientIDFromContext はリクエストコンテキストからブラウザコンテキストの識別子を取得する。
// ClientContextMiddlewareを通過していない場合は空文字列。
func ClientIDFromContext(ctx context.Context) string {
	clientID, _ := ctx.Value(clientIDContextKey).(string)
	return clientID
}

// ContextWithClientID はコンテキストにブラウザコンテキストの識別子を注入する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}
