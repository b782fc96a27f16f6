// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/carelink/internal/auth"
	"github.com/hitoshi/carelink/internal/gate"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	returnToCookie   = "return_to"
	oauthCookieTTL   = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, clientID, code string) (*auth.LoginResult, error)
	Logout(ctx context.Context, clientID, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// PendingIntentReader はクライアントの最新の保留アクションを取得する。
type PendingIntentReader interface {
	LatestPendingIntent(ctx context.Context, clientID string) *model.PendingIntent
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	intents  PendingIntentReader
	observer SessionObserver
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, intents PendingIntentReader, observer SessionObserver, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		intents:  intents,
		observer: observer,
		config:   config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login?return_to=/path
// return_toはアプリ内の絶対パスのみ受け付け、コールバック後の遷移先候補として保持する。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")
	if returnTo != "" && !gate.IsSafeReturnPath(returnTo) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidReturnPathError(returnTo))
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortCookie(w, oauthStateCookie, state, oauthCookieTTL)
	if returnTo != "" {
		h.setShortCookie(w, returnToCookie, returnTo, oauthCookieTTL)
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
//
// 遷移先の優先順位: 保留アクションの戻り先 → return_to → ロールの遷移先 → BaseURL
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}
	h.setShortCookie(w, oauthStateCookie, "", -1)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 3. 認証処理（オブザーバーへのSignedIn通知を含む）
	ctx := r.Context()
	clientID := middleware.ClientIDFromContext(ctx)
	result, err := h.service.HandleCallback(ctx, clientID, code)
	if err != nil {
		slog.Warn("oauth callback failed", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    result.Session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 5. 遷移先にリダイレクト
	destination := h.destination(r, clientID, result.Destination)
	h.setShortCookie(w, returnToCookie, "", -1)
	http.Redirect(w, r, destination, http.StatusTemporaryRedirect)
}

// destination はログイン後の遷移先を決める。
// 保留アクションがある場合はオブザーバーの決めた遷移先（保留アクションの戻り先）を使う。
func (h *AuthHandler) destination(r *http.Request, clientID, observed string) string {
	if h.intents != nil && h.intents.LatestPendingIntent(r.Context(), clientID) != nil && observed != "" {
		return h.absolute(observed)
	}
	if c, err := r.Cookie(returnToCookie); err == nil && gate.IsSafeReturnPath(c.Value) {
		return h.absolute(c.Value)
	}
	if observed != "" {
		return h.absolute(observed)
	}
	return h.config.BaseURL
}

// absolute はアプリ内パスをフロントエンドのURLに変換する。
func (h *AuthHandler) absolute(path string) string {
	return h.config.BaseURL + path
}

// Logout はセッションを破棄する。
// POST /auth/logout
// 保留アクションは破棄しない。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		clientID := middleware.ClientIDFromContext(r.Context())
		if logoutErr := h.service.Logout(r.Context(), clientID, cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	clearSessionCookie(w, h.config)
	w.WriteHeader(http.StatusNoContent)
}

// meResponse はログインユーザー情報のAPIレスポンス。
type meResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Role            string `json:"role,omitempty"`
	ProfileComplete bool   `json:"profile_complete"`
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), sess.ID)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	snap := resolveClientState(r, h.observer)
	writeJSON(w, http.StatusOK, meResponse{
		ID:              user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Role:            string(snap.Role),
		ProfileComplete: snap.ProfileComplete,
	})
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
