package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/session"
)

// UserServiceInterface は退会処理を提供する。
type UserServiceInterface interface {
	// Withdraw は投票、体験談、契約、プロフィール、セッションを削除した後にユーザーを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はアカウント操作のHTTPハンドラー。
type UserHandler struct {
	service  UserServiceInterface
	observer SessionObserver
	config   AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, observer SessionObserver, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service:  service,
		observer: observer,
		config:   config,
	}
}

// Withdraw は退会処理を行い、このブラウザを未ログイン状態に戻す。
// 保留アクションはブラウザに紐づくため残る。再ログインすれば新しいアカウントで再実行される。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	clientID := middleware.ClientIDFromContext(r.Context())
	if clientID != "" {
		h.observer.Notify(r.Context(), session.Event{Type: session.SignedOut, ClientID: clientID})
	}
	slog.Info("退会しました",
		slog.String("user_id", userID),
		slog.String("client_id", clientID),
	)

	clearSessionCookie(w, h.config)
	w.WriteHeader(http.StatusNoContent)
}
