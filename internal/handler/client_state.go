package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/session"
)

// SessionObserver はブラウザコンテキストごとの認証状態。session.Observerが実装する。
type SessionObserver interface {
	Snapshot(clientID string) session.Snapshot
	Load(ctx context.Context, clientID, sessionID string) session.Snapshot
	Notify(ctx context.Context, ev session.Event) session.Transition
	Subscribe(fn func(session.Transition)) (unsubscribe func())
}

// resolveClientState はリクエストのセッションとオブザーバーの状態を揃えて返す。
//   - セッションがないのにAuthenticatedのままならSignedOutを通知する
//   - 初めてのクライアントやセッションが変わった場合はLoadで確認し直す
func resolveClientState(r *http.Request, observer SessionObserver) session.Snapshot {
	ctx := r.Context()
	clientID := middleware.ClientIDFromContext(ctx)
	sess := middleware.SessionFromContext(ctx)
	snap := observer.Snapshot(clientID)

	if sess == nil {
		switch snap.State {
		case session.Authenticated:
			observer.Notify(ctx, session.Event{Type: session.SignedOut, ClientID: clientID})
		case session.Uninitialized:
			observer.Load(ctx, clientID, "")
		}
		return session.Snapshot{State: session.Anonymous}
	}

	if snap.State != session.Authenticated || snap.Session == nil || snap.Session.ID != sess.ID {
		return observer.Load(ctx, clientID, sess.ID)
	}
	return snap
}

// clearSessionCookie はセッションCookieを失効させる。ログアウトと退会で使う。
func clearSessionCookie(w http.ResponseWriter, config AuthHandlerConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
