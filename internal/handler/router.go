package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/middleware"
)

// HealthChecker はヘルスチェック対象。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// IntentAccess はルーターが使う保留アクション操作。intent.Intentsが実装する。
type IntentAccess interface {
	IntentStore
	PendingIntentReader
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CookieSecure      bool
	CookieDomain      string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusMetrics     middleware.StatusMetrics
	MetricsHandler    http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ゲートと保留アクション
	Gate       GateEvaluator
	Executor   ActionExecutor
	Observer   SessionObserver
	Intents    IntentAccess
	Dispatcher ReplayDispatcher

	// エンゲージメント
	Tracker  EngagementTracker
	Cooldown Cooldown

	// ドメインサービス
	FeatureService      FeatureServiceInterface
	FeatureFeed         FeatureFeed
	ProfileService      ProfileServiceInterface
	StoryService        StoryLister
	SubscriptionService SubscriptionServiceInterface
	UserService         UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → ClientContext → OptionalSession → Logging → CSRF
//
// ゲート対象のPOST（投票、体験談、契約、メッセージ、予約）は未ログインでも受け付け、
// ゲート評価でログインへ誘導する。それ以外の個人データは SessionMiddleware → RateLimit の後に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.CookieSecure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewClientContextMiddleware(middleware.ClientContextConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	}))
	r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusMetrics))

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	}
	r.Use(middleware.NewCSRFMiddleware(csrfConfig))

	actionHandler := NewActionHandler(deps.Gate, deps.Executor, deps.Observer, deps.Tracker)
	authHandler := NewAuthHandler(deps.AuthService, deps.Intents, deps.Observer, deps.AuthConfig)
	intentHandler := NewIntentHandler(deps.Intents, deps.Dispatcher, deps.Observer)
	featureHandler := NewFeatureHandler(deps.FeatureService, actionHandler, deps.FeatureFeed, deps.Dispatcher, deps.Observer, deps.Cooldown)
	engagementHandler := NewEngagementHandler(deps.Tracker, deps.Cooldown)
	profileHandler := NewProfileHandler(deps.ProfileService)
	storyHandler := NewStoryHandler(deps.StoryService, actionHandler)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService, actionHandler)
	contactHandler := NewContactHandler(actionHandler)
	userHandler := NewUserHandler(deps.UserService, deps.Observer, deps.AuthConfig)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// ログイン済みの場合のみユーザー単位のレート制限を適用する
	general := whenAuthenticated(deps.RateLimiter.GeneralMiddleware())
	vote := whenAuthenticated(deps.RateLimiter.VoteMiddleware())

	r.Group(func(r chi.Router) {
		r.Use(general)

		r.Post("/api/actions", actionHandler.Perform)
		r.Post("/api/engagement", engagementHandler.Track)

		r.Get("/api/intents", intentHandler.List)
		r.Get("/api/intents/{kind}", intentHandler.Get)
		r.Delete("/api/intents/{kind}", intentHandler.Clear)

		r.Get("/api/features", featureHandler.List)
		r.Get("/api/features/{id}", featureHandler.Get)
		r.Get("/api/features/{id}/events", featureHandler.Events)
		r.With(vote).Post("/api/features/{id}/vote", featureHandler.Vote)

		r.Get("/api/stories", storyHandler.List)
		r.Post("/api/stories", storyHandler.Share)
		r.Post("/api/subscription", subHandler.Subscribe)
		r.Post("/api/messages", contactHandler.SendMessage)
		r.Post("/api/bookings", contactHandler.RequestBooking)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/intents/replay", intentHandler.Replay)
		r.With(deps.RateLimiter.VoteMiddleware()).Delete("/api/features/{id}/vote", featureHandler.Unvote)

		r.Get("/api/profile", profileHandler.Get)
		r.Patch("/api/profile", profileHandler.Update)

		r.Get("/api/subscription", subHandler.Get)
		r.Delete("/api/subscription", subHandler.Cancel)

		r.Delete("/api/users/me", userHandler.Withdraw)
	})

	return r
}

// whenAuthenticated はログイン済みのリクエストにのみmwを適用する。
func whenAuthenticated(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := middleware.UserIDFromContext(r.Context()); err != nil {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
