package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/carelink/internal/action"
	"github.com/hitoshi/carelink/internal/auth"
	"github.com/hitoshi/carelink/internal/config"
	"github.com/hitoshi/carelink/internal/contact"
	"github.com/hitoshi/carelink/internal/database"
	"github.com/hitoshi/carelink/internal/engagement"
	"github.com/hitoshi/carelink/internal/gate"
	"github.com/hitoshi/carelink/internal/handler"
	"github.com/hitoshi/carelink/internal/intent"
	"github.com/hitoshi/carelink/internal/logger"
	"github.com/hitoshi/carelink/internal/metrics"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/notify"
	"github.com/hitoshi/carelink/internal/profile"
	"github.com/hitoshi/carelink/internal/replay"
	"github.com/hitoshi/carelink/internal/repository"
	"github.com/hitoshi/carelink/internal/security"
	"github.com/hitoshi/carelink/internal/session"
	"github.com/hitoshi/carelink/internal/story"
	"github.com/hitoshi/carelink/internal/subscription"
	"github.com/hitoshi/carelink/internal/user"
	"github.com/hitoshi/carelink/internal/vote"
	"github.com/hitoshi/carelink/internal/worker/cleanup"
)

const (
	// observerIdleTTL はアクセスのないブラウザコンテキストの状態を破棄するまでの時間。
	observerIdleTTL = 24 * time.Hour
	// localIntentPurgeInterval はsqlite / memoryストアの期限切れ保留アクションを削除する間隔。
	localIntentPurgeInterval = time.Hour
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// start は設定を読み込み、modeに対応する処理を起動する。
func start(w io.Writer, mode Command) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(mode)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch mode {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, MigrateOptions{}, w)
	default:
		return runServe(cfg)
	}
}

// openDatabase はPostgreSQLに接続し、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openIntentStore は設定に応じた保留アクションのストアを返す。
// 戻り値のcloseは常に呼び出してよい。
func openIntentStore(ctx context.Context, cfg *config.Config, db *sql.DB) (intent.Store, func(), error) {
	switch cfg.IntentStore {
	case config.IntentStoreSQLite:
		sqliteDB, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteIntentRepo(sqliteDB), func() { sqliteDB.Close() }, nil
	case config.IntentStoreMemory:
		return intent.NewMemoryStore(), func() {}, nil
	default:
		return repository.NewPostgresIntentRepo(db), func() {}, nil
	}
}

// newPublisher はRabbitMQが設定されていればその発行者を、なければNopPublisherを返す。
func newPublisher(cfg *config.Config) notify.Publisher {
	if cfg.RabbitMQURL == "" {
		return notify.NopPublisher{Logger: slog.Default()}
	}
	p, err := notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.NotifyQueue)
	if err != nil {
		slog.Warn("RabbitMQに接続できないため通知を無効化します",
			slog.String("error", err.Error()),
		)
		return notify.NopPublisher{Logger: slog.Default()}
	}
	return p
}

// newEngagementSinks はエンゲージメントイベントの書き出し先を返す。
// PostgreSQLは常に使い、KAFKA_BROKERSが設定されていればKafkaにも送る。
func newEngagementSinks(cfg *config.Config, repo engagement.EventInserter) ([]engagement.Sink, func()) {
	sinks := []engagement.Sink{engagement.NewRepositorySink(repo)}
	if len(cfg.KafkaBrokers) == 0 {
		return sinks, func() {}
	}
	kafkaSink := engagement.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaEngagementTopic)
	return append(sinks, kafkaSink), func() {
		if err := kafkaSink.Close(); err != nil {
			slog.Warn("failed to close kafka writer", slog.String("error", err.Error()))
		}
	}
}

// rateLimiterConfig はreq/min単位の設定をreq/secに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	}
	if cfg.RateLimitVote > 0 {
		rl.VoteRate = rate.Limit(float64(cfg.RateLimitVote) / 60.0)
	}
	return rl
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var background sync.WaitGroup

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	featureRepo := repository.NewPostgresFeatureRepo(db)
	voteRepo := repository.NewPostgresVoteRepo(db)
	storyRepo := repository.NewPostgresStoryRepo(db)
	planRepo := repository.NewPostgresPlanSubscriptionRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)
	bookingRepo := repository.NewPostgresBookingRepo(db)
	engagementRepo := repository.NewPostgresEngagementRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ゲートポリシーと保留アクション
	policy, err := gate.LoadPolicy(cfg.GatePolicyFile)
	if err != nil {
		return fmt.Errorf("failed to load gate policy: %w", err)
	}

	intentStore, closeIntentStore, err := openIntentStore(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to open intent store: %w", err)
	}
	defer closeIntentStore()

	intents := intent.NewIntents(intentStore,
		intent.WithMaxAge(cfg.IntentMaxAge),
		intent.WithMetrics(collector),
		intent.WithLogger(slog.Default()),
	)

	// 5. セッション監視
	observer := session.NewObserver(
		session.SessionSourceFunc(sessionRepo.FindByID),
		profileRepo, intents, policy, policy.DefaultDestination, slog.Default(),
	)

	// 6. ドメインサービスの初期化
	publisher := newPublisher(cfg)
	defer publisher.Close()

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo, observer,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	avatarGuard := security.NewAvatarGuard(cfg.AvatarFetchTimeout, cfg.AvatarMaxSize)
	profileService := profile.NewService(profileRepo, avatarGuard, observer, userRepo, publisher)
	storyService := story.NewService(storyRepo, security.NewStorySanitizer())
	subService := subscription.NewService(planRepo, userRepo, publisher)
	contactService := contact.NewService(profileRepo, messageRepo, bookingRepo, subService, publisher)
	voteService := vote.NewService(featureRepo, voteRepo, collector)
	userService := user.NewService(userRepo, sessionRepo, voteRepo, storyRepo, planRepo, profileRepo)

	// 7. アクションの登録、ゲート評価、再実行
	actions := action.NewRegistry()
	action.RegisterDefaults(actions, action.Services{
		Votes:         voteService,
		Stories:       storyService,
		Contacts:      contactService,
		Profiles:      profileService,
		Subscriptions: subService,
	})
	if err := policy.CheckHandlers(actions.Has); err != nil {
		return err
	}
	slog.Info("アクションを登録しました", slog.Any("kinds", actions.Kinds()))
	evaluator := gate.NewEvaluator(policy, intents, collector, slog.Default())
	dispatcher := replay.NewDispatcher(
		intents, actions,
		replay.NewProfileGate(policy, profileRepo, slog.Default()),
		collector, slog.Default(),
	)

	// 8. エンゲージメント記録
	sinks, closeSinks := newEngagementSinks(cfg, engagementRepo)
	defer closeSinks()
	recorder := engagement.NewRecorder(cfg.EngagementQueueSize, sinks, collector, slog.Default())
	cooldown := engagement.NewCooldown(cfg.EngagementCooldown)
	defer cooldown.Stop()

	background.Add(1)
	go func() {
		defer background.Done()
		recorder.Run(ctx)
	}()

	// 9. 投票のライブ更新
	voteFeed := vote.NewFeed(slog.Default())
	listener, err := vote.NewPQListener(cfg.DatabaseURL, slog.Default())
	if err != nil {
		slog.Warn("投票通知リスナーを開始できないため、ライブ更新は無効です",
			slog.String("error", err.Error()),
		)
	} else {
		defer listener.Close()
		background.Add(1)
		go func() {
			defer background.Done()
			voteFeed.Listen(ctx, listener)
		}()
	}

	// 10. 定期処理
	background.Add(1)
	go func() {
		defer background.Done()
		pruneObserver(ctx, observer)
	}()
	if cfg.IntentStore != config.IntentStorePostgres {
		// ローカルストアはworkerから見えないため、サーバー側で期限切れを削除する
		localCleanup := cleanup.NewCleanupJob(intents, nil, nil, slog.Default())
		background.Add(1)
		go func() {
			defer background.Done()
			localCleanup.Start(ctx, localIntentPurgeInterval)
		}()
	}

	// 11. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusMetrics:     collector,
		MetricsHandler:    metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Gate:       evaluator,
		Executor:   actions,
		Observer:   observer,
		Intents:    intents,
		Dispatcher: dispatcher,
		Tracker:    recorder,
		Cooldown:   cooldown,

		FeatureService:      voteService,
		FeatureFeed:         voteFeed,
		ProfileService:      profileService,
		StoryService:        storyService,
		SubscriptionService: subService,
		UserService:         userService,
	}

	router := handler.NewRouter(deps)

	// 12. HTTPサーバーの起動
	// SSEのストリームはハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("intent_store", cfg.IntentStore),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 記録待ちのエンゲージメントイベントを書き出してから終了する
	slog.Info("エンゲージメントイベントを書き出しています", slog.Int("pending", recorder.Pending()))
	cancel()
	background.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// pruneObserver はアクセスのないブラウザコンテキストの状態を定期的に破棄する。
func pruneObserver(ctx context.Context, observer *session.Observer) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := observer.Prune(observerIdleTTL); n > 0 {
				slog.Debug("pruned idle client states", slog.Int("count", n))
			}
		}
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	engagementRepo := repository.NewPostgresEngagementRepo(db)

	// sqlite / memoryの保留アクションはサーバープロセスが削除する
	var intents cleanup.IntentPurger
	if cfg.IntentStore == config.IntentStorePostgres {
		intents = intent.NewIntents(repository.NewPostgresIntentRepo(db),
			intent.WithMaxAge(cfg.IntentMaxAge),
			intent.WithLogger(slog.Default()),
		)
	}

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(intents, engagementRepo, sessionRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.EngagementRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.EngagementRetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// オプションなしでは未適用のマイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, opts MigrateOptions, out io.Writer) error {
	dbURL := maskDatabaseURL(cfg.DatabaseURL)

	switch {
	case opts.Status:
		status, err := database.CurrentMigration(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		fmt.Fprintf(out, "version=%d dirty=%t\n", status.Version, status.Dirty)
		return nil

	case opts.Down > 0:
		slog.Warn("rolling back database migrations",
			slog.String("database_url", dbURL),
			slog.Int("steps", opts.Down),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.Down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}

	default:
		slog.Info("running database migrations",
			slog.String("database_url", dbURL),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	status, err := database.CurrentMigration(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
