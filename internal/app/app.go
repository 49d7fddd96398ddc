// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
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

	"github.com/codegym-software/imeet-sync/internal/auth"
	"github.com/codegym-software/imeet-sync/internal/booking"
	"github.com/codegym-software/imeet-sync/internal/config"
	"github.com/codegym-software/imeet-sync/internal/credential"
	"github.com/codegym-software/imeet-sync/internal/database"
	"github.com/codegym-software/imeet-sync/internal/gcal"
	"github.com/codegym-software/imeet-sync/internal/handler"
	"github.com/codegym-software/imeet-sync/internal/logger"
	"github.com/codegym-software/imeet-sync/internal/metrics"
	"github.com/codegym-software/imeet-sync/internal/middleware"
	"github.com/codegym-software/imeet-sync/internal/repository"
	"github.com/codegym-software/imeet-sync/internal/security"
	syncpkg "github.com/codegym-software/imeet-sync/internal/sync"
	"github.com/codegym-software/imeet-sync/internal/watch"
	"github.com/codegym-software/imeet-sync/internal/worker/cleanup"
	"github.com/codegym-software/imeet-sync/internal/worker/poll"
	"github.com/codegym-software/imeet-sync/internal/worker/renewal"
	"github.com/codegym-software/imeet-sync/internal/worker/sweep"
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
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// engine は同期エンジン一式の依存関係を保持する。
// serveモードとworkerモードで同じワイヤリングを共有する。
type engine struct {
	accountRepo repository.AccountRepository
	meetingRepo repository.MeetingRepository
	roomRepo    repository.RoomRepository
	collector   *metrics.Collector
	registry    *prometheus.Registry
	credentials *credential.Manager
	outbound    *syncpkg.Outbound
	inbound     *syncpkg.Inbound
	watches     *watch.Manager
	oauth       *auth.GoogleOAuthProvider
}

// buildEngine は同期エンジンの依存関係をワイヤリングする。
func buildEngine(cfg *config.Config, db *sql.DB) *engine {
	log := slog.Default()

	accountRepo := repository.NewPostgresAccountRepo(db)
	meetingRepo := repository.NewPostgresMeetingRepo(db)
	roomRepo := repository.NewPostgresRoomRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})

	credentials := credential.NewManager(accountRepo, oauthProvider, log, collector, credential.Config{
		ExpiryMargin: cfg.TokenRefreshMargin,
	})

	calClient := gcal.NewClient(log)
	executor := syncpkg.NewExecutor(credentials, log, collector)
	sanitizer := security.NewEventSanitizer()

	outbound := syncpkg.NewOutbound(meetingRepo, roomRepo, accountRepo, executor, calClient, collector, log)
	inbound := syncpkg.NewInbound(meetingRepo, roomRepo, accountRepo, executor, calClient, sanitizer, collector, log)

	watches := watch.NewManager(accountRepo, executor, calClient, cfg.WebhookAddress, cfg.ChannelTTL, log)

	return &engine{
		accountRepo: accountRepo,
		meetingRepo: meetingRepo,
		roomRepo:    roomRepo,
		collector:   collector,
		registry:    registry,
		credentials: credentials,
		outbound:    outbound,
		inbound:     inbound,
		watches:     watches,
		oauth:       oauthProvider,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 同期エンジンのワイヤリング
	eng := buildEngine(cfg, db)

	// 3. ドメインサービスの初期化
	authService := auth.NewService(eng.oauth, eng.accountRepo, eng.meetingRepo, eng.watches, slog.Default())
	bookingService := booking.NewService(eng.meetingRepo, eng.roomRepo, eng.outbound, slog.Default())

	// 4. Webhook受信の構築
	webhookHandler := handler.NewWebhookHandler(
		handler.NewChannelResolverAdapter(eng.accountRepo),
		eng.inbound,
		eng.collector,
		slog.Default(),
		cfg.PullWindowBack,
		cfg.PullWindowForward,
	)

	// 5. ルーターの構築
	rateCfg := middleware.DefaultRateLimiterConfig()
	rateCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateCfg.GeneralBurst = cfg.RateLimitGeneral
	rateCfg.ConnectRate = rate.Limit(float64(cfg.RateLimitConnect) / 60.0)
	rateCfg.ConnectBurst = cfg.RateLimitConnect
	rateLimiter := middleware.NewRateLimiter(rateCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure: cfg.CookieSecure,
		},

		WebhookHandler: webhookHandler,
		MetricsHandler: metrics.Handler(eng.registry),

		MeetingService: bookingService,
		RoomService:    bookingService,

		DB: db,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
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
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ポーリングスケジューラ、リトライスイープ、チャネル更新ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 同期エンジンのワイヤリング
	eng := buildEngine(cfg, db)

	// 3. バックグラウンドタスクの初期化
	scheduler := poll.NewScheduler(
		eng.accountRepo, eng.inbound, slog.Default(),
		cfg.PullWindowBack, cfg.PullWindowForward, cfg.PollMaxConcurrent,
	)
	sweeper := sweep.NewSweeper(eng.meetingRepo, eng.outbound, eng.collector, slog.Default(), cfg.SweepBatchSize)
	renewer := renewal.NewRenewer(eng.watches, slog.Default(), cfg.RenewalLeadTime)
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

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
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Duration("renewal_interval", cfg.RenewalInterval),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx, cfg.SweepInterval)
	}()
	go func() {
		defer wg.Done()
		renewer.Start(ctx, cfg.RenewalInterval)
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// ポーリングスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.PollInterval)

	wg.Wait()
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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
