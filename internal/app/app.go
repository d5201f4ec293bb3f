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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/membersync/internal/beacon"
	"github.com/hitoshi/membersync/internal/config"
	"github.com/hitoshi/membersync/internal/database"
	"github.com/hitoshi/membersync/internal/handler"
	"github.com/hitoshi/membersync/internal/logger"
	"github.com/hitoshi/membersync/internal/metrics"
	"github.com/hitoshi/membersync/internal/middleware"
	"github.com/hitoshi/membersync/internal/repository"
	"github.com/hitoshi/membersync/internal/resolver"
	syncpkg "github.com/hitoshi/membersync/internal/sync"
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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandSync:
		return runSync(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// deps はモードをまたいで共有する依存関係の束。
type deps struct {
	db         *sql.DB
	collector  *metrics.Collector
	registry   *prometheus.Registry
	beacon     *beacon.Client
	reconciler *syncpkg.Reconciler
}

// buildDeps はDB接続・Beaconクライアント・突合本体をワイヤリングする。
func buildDeps(cfg *config.Config) (*deps, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. Beaconクライアントの初期化
	beaconClient, err := beacon.NewClient(
		&http.Client{Timeout: 15 * time.Second},
		slog.Default(),
		beacon.Config{
			BaseURL:   cfg.BeaconAPIURL,
			APIToken:  cfg.BeaconAPIToken,
			AccountID: cfg.BeaconAccountID,
		},
		collector,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create beacon client: %w", err)
	}

	// 4. リポジトリと突合本体の初期化
	memberRepo := repository.NewPostgresMemberRepo(db)
	companyRepo := repository.NewPostgresCompanyRepo(db)
	syncLogRepo := repository.NewPostgresSyncLogRepo(db)

	reconciler := syncpkg.NewReconciler(
		beaconClient, memberRepo, companyRepo, syncLogRepo,
		slog.Default(), collector,
		syncpkg.Config{
			DailyCap:         cfg.SyncDailyCap,
			BatchSize:        cfg.SyncBatchSize,
			ItemDelay:        cfg.SyncItemDelay,
			BatchDelay:       cfg.SyncBatchDelay,
			TimeBudget:       cfg.SyncTimeBudget,
			LogRetentionDays: cfg.LogRetentionDays,
		},
	)

	return &deps{
		db:         db,
		collector:  collector,
		registry:   registry,
		beacon:     beaconClient,
		reconciler: reconciler,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.db.Close()

	// リゾルバーの初期化
	membershipResolver := resolver.NewResolver(
		d.beacon, slog.Default(), d.collector,
		resolver.Config{
			CacheTTL:                cfg.ResolverCacheTTL,
			BusinessDirectoryMarker: cfg.BusinessDirectoryMarker,
		},
	)
	defer membershipResolver.Close()

	// レート制限の初期化（設定はreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     d.db,
		Resolver:          membershipResolver,
		SyncRunner:        d.reconciler,
		MetricsHandler:    metrics.Handler(d.registry),
	})

	// HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
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
// 突合スケジューラを指定間隔で繰り返し実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.db.Close()

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
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("daily_cap", cfg.SyncDailyCap),
	)

	// 突合スケジューラをメインgoroutineで実行（ブロッキング）
	d.reconciler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSync は突合を1回だけ実行して終了する。
// 外部スケジューラ（cron等）から日次で呼び出されることを想定している。
func runSync(cfg *config.Config) error {
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.db.Close()

	summary, err := d.reconciler.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("sync completed",
		slog.Int("members_updated", summary.Members.Updated),
		slog.Int("companies_updated", summary.Companies.Updated),
		slog.Bool("timed_out", summary.TimedOut),
	)
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
