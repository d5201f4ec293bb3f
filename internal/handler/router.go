package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/membersync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// メンバーシップ解決
	Resolver MembershipResolverInterface

	// 突合実行
	SyncRunner SyncRunnerInterface

	// Prometheusスクレイプ用ハンドラー
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit（/api配下のみ）
//
// /health と /metrics はレート制限の外に配置する（監視系からの定期アクセスのため）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.HealthChecker)
	resolverHandler := NewResolverHandler(deps.Resolver)
	syncHandler := NewSyncHandler(deps.SyncRunner)

	// --- 監視系ルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/api", func(r chi.Router) {
			// メンバーシップ解決（ログイン/サインアップフローから呼ばれる）
			r.Get("/membership/resolve", resolverHandler.ResolveMembership)

			// 突合の外部トリガー（cron等）
			r.Post("/sync/run", syncHandler.RunSync)
		})
	})

	return r
}
