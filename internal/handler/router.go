package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/portal/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig

	// セッション
	Sessions   SessionService
	AuthConfig AuthHandlerConfig

	// 通知・プロフィール
	Notifier Notifier
	Profiles ProfileService

	// GET /metrics のハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit(General) → CSRF
//
// /health と /metrics はレート制限とCSRFの外に配置する。
// /home と /api/profile はアクセスガードの内側に配置し、
// 認証ルート（login/signup/google）には認証専用のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Sessions, deps.HTTPRecorder))

	authHandler := NewAuthHandler(deps.Sessions, deps.Notifier, deps.AuthConfig)
	notificationHandler := NewNotificationHandler(deps.Notifier)
	profileHandler := NewProfileHandler(deps.Profiles, deps.Notifier)
	homeHandler := NewHomeHandler(deps.Sessions, deps.Notifier)

	// --- 運用ルート ---
	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

		// --- 認証ルート ---
		r.Route("/auth", func(r chi.Router) {
			r.Get("/session", authHandler.Session)
			r.Post("/logout", authHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/login", authHandler.Login)
				r.Post("/signup", authHandler.Signup)
				r.Get("/google/login", authHandler.GoogleLogin)
				r.Get("/google/callback", authHandler.GoogleCallback)
			})
		})

		// --- 通知 ---
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Delete("/{id}", notificationHandler.Dismiss)
		})

		// --- ログインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAccessGuardMiddleware(deps.Sessions, deps.AuthConfig.LoginPath))

			r.Get("/home", homeHandler.Home)
			r.Get("/api/profile", profileHandler.Get)
			r.Put("/api/profile", profileHandler.Update)
		})
	})

	return r
}
