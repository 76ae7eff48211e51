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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/portal/internal/auth"
	"github.com/hitoshi/portal/internal/config"
	"github.com/hitoshi/portal/internal/credential"
	"github.com/hitoshi/portal/internal/database"
	"github.com/hitoshi/portal/internal/eventbus"
	"github.com/hitoshi/portal/internal/handler"
	"github.com/hitoshi/portal/internal/logger"
	"github.com/hitoshi/portal/internal/metrics"
	"github.com/hitoshi/portal/internal/middleware"
	"github.com/hitoshi/portal/internal/notify"
	"github.com/hitoshi/portal/internal/profile"
	"github.com/hitoshi/portal/internal/repository"
	"github.com/hitoshi/portal/internal/security"
	"github.com/hitoshi/portal/internal/session"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

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
		slog.String("credential_store", cfg.CredentialStore),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// application はserveモードで組み立てた依存関係の集合。
type application struct {
	handler  http.Handler
	resolver *session.Resolver
	provider *auth.IdentityProvider
	limiter  *middleware.RateLimiter
	dbs      []*sql.DB
}

// newApplication はローカルストレージと資格情報ストアを開き、全依存関係をワイヤリングする。
// 起動時のセッション解決はバックグラウンドで開始され、完了を待たずに戻る。
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	a := &application{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// 1. ローカルストレージ（SQLite KV）
	localDB, err := database.OpenSQLite(cfg.LocalStoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}
	a.dbs = append(a.dbs, localDB)
	if err := database.RunSQLiteMigrations(localDB); err != nil {
		return nil, fmt.Errorf("failed to migrate local storage: %w", err)
	}
	kv := repository.NewSQLiteKeyValueRepo(localDB)

	// 2. 資格情報リポジトリ
	credRepo, err := a.openCredentialRepo(cfg)
	if err != nil {
		return nil, err
	}

	// 3. メトリクスとイベントバス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	bus := eventbus.New(eventbus.WithObserver(collector))

	// 4. 資格情報ストア
	sanitizer := security.NewTextSanitizer()
	store := credential.NewStore(credRepo, sanitizer)
	if cfg.SeedMockUsers {
		if err := store.Seed(ctx, credential.SeedRecords); err != nil {
			return nil, err
		}
	}

	// 5. フェデレーテッドIDプロバイダー
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	if !oauthProvider.Configured() {
		slog.Warn("google oauth is not configured; federated sign-in will fail")
	}
	a.provider = auth.NewIdentityProvider(oauthProvider, kv)

	// 6. セッション解決（購読してからプロバイダーを起動する）
	a.resolver = session.NewResolver(a.provider, store, session.NewBlobStore(kv), bus, collector)
	if err := a.resolver.ResolveOnStartup(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session resolution: %w", err)
	}
	a.provider.Start(ctx)

	// 7. 通知とプロフィール
	center := notify.NewCenter(bus, cfg.NotificationDuration, notify.WithRecorder(collector))
	profiles := profile.NewService(kv, bus, sanitizer, nil)
	bus.Subscribe(eventbus.EventIdentityDataUpdated, func(context.Context) error {
		collector.RecordProfileUpdate()
		return nil
	})

	// 8. ルーター
	a.limiter = middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	a.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		HTTPRecorder:      collector,
		RateLimiter:       a.limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		Sessions: a.resolver,
		AuthConfig: handler.AuthHandlerConfig{
			LoginPath:    cfg.LoginPath,
			HomePath:     cfg.HomePath,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		Notifier:       center,
		Profiles:       profiles,
		MetricsHandler: metrics.Handler(registry),
	})

	ok = true
	return a, nil
}

// openCredentialRepo は設定に応じてインメモリまたはPostgreSQLの資格情報リポジトリを返す。
func (a *application) openCredentialRepo(cfg *config.Config) (repository.CredentialRepository, error) {
	if cfg.CredentialStore != config.CredentialStorePostgres {
		return repository.NewMemoryCredentialRepo(), nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.dbs = append(a.dbs, db)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database connection established")
	return repository.NewPostgresCredentialRepo(db), nil
}

// Close はバックグラウンド処理を停止し、開いたデータベースを閉じる。
func (a *application) Close() {
	if a.resolver != nil {
		a.resolver.Close()
	}
	if a.provider != nil {
		a.provider.Close()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	for _, db := range a.dbs {
		if err := db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// ローカルストレージには常に、PostgreSQLには資格情報ストアがpostgresの場合のみ適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running local storage migrations",
		slog.String("path", cfg.LocalStoragePath),
	)

	localDB, err := database.OpenSQLite(cfg.LocalStoragePath)
	if err != nil {
		return fmt.Errorf("failed to open local storage: %w", err)
	}
	defer localDB.Close()

	if err := database.RunSQLiteMigrations(localDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if cfg.CredentialStore == config.CredentialStorePostgres {
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
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
