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
	"golang.org/x/time/rate"

	"github.com/eloraa/drive/internal/auth"
	"github.com/eloraa/drive/internal/config"
	"github.com/eloraa/drive/internal/database"
	"github.com/eloraa/drive/internal/geo"
	"github.com/eloraa/drive/internal/handler"
	"github.com/eloraa/drive/internal/logger"
	"github.com/eloraa/drive/internal/mail"
	"github.com/eloraa/drive/internal/metrics"
	"github.com/eloraa/drive/internal/middleware"
	"github.com/eloraa/drive/internal/repository"
	"github.com/eloraa/drive/internal/security"
	"github.com/eloraa/drive/internal/session"
	"github.com/eloraa/drive/internal/worker/cleanup"
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

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
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

// openDatabase はDB接続を開き、疎通を確認する。
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

// newIdentityStore はPostgreSQLの各リポジトリを束ねたIdentityStoreを返す。
func newIdentityStore(db *sql.DB) *repository.Adapter {
	return repository.NewAdapter(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresAccountRepo(db),
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresVerificationTokenRepo(db),
	)
}

// buildRouterDeps は設定から全依存関係をワイヤリングしたRouterDepsを返す。
// 呼び出し側は不要になった時点でRateLimiter.Stopを呼ぶこと。
func buildRouterDeps(
	cfg *config.Config,
	store repository.IdentityStore,
	health handler.HealthChecker,
	tokens auth.IDTokenVerifier,
	m metrics.MetricsCollector,
) (*handler.RouterDeps, error) {
	// 1. メール送信
	smtpConfig, err := mail.ParseServerURL(cfg.EmailServer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EMAIL_SERVER: %w", err)
	}

	// 2. IP位置情報（SSRF防止付きクライアント）
	guard := security.NewOutboundGuard()
	if err := guard.ValidateEndpoint(cfg.GeoLookupURL); err != nil {
		return nil, fmt.Errorf("invalid GEO_LOOKUP_URL: %w", err)
	}
	locator := geo.NewIPAPIClient(
		guard.NewSafeClient(cfg.GeoLookupTimeout),
		geo.ClientConfig{
			BaseURL:   cfg.GeoLookupURL,
			Timeout:   cfg.GeoLookupTimeout,
			PerMinute: cfg.GeoLookupPerMinute,
		},
		slog.Default(), m,
	)

	dispatcher := mail.NewDispatcher(
		mail.NewSMTPTransport(smtpConfig),
		locator,
		mail.DispatcherConfig{
			From:     cfg.EmailFrom,
			ReplyTo:  cfg.EmailReplyTo,
			ValidFor: cfg.VerificationTokenTTL,
		},
		m, slog.Default(),
	)

	// 3. 認証サービス
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider,
		auth.NewCredentialVerifier(tokens, store),
		store,
		dispatcher,
		auth.ServiceConfig{
			BaseURL:              cfg.BaseURL,
			Secret:               cfg.SessionSecret,
			SessionMaxAge:        cfg.SessionMaxAge,
			VerificationTokenTTL: cfg.VerificationTokenTTL,
		},
		m,
	)

	// 4. セッション解決
	signed := session.NewSignedCodec(cfg.SessionSecret, cfg.ClientTokenTTL)
	cookie := session.NewCookieCodec(store)
	resolver := session.NewResolver(cookie, signed)

	// 5. ページ
	pages, err := handler.NewPageHandler(cfg.FrontendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid FRONTEND_URL: %w", err)
	}

	gateConfig := middleware.GateConfig{
		PublicRoutes:  cfg.PublicRoutes,
		SignInRoute:   cfg.SignInRoute,
		LandingRoute:  cfg.LandingRoute,
		CityHeader:    cfg.GeoCityHeader,
		CountryHeader: cfg.GeoCountryHeader,
	}

	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SignInPerMinute = cfg.RateLimitSignIn

	cookieConfig := session.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure}

	return &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionResolver:   resolver,
		Gate:              middleware.NewRouteGate(resolver, gateConfig, m),
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			Cookie:       cookieConfig,
			SignInRoute:  cfg.SignInRoute,
			LandingRoute: cfg.LandingRoute,
		},
		ClientCodec: session.ForContext(session.ClientContext, signed, cookie),

		Pages:         pages,
		HealthChecker: health,
	}, nil
}

// newMetricsRegistry はGo・プロセスのメトリクスを含むレジストリを返す。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	reg := newMetricsRegistry()
	collector := metrics.NewCollector(reg)

	// 3. Googleの署名鍵（バックグラウンドで更新）
	jwks, err := auth.NewGoogleJWKS(cfg.GoogleJWKSURL)
	if err != nil {
		return err
	}
	defer jwks.EndBackground()

	// 4. ルーターの構築
	deps, err := buildRouterDeps(
		cfg,
		newIdentityStore(db),
		db,
		auth.NewGoogleIDTokenVerifier(jwks.Keyfunc, cfg.GoogleClientID),
		collector,
	)
	if err != nil {
		return err
	}
	defer deps.RateLimiter.Stop()
	deps.Metrics = metrics.Handler(reg)

	router := handler.NewRouter(deps)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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

// newCleanupJob は期限切れセッションと検証トークンを削除するジョブを返す。
func newCleanupJob(db *sql.DB, m metrics.MetricsCollector) *cleanup.CleanupJob {
	return cleanup.NewCleanupJob([]cleanup.Target{
		{Kind: cleanup.KindSessions, Deleter: repository.NewPostgresSessionRepo(db)},
		{Kind: cleanup.KindVerificationTokens, Deleter: repository.NewPostgresVerificationTokenRepo(db)},
	}, slog.Default(), m)
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れレコードのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	cleanupJob := newCleanupJob(db, metrics.NewCollector(prometheus.NewRegistry()))

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
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

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
