package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/eloraa/drive/internal/middleware"
	"github.com/eloraa/drive/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionResolver   middleware.SessionResolver
	Gate              *middleware.RouteGate
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	ClientCodec session.Codec

	// ページ・運用
	Pages         http.Handler
	HealthChecker HealthChecker
	Metrics       http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → RouteGate
//
// /api/users はセッション必須で、ユーザー単位のレート制限を掛ける。
// RouteGateはページ遷移とマジックリンク要求のみを対象とし、APIや静的ファイルは素通しする。
// 状態を変更する /api/auth/* にはCSRF検証、サインイン系にはIP単位のレート制限を掛ける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Gate != nil {
		r.Use(deps.Gate.Middleware)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionResolver, deps.ClientCodec, deps.AuthConfig)
	signInLimit := passthrough
	if deps.RateLimiter != nil {
		signInLimit = deps.RateLimiter.SignInMiddleware()
	}

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// --- 認証ルート ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/csrf", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
		r.Get("/providers", authHandler.Providers)
		r.Get("/session", authHandler.Session)

		r.Get("/signin/google", authHandler.GoogleSignIn)
		r.Get("/callback/google", authHandler.GoogleCallback)
		r.With(signInLimit).Get("/callback/email", authHandler.EmailCallback)

		r.With(signInLimit).Post("/signin/email", authHandler.EmailSignIn)
		r.With(signInLimit).Post("/callback/googleonetap", authHandler.OneTapCallback)
		r.Post("/signout", authHandler.SignOut)
	})

	// --- ユーザーAPI ---
	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		r.Get("/me", NewUserHandler().GetMe)
	})

	// ポップアップOAuthのブリッジページ
	r.Get(authHandler.config.BridgeRoute, authHandler.GoogleBridge)

	// --- ページ ---
	// ゲートを通過したページはフロントエンドへ転送する
	pages := deps.Pages
	if pages == nil {
		pages = http.HandlerFunc(notFound)
	}
	r.NotFound(pages.ServeHTTP)

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
