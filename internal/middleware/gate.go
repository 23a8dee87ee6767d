package middleware

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/eloraa/drive/internal/mail"
	"github.com/eloraa/drive/internal/metrics"
)

// ルートゲートの判定結果。メトリクスのラベルに使う。
const (
	GateDecisionPass           = "pass"
	GateDecisionGeo            = "geo"
	GateDecisionBridge         = "bridge"
	GateDecisionRedirectLanded = "redirect_landing"
	GateDecisionRedirectSignIn = "redirect_signin"
	GateDecisionError          = "error"
)

// GateConfig はルートゲートの設定。
type GateConfig struct {
	PublicRoutes       []string // 未認証で閲覧できるパス（完全一致）
	SignInRoute        string   // 未認証時のリダイレクト先
	LandingRoute       string   // 認証済みで公開ページに来た場合のリダイレクト先
	BridgeRoute        string   // ポップアップOAuthのブリッジページ
	EmailChallengePath string   // マジックリンク要求エンドポイント
	CityHeader         string   // プラットフォームが付与する都市ヘッダー
	CountryHeader      string   // プラットフォームが付与する国ヘッダー
}

// DefaultGateConfig はデフォルトのゲート設定を返す。
func DefaultGateConfig() GateConfig {
	return GateConfig{
		PublicRoutes:       []string{"/signin", "/signin/verify-request", "/signin/error"},
		SignInRoute:        "/signin",
		LandingRoute:       "/dashboard",
		BridgeRoute:        "/google-signin",
		EmailChallengePath: "/api/auth/signin/email",
	}
}

// 静的ファイルとして扱う接頭辞と拡張子。ゲートの対象外。
var (
	staticPrefixes   = []string{"/_next/static/", "/_next/image", "/static/", "/assets/"}
	staticExtensions = map[string]struct{}{
		".gif": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".svg": {}, ".webp": {}, ".ico": {},
		".mp4": {}, ".webm": {}, ".ogv": {}, ".ogg": {}, ".mp3": {}, ".wav": {}, ".flac": {},
		".css": {}, ".js": {}, ".map": {}, ".woff": {}, ".woff2": {},
	}
	systemPaths = []string{"/health", "/metrics"}
)

// RouteGate はページ遷移ごとにセッションの有無でリダイレクトを判定する。
type RouteGate struct {
	resolver SessionResolver
	config   GateConfig
	public   map[string]struct{}
	metrics  metrics.MetricsCollector
}

// NewRouteGate はRouteGateを生成する。
func NewRouteGate(resolver SessionResolver, config GateConfig, m metrics.MetricsCollector) *RouteGate {
	if m == nil {
		m = metrics.NopCollector{}
	}
	defaults := DefaultGateConfig()
	if config.SignInRoute == "" {
		config.SignInRoute = defaults.SignInRoute
	}
	if config.LandingRoute == "" {
		config.LandingRoute = defaults.LandingRoute
	}
	if config.BridgeRoute == "" {
		config.BridgeRoute = defaults.BridgeRoute
	}
	if config.EmailChallengePath == "" {
		config.EmailChallengePath = defaults.EmailChallengePath
	}
	if config.PublicRoutes == nil {
		config.PublicRoutes = defaults.PublicRoutes
	}
	public := make(map[string]struct{}, len(config.PublicRoutes)+1)
	for _, p := range config.PublicRoutes {
		public[p] = struct{}{}
	}
	// サインインページ自体は常に公開（未認証時のリダイレクトがループしないように）
	public[config.SignInRoute] = struct{}{}
	return &RouteGate{
		resolver: resolver,
		config:   config,
		public:   public,
		metrics:  m,
	}
}

// Middleware はルートゲートのミドルウェアを返す。
//
// セッションは常にストアで検証し、無効なトークンと未提示のトークンは区別しない。
// 解決できたセッションはリクエストコンテキストに格納する。
func (g *RouteGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if !g.Matches(p) {
			next.ServeHTTP(w, r)
			return
		}

		su, err := g.resolver.ResolveSession(r)
		if err != nil && g.isBridge(p) {
			// ブリッジページは無条件に通す。未認証として扱い、ハンドラーがサインインを開始する
			slog.Warn("route gate failed to resolve session on bridge route",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			g.metrics.RecordGateDecision(GateDecisionBridge)
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			g.metrics.RecordGateDecision(GateDecisionError)
			slog.Error("route gate failed to resolve session",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			WriteInternalServerError(w)
			return
		}
		authenticated := su != nil
		if authenticated {
			r = r.WithContext(ContextWithSession(r.Context(), su))
		}

		switch {
		case strings.HasPrefix(p, g.config.EmailChallengePath):
			// クライアントが送ったX-City/X-Countryはプラットフォームの値で上書きする
			r.Header.Set(mail.HeaderCity, g.platformHeader(r, g.config.CityHeader))
			r.Header.Set(mail.HeaderCountry, g.platformHeader(r, g.config.CountryHeader))
			g.metrics.RecordGateDecision(GateDecisionGeo)
		case g.isBridge(p):
			g.metrics.RecordGateDecision(GateDecisionBridge)
		case g.isPublic(p) && authenticated:
			g.metrics.RecordGateDecision(GateDecisionRedirectLanded)
			http.Redirect(w, r, g.config.LandingRoute, http.StatusTemporaryRedirect)
			return
		case !g.isPublic(p) && !authenticated:
			g.metrics.RecordGateDecision(GateDecisionRedirectSignIn)
			http.Redirect(w, r, g.config.SignInRoute, http.StatusTemporaryRedirect)
			return
		default:
			g.metrics.RecordGateDecision(GateDecisionPass)
		}

		next.ServeHTTP(w, r)
	})
}

// Matches はパスがゲートの対象かどうかを返す。
// APIルート（マジックリンク要求を除く）・静的ファイル・ヘルスチェック・メトリクスは対象外。
func (g *RouteGate) Matches(p string) bool {
	if strings.HasPrefix(p, g.config.EmailChallengePath) {
		return true
	}
	if p == "/api" || strings.HasPrefix(p, "/api/") {
		return false
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	for _, sp := range systemPaths {
		if p == sp {
			return false
		}
	}
	if _, ok := staticExtensions[strings.ToLower(path.Ext(p))]; ok {
		return false
	}
	return true
}

func (g *RouteGate) isBridge(p string) bool {
	return strings.HasPrefix(p, g.config.BridgeRoute) && !strings.HasPrefix(p, g.config.EmailChallengePath)
}

func (g *RouteGate) isPublic(p string) bool {
	_, ok := g.public[p]
	return ok
}

func (g *RouteGate) platformHeader(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(name))
}
