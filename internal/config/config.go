package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Google
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`
	GoogleJWKSURL      string `env:"GOOGLE_JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`

	// Session
	SessionSecret        string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge        time.Duration `env:"SESSION_MAX_AGE" envDefault:"720h"`
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"15m"`
	ClientTokenTTL       time.Duration `env:"CLIENT_TOKEN_TTL" envDefault:"1h"`

	// Email
	EmailServer  string `env:"EMAIL_SERVER,required,notEmpty"`
	EmailFrom    string `env:"EMAIL_FROM,required,notEmpty"`
	EmailReplyTo string `env:"EMAIL_REPLY_TO"`

	// Geo
	GeoLookupURL       string        `env:"GEO_LOOKUP_URL" envDefault:"https://ipapi.co"`
	GeoLookupTimeout   time.Duration `env:"GEO_LOOKUP_TIMEOUT" envDefault:"3s"`
	GeoLookupPerMinute int           `env:"GEO_LOOKUP_PER_MINUTE" envDefault:"30"`
	GeoCityHeader      string        `env:"GEO_CITY_HEADER"`
	GeoCountryHeader   string        `env:"GEO_COUNTRY_HEADER"`

	// Route gate
	PublicRoutes []string `env:"PUBLIC_ROUTES" envSeparator:","`
	SignInRoute  string   `env:"SIGNIN_ROUTE" envDefault:"/signin"`
	LandingRoute string   `env:"LANDING_ROUTE" envDefault:"/dashboard"`

	// Rate Limit (req/min)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSignIn  int `env:"RATE_LIMIT_SIGNIN" envDefault:"10"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL,required,notEmpty"`
	FrontendURL string `env:"FRONTEND_URL"`

	// Cookie
	CookieSecure bool   // BASE_URLがhttpsの場合にtrue
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数名をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GoogleRedirectURL == "" {
		cfg.GoogleRedirectURL = cfg.BaseURL + "/api/auth/callback/google"
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.SessionMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_MAX_AGE must be positive: %s", c.SessionMaxAge))
	}
	if c.VerificationTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("VERIFICATION_TOKEN_TTL must be positive: %s", c.VerificationTokenTTL))
	}
	if c.ClientTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("CLIENT_TOKEN_TTL must be positive: %s", c.ClientTokenTTL))
	}
	if c.RateLimitGeneral <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_GENERAL must be positive: %d", c.RateLimitGeneral))
	}
	if c.RateLimitSignIn <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_SIGNIN must be positive: %d", c.RateLimitSignIn))
	}
	return errors.Join(errs...)
}
