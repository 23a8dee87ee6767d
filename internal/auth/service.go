// Package auth はGoogle OAuth・ワンタップ・マジックリンクの認証フローとセッション発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	netmail "net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/eloraa/drive/internal/mail"
	"github.com/eloraa/drive/internal/metrics"
	"github.com/eloraa/drive/internal/model"
	"github.com/eloraa/drive/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
	Provider       model.Provider
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// MagicLinkSender はマジックリンクメールの送信を行う。
type MagicLinkSender interface {
	Send(ctx context.Context, req mail.MagicLinkRequest) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BaseURL              string        // コールバックURLの組み立てに使う公開URL
	Secret               string        // 検証トークンのハッシュに混ぜる秘密値
	SessionMaxAge        time.Duration // セッション有効期間
	VerificationTokenTTL time.Duration // マジックリンクの有効期間
}

// 既定値
const (
	DefaultSessionMaxAge        = 30 * 24 * time.Hour
	DefaultVerificationTokenTTL = 15 * time.Minute
)

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	credentials *CredentialVerifier
	store       repository.IdentityStore
	sender      MagicLinkSender
	config      ServiceConfig
	metrics     metrics.MetricsCollector
	nowFunc     func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	credentials *CredentialVerifier,
	store repository.IdentityStore,
	sender MagicLinkSender,
	config ServiceConfig,
	m metrics.MetricsCollector,
) *Service {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = DefaultSessionMaxAge
	}
	if config.VerificationTokenTTL <= 0 {
		config.VerificationTokenTTL = DefaultVerificationTokenTTL
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{
		oauth:       oauth,
		credentials: credentials,
		store:       store,
		sender:      sender,
		config:      config,
		metrics:     m,
		nowFunc:     time.Now,
	}
}

// SessionMaxAge はセッションの有効期間を返す。
func (s *Service) SessionMaxAge() time.Duration {
	return s.config.SessionMaxAge
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleOAuthCallback はOAuthコールバックを処理し、セッションを発行する。
//
// プロバイダーアカウントで既存ユーザーを特定できればそのユーザーでログインする。
// 見つからない場合、検証済みメールアドレスが既存ユーザーと一致すればそのユーザーに紐付ける。
// 未検証のメールアドレスが既存ユーザーと衝突する場合はmodel.ErrAccountNotLinkedを返す。
func (s *Service) HandleOAuthCallback(ctx context.Context, code string) (*model.Session, error) {
	session, err := s.handleOAuthCallback(ctx, code)
	s.recordSignIn(model.ProviderGoogle, err)
	return session, err
}

func (s *Service) handleOAuthCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. accountsテーブルで既存ユーザーを検索
	user, err := s.store.GetUserByAccount(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by account: %w", err)
	}

	if user != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", string(info.Provider)),
		)
	} else {
		user, err = s.resolveOAuthUser(ctx, info)
		if err != nil {
			return nil, err
		}
		if err := linkAccount(ctx, s.store, user.ID, info.Provider, info.ProviderUserID, model.AccountTypeOAuth); err != nil {
			return nil, err
		}
	}

	// 3. セッションを発行
	return s.createSession(ctx, user.ID, info.Provider)
}

// resolveOAuthUser はメールアドレスから紐付け先のユーザーを決め、いなければ作成する。
func (s *Service) resolveOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	email := canonicalEmail(info.Email)
	if email != "" {
		existing, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			if !info.EmailVerified {
				return nil, model.ErrAccountNotLinked
			}
			return existing, nil
		}
	}

	profile := model.UserProfile{
		Name:  info.Name,
		Email: email,
		Image: info.Picture,
	}
	if info.EmailVerified && email != "" {
		now := s.nowFunc()
		profile.EmailVerified = &now
	}
	user, err := createOrReloadUser(ctx, s.store, profile)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.ErrAuthorizationDenied
	}
	return user, nil
}

// SignInWithCredential はワンタップのcredentialを検証し、セッションを直接発行する。
// リダイレクトを伴うOAuthフローは経由しない。
func (s *Service) SignInWithCredential(ctx context.Context, credential string) (*model.Session, error) {
	session, err := s.signInWithCredential(ctx, credential)
	s.recordSignIn(model.ProviderCredentials, err)
	return session, err
}

func (s *Service) signInWithCredential(ctx context.Context, credential string) (*model.Session, error) {
	user, err := s.credentials.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	return s.createSession(ctx, user.ID, model.ProviderCredentials)
}

// RequestMagicLink は検証トークンを保存し、マジックリンクメールを送信する。
// 送信に失敗してもトークンは有効なまま残る。
func (s *Service) RequestMagicLink(ctx context.Context, email, callbackURL string, r *http.Request) error {
	identifier, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}

	if err := s.store.CreateVerificationToken(ctx, &model.VerificationToken{
		Identifier: identifier,
		Token:      s.hashToken(token),
		Expires:    s.nowFunc().Add(s.config.VerificationTokenTTL),
	}); err != nil {
		return fmt.Errorf("failed to save verification token: %w", err)
	}

	params := url.Values{
		"callbackUrl": {callbackURL},
		"token":       {token},
		"email":       {identifier},
	}
	link := strings.TrimRight(s.config.BaseURL, "/") + "/api/auth/callback/email?" + params.Encode()

	if err := s.sender.Send(ctx, mail.MagicLinkRequest{
		Identifier: identifier,
		URL:        link,
		Request:    r,
	}); err != nil {
		s.metrics.RecordSignIn(string(model.ProviderEmail), metrics.ResultFailure)
		return err
	}
	return nil
}

// VerifyMagicLink はマジックリンクのトークンを消費し、セッションを発行する。
// トークンが存在しない・使用済み・期限切れの場合はmodel.ErrVerificationFailedを返す。
func (s *Service) VerifyMagicLink(ctx context.Context, email, token string) (*model.Session, error) {
	session, err := s.verifyMagicLink(ctx, email, token)
	s.recordSignIn(model.ProviderEmail, err)
	return session, err
}

func (s *Service) verifyMagicLink(ctx context.Context, email, token string) (*model.Session, error) {
	identifier, err := NormalizeEmail(email)
	if err != nil || token == "" {
		return nil, model.ErrVerificationFailed
	}

	vt, err := s.store.UseVerificationToken(ctx, identifier, s.hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to use verification token: %w", err)
	}
	now := s.nowFunc()
	if vt == nil || now.After(vt.Expires) {
		return nil, model.ErrVerificationFailed
	}

	user, err := s.store.GetUserByEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	switch {
	case user == nil:
		user, err = createOrReloadUser(ctx, s.store, model.UserProfile{
			Email:         identifier,
			EmailVerified: &now,
		})
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, model.ErrAuthorizationDenied
		}
	case user.EmailVerified == nil:
		if err := s.store.MarkEmailVerified(ctx, user.ID, now); err != nil {
			return nil, fmt.Errorf("failed to mark email verified: %w", err)
		}
		user.EmailVerified = &now
	}

	linked, err := s.store.GetUserByAccount(ctx, model.ProviderEmail, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by account: %w", err)
	}
	if linked == nil {
		if err := linkAccount(ctx, s.store, user.ID, model.ProviderEmail, identifier, model.AccountTypeEmail); err != nil {
			return nil, err
		}
	}

	return s.createSession(ctx, user.ID, model.ProviderEmail)
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return fmt.Errorf("session token is required")
	}

	if err := s.store.DeleteSession(ctx, sessionToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, provider model.Provider) (*model.Session, error) {
	sessionToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session, err := s.store.CreateSession(ctx, userID, s.nowFunc().Add(s.config.SessionMaxAge), sessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordSessionCreated(string(provider))
	slog.Info("session created",
		slog.String("user_id", userID),
		slog.String("provider", string(provider)),
	)
	return session, nil
}

func (s *Service) recordSignIn(provider model.Provider, err error) {
	if err == nil {
		s.metrics.RecordSignIn(string(provider), metrics.ResultSuccess)
		return
	}
	s.metrics.RecordSignIn(string(provider), metrics.ResultFailure)
	slog.Warn("sign-in failed",
		slog.String("provider", string(provider)),
		slog.String("error", err.Error()),
	)
}

// hashToken はトークンを秘密値と連結してSHA-256でハッシュ化する。
func (s *Service) hashToken(token string) string {
	sum := sha256.Sum256([]byte(token + s.config.Secret))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail はメールアドレスを小文字化・トリムし、形式を検証する。
// ドメイン部にカンマ以降が付いている場合は切り捨てる。
func NormalizeEmail(raw string) (string, error) {
	local, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "@")
	if !ok || local == "" {
		return "", model.ErrInvalidEmail
	}
	domain, _, _ = strings.Cut(domain, ",")
	email := local + "@" + domain

	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(domain, ".") {
		return "", model.ErrInvalidEmail
	}
	return email, nil
}

// generateToken は暗号的に安全なランダムトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsSignInRejected はサインイン拒否（ストア障害ではない）を表すエラーかどうかを判定する。
func IsSignInRejected(err error) bool {
	return errors.Is(err, model.ErrInvalidAssertion) ||
		errors.Is(err, model.ErrMissingEmail) ||
		errors.Is(err, model.ErrAuthorizationDenied) ||
		errors.Is(err, model.ErrAccountNotLinked) ||
		errors.Is(err, model.ErrVerificationFailed)
}
