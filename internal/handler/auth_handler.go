// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eloraa/drive/internal/auth"
	"github.com/eloraa/drive/internal/middleware"
	"github.com/eloraa/drive/internal/model"
	"github.com/eloraa/drive/internal/security"
	"github.com/eloraa/drive/internal/session"
)

const (
	oauthStateCookie    = "next-auth.state"
	callbackURLCookie   = "next-auth.callback-url"
	oauthStateCookieAge = 600 // 10分
)

// サインイン失敗時に /signin?error= に付与するエラーコード。
const (
	SignInErrorOAuthCallback     = "OAuthCallback"
	SignInErrorOAuthNotLinked    = "OAuthAccountNotLinked"
	SignInErrorAccessDenied      = "AccessDenied"
	SignInErrorVerification      = "Verification"
	SignInErrorEmailSignin       = "EmailSignin"
	SignInErrorCredentialsSignin = "CredentialsSignin"
)

const (
	defaultVerifyRequestRoute     = "/signin/verify-request"
	defaultGoogleSignInStartRoute = "/api/auth/signin/google"
	maxAuthBodyBytes              = 1 << 16
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleOAuthCallback(ctx context.Context, code string) (*model.Session, error)
	SignInWithCredential(ctx context.Context, credential string) (*model.Session, error)
	RequestMagicLink(ctx context.Context, email, callbackURL string, r *http.Request) error
	VerifyMagicLink(ctx context.Context, email, token string) (*model.Session, error)
	Logout(ctx context.Context, sessionToken string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL            string
	Cookie             session.CookieConfig
	SignInRoute        string // サインインページ。失敗時はここに ?error= を付けて戻す
	LandingRoute       string // callbackUrlが無い場合の遷移先
	VerifyRequestRoute string // マジックリンク送信後の案内ページ
	BridgeRoute        string // ポップアップOAuthのブリッジページ
}

func (c AuthHandlerConfig) withDefaults() AuthHandlerConfig {
	if c.SignInRoute == "" {
		c.SignInRoute = "/signin"
	}
	if c.LandingRoute == "" {
		c.LandingRoute = "/dashboard"
	}
	if c.VerifyRequestRoute == "" {
		c.VerifyRequestRoute = defaultVerifyRequestRoute
	}
	if c.BridgeRoute == "" {
		c.BridgeRoute = "/google-signin"
	}
	return c
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	resolver middleware.SessionResolver
	client   session.Codec
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// clientはGET /api/auth/sessionで返すクライアント向けトークンのCodec。
func NewAuthHandler(service AuthServiceInterface, resolver middleware.SessionResolver, client session.Codec, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		resolver: resolver,
		client:   client,
		config:   config.withDefaults(),
	}
}

// GoogleSignIn はGoogle OAuthフローを開始する。
// GET /api/auth/signin/google?callbackUrl=
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortCookie(w, oauthStateCookie, state)
	h.setShortCookie(w, callbackURLCookie, h.callbackPath(r.URL.Query().Get("callbackUrl")))

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /api/auth/callback/google?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. IdP側でのキャンセル・拒否
	if idpErr := q.Get("error"); idpErr != "" {
		slog.Warn("oauth provider returned error", slog.String("error", idpErr))
		code := SignInErrorOAuthCallback
		if idpErr == "access_denied" {
			code = SignInErrorAccessDenied
		}
		h.redirectSignInError(w, r, code)
		return
	}

	// 2. stateの検証（CSRF対策）
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		h.redirectSignInError(w, r, SignInErrorOAuthCallback)
		return
	}
	h.clearShortCookie(w, oauthStateCookie)

	callback := h.config.LandingRoute
	if c, err := r.Cookie(callbackURLCookie); err == nil {
		callback = h.callbackPath(c.Value)
	}
	h.clearShortCookie(w, callbackURLCookie)

	// 3. 認可コードの取得
	code := q.Get("code")
	if code == "" {
		h.redirectSignInError(w, r, SignInErrorOAuthCallback)
		return
	}

	// 4. 認証処理
	sess, err := h.service.HandleOAuthCallback(r.Context(), code)
	if err != nil {
		h.redirectSignInError(w, r, oauthErrorCode(err))
		return
	}

	// 5. セッションCookieを設定して元のページへ
	session.SetCookie(w, h.config.Cookie, sess.SessionToken, sess.Expires)
	http.Redirect(w, r, callback, http.StatusFound)
}

// GoogleBridge はポップアップOAuthのブリッジページ。
// GET /google-signin
// 未認証ならGoogleのサインインを開始し、認証済みなら親ウィンドウに通知して閉じる。
func (h *AuthHandler) GoogleBridge(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFromContext(r.Context()); !ok {
		target := defaultGoogleSignInStartRoute + "?" + url.Values{"callbackUrl": {h.config.BridgeRoute}}.Encode()
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(bridgePage))
}

const bridgePage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signing in</title></head>
<body><script>
if (window.opener && typeof window.opener.onLoginSuccess === "function") {
  window.opener.onLoginSuccess();
}
window.close();
</script></body></html>
`

// EmailSignIn はマジックリンクメールを送信する。
// POST /api/auth/signin/email (email, callbackUrl)
// フォーム送信なら案内ページへリダイレクトし、JSONならJSONで応答する。
func (h *AuthHandler) EmailSignIn(w http.ResponseWriter, r *http.Request) {
	in, err := readAuthInput(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEmailError(""))
		return
	}

	callback := h.callbackPath(in.CallbackURL)
	err = h.service.RequestMagicLink(r.Context(), in.Email, callback, r)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrInvalidEmail):
		if wantsJSON(r) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEmailError(in.Email))
			return
		}
		h.redirectSignInError(w, r, SignInErrorEmailSignin)
		return
	default:
		slog.Error("failed to send magic link",
			slog.String("error", err.Error()),
		)
		if wantsJSON(r) {
			status := http.StatusInternalServerError
			if errors.Is(err, model.ErrEmailDeliveryFailed) {
				status = http.StatusBadGateway
			}
			middleware.WriteErrorResponse(w, status, model.NewEmailSigninError())
			return
		}
		h.redirectSignInError(w, r, SignInErrorEmailSignin)
		return
	}

	target := h.config.VerifyRequestRoute + "?" + url.Values{"provider": {"email"}, "type": {"email"}}.Encode()
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, redirectResponse{OK: true, URL: target})
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// EmailCallback はマジックリンクのトークンを検証し、セッションを発行する。
// GET /api/auth/callback/email?token=&email=&callbackUrl=
func (h *AuthHandler) EmailCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, err := h.service.VerifyMagicLink(r.Context(), q.Get("email"), q.Get("token"))
	if err != nil {
		if !errors.Is(err, model.ErrVerificationFailed) {
			slog.Error("magic link verification failed", slog.String("error", err.Error()))
		}
		h.redirectSignInError(w, r, SignInErrorVerification)
		return
	}

	session.SetCookie(w, h.config.Cookie, sess.SessionToken, sess.Expires)
	http.Redirect(w, r, h.callbackPath(q.Get("callbackUrl")), http.StatusFound)
}

// OneTapCallback はGoogleワンタップのIDトークンでサインインする。
// POST /api/auth/callback/googleonetap (credential, callbackUrl)
func (h *AuthHandler) OneTapCallback(w http.ResponseWriter, r *http.Request) {
	in, err := readAuthInput(r)
	if err != nil || in.Credential == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingCredentialError())
		return
	}

	sess, err := h.service.SignInWithCredential(r.Context(), in.Credential)
	if err != nil {
		if auth.IsSignInRejected(err) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewCredentialsSigninError())
			return
		}
		slog.Error("one tap sign in failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	session.SetCookie(w, h.config.Cookie, sess.SessionToken, sess.Expires)
	writeJSON(w, http.StatusOK, redirectResponse{OK: true, URL: h.callbackPath(in.CallbackURL)})
}

// sessionResponse はGET /api/auth/sessionのレスポンス。
type sessionResponse struct {
	User        sessionUser `json:"user"`
	Expires     string      `json:"expires"`
	AccessToken string      `json:"accessToken,omitempty"`
}

type sessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Session は現在のセッションを返す。未認証の場合は空オブジェクトを返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	su, err := h.resolver.ResolveSession(r)
	if err != nil {
		slog.Error("failed to resolve session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if su == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	token, err := h.client.Encode(r, su)
	if err != nil {
		slog.Error("failed to encode client session token",
			slog.String("user_id", su.User.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User: sessionUser{
			ID:    su.User.ID,
			Name:  su.User.Name,
			Email: su.User.Email,
			Image: su.User.Image,
		},
		Expires:     su.Session.Expires.UTC().Format(time.RFC3339),
		AccessToken: token,
	})
}

// SignOut は提示されたセッションを破棄し、両方のセッションCookieを削除する。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	// 提示されたセッションはすべて破棄する
	for _, token := range session.TokensFromRequest(r) {
		if err := h.service.Logout(r.Context(), token); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}
	session.ClearCookies(w, h.config.Cookie)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, redirectResponse{OK: true, URL: h.config.SignInRoute})
		return
	}
	http.Redirect(w, r, h.config.SignInRoute, http.StatusSeeOther)
}

// providerInfo はGET /api/auth/providersの要素。
type providerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	SignInURL   string `json:"signinUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// Providers は利用可能なサインイン方法を返す。
// GET /api/auth/providers
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(h.config.BaseURL, "/") + "/api/auth"
	writeJSON(w, http.StatusOK, map[string]providerInfo{
		"google": {
			ID: "google", Name: "Google", Type: "oauth",
			SignInURL: base + "/signin/google", CallbackURL: base + "/callback/google",
		},
		"googleonetap": {
			ID: "googleonetap", Name: "Google One Tap", Type: "credentials",
			SignInURL: base + "/callback/googleonetap", CallbackURL: base + "/callback/googleonetap",
		},
		"email": {
			ID: "email", Name: "Email", Type: "email",
			SignInURL: base + "/signin/email", CallbackURL: base + "/callback/email",
		},
	})
}

// redirectResponse はJSONで遷移先を返す場合のレスポンス。
type redirectResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

// authInput はサインイン系エンドポイントの入力。フォームとJSONの両方を受け付ける。
type authInput struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callbackUrl"`
	Credential  string `json:"credential"`
}

func readAuthInput(r *http.Request) (authInput, error) {
	var in authInput
	if isJSONContent(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxAuthBodyBytes)).Decode(&in); err != nil {
			return in, err
		}
		return in, nil
	}
	in.Email = r.FormValue("email")
	in.CallbackURL = r.FormValue("callbackUrl")
	in.Credential = r.FormValue("credential")
	return in, nil
}

func isJSONContent(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// wantsJSON はJSONでの応答を求めるリクエストかどうかを判定する。
func wantsJSON(r *http.Request) bool {
	return isJSONContent(r) || strings.Contains(r.Header.Get("Accept"), "application/json")
}

// callbackPath はcallbackUrlをオープンリダイレクトにならないパスに正規化する。
func (h *AuthHandler) callbackPath(raw string) string {
	return security.SafeCallbackPath(raw, h.config.BaseURL, h.config.LandingRoute)
}

func (h *AuthHandler) redirectSignInError(w http.ResponseWriter, r *http.Request, code string) {
	target := h.config.SignInRoute + "?" + url.Values{"error": {code}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthStateCookieAge,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearShortCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// oauthErrorCode はOAuthコールバックのエラーを /signin?error= のコードに変換する。
func oauthErrorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrAccountNotLinked):
		return SignInErrorOAuthNotLinked
	case auth.IsSignInRejected(err):
		slog.Warn("oauth sign in rejected", slog.String("error", err.Error()))
		return SignInErrorAccessDenied
	default:
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		return SignInErrorOAuthCallback
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
