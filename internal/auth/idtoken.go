package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/eloraa/drive/internal/model"
)

// DefaultGoogleJWKSURL はGoogleのIDトークン署名鍵の公開エンドポイント。
const DefaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// Googleが発行するIDトークンのiss。
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// AssertionPayload はIDトークンから取り出した本人情報。
type AssertionPayload struct {
	Email         string
	Subject       string
	GivenName     string
	FamilyName    string
	EmailVerified bool
	Picture       string
}

// IDTokenVerifier はIdPのIDトークンを検証する。
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*AssertionPayload, error)
}

// looseBool は true と "true" の両方を受け付ける。
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	switch string(data) {
	case "true":
		*b = true
	case "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean value: %s", data)
	}
	return nil
}

type googleClaims struct {
	Email         string    `json:"email"`
	EmailVerified looseBool `json:"email_verified"`
	GivenName     string    `json:"given_name"`
	FamilyName    string    `json:"family_name"`
	Picture       string    `json:"picture"`
	jwt.RegisteredClaims
}

// GoogleIDTokenVerifier はGoogleのIDトークン（RS256）を検証する。
type GoogleIDTokenVerifier struct {
	keyfunc  jwt.Keyfunc
	audience string
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
// keyfuncには署名鍵の解決関数（通常はJWKSのKeyfunc）を渡す。
func NewGoogleIDTokenVerifier(keyfunc jwt.Keyfunc, audience string) *GoogleIDTokenVerifier {
	return &GoogleIDTokenVerifier{keyfunc: keyfunc, audience: audience}
}

// NewGoogleJWKS はGoogleの署名鍵を取得し、バックグラウンドで更新するJWKSを返す。
func NewGoogleJWKS(jwksURL string) (*keyfunc.JWKS, error) {
	if jwksURL == "" {
		jwksURL = DefaultGoogleJWKSURL
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load google jwks: %w", err)
	}
	return jwks, nil
}

// Verify は署名・発行者・audience・有効期限を検証し、本人情報を返す。
// いずれかの検証に失敗した場合はmodel.ErrInvalidAssertionを返す。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, rawToken string) (*AssertionPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := &googleClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, v.keyfunc, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidAssertion, err)
	}
	if !token.Valid {
		return nil, model.ErrInvalidAssertion
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", model.ErrInvalidAssertion)
	}
	if !validIssuer(claims) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", model.ErrInvalidAssertion, claims.Issuer)
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", model.ErrInvalidAssertion)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", model.ErrInvalidAssertion)
	}

	return &AssertionPayload{
		Email:         claims.Email,
		Subject:       claims.Subject,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		EmailVerified: bool(claims.EmailVerified),
		Picture:       claims.Picture,
	}, nil
}

func validIssuer(claims *googleClaims) bool {
	for _, iss := range googleIssuers {
		if claims.VerifyIssuer(iss, true) {
			return true
		}
	}
	return false
}

// compile-time interface check
var (
	_ IDTokenVerifier  = (*GoogleIDTokenVerifier)(nil)
	_ json.Unmarshaler = (*looseBool)(nil)
)
