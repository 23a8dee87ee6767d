package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eloraa/drive/internal/model"
)

// ErrInvalidToken は署名付きトークンの検証失敗を表す。
var ErrInvalidToken = errors.New("invalid session token")

const signedTokenIssuer = "drive"

type signedClaims struct {
	SID   string `json:"sid"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// SignedCodec はクライアントコンテキストのCodec。HS256で署名したJWTを使う。
type SignedCodec struct {
	secret  []byte
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewSignedCodec はSignedCodecを生成する。
// ttlはトークンの最大有効期間で、セッションの期限を超えることはない。
func NewSignedCodec(secret string, ttl time.Duration) *SignedCodec {
	return &SignedCodec{
		secret:  []byte(secret),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Sign はTokenに署名する。
func (c *SignedCodec) Sign(t Token) (string, error) {
	now := c.nowFunc()
	claims := signedClaims{
		SID:   t.SessionToken,
		Name:  t.Name,
		Email: t.Email,
		Image: t.Image,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signedTokenIssuer,
			Subject:   t.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(t.Expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse は署名・発行者・有効期限を検証してTokenを返す。
func (c *SignedCodec) Parse(raw string) (*Token, error) {
	claims := &signedClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signedTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.nowFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Token{
		SessionToken: claims.SID,
		UserID:       claims.Subject,
		Name:         claims.Name,
		Email:        claims.Email,
		Image:        claims.Image,
		Expires:      claims.ExpiresAt.Time,
	}, nil
}

// Encode はセッションとユーザーから署名付きトークンを発行する。
func (c *SignedCodec) Encode(_ *http.Request, su *model.SessionAndUser) (string, error) {
	if su == nil || su.Session == nil || su.User == nil {
		return "", errors.New("session is required")
	}
	expires := su.Session.Expires
	if c.ttl > 0 {
		if limit := c.nowFunc().Add(c.ttl); limit.Before(expires) {
			expires = limit
		}
	}
	return c.Sign(Token{
		SessionToken: su.Session.SessionToken,
		UserID:       su.User.ID,
		Name:         su.User.Name,
		Email:        su.User.Email,
		Image:        su.User.Image,
		Expires:      expires,
	})
}

// Decode はAuthorizationヘッダーのBearerトークンを検証して復元する。
// ストアは参照しない。トークンがない・無効な場合はnilを返す。
func (c *SignedCodec) Decode(r *http.Request) (*model.SessionAndUser, error) {
	raw := BearerToken(r)
	if raw == "" {
		return nil, nil
	}
	t, err := c.Parse(raw)
	if err != nil {
		return nil, nil
	}
	return &model.SessionAndUser{
		Session: &model.Session{
			SessionToken: t.SessionToken,
			UserID:       t.UserID,
			Expires:      t.Expires,
		},
		User: &model.User{
			ID:    t.UserID,
			Name:  t.Name,
			Email: t.Email,
			Image: t.Image,
		},
	}, nil
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func BearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if len(raw) < len("Bearer ") || !strings.EqualFold(raw[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(raw[len("Bearer "):])
}

// compile-time interface check
var _ Codec = (*SignedCodec)(nil)
