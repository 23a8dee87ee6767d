package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/eloraa/drive/internal/model"
)

const (
	testKID      = "test-key"
	testAudience = "client-id.apps.googleusercontent.com"
)

// newTestJWKS はテスト用のRSA鍵とそれを公開するJWKSを生成する。
func newTestJWKS(t *testing.T) (*rsa.PrivateKey, *keyfunc.JWKS) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}

	raw, err := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatalf("failed to marshal jwks: %v", err)
	}

	jwks, err := keyfunc.NewJSON(raw)
	if err != nil {
		t.Fatalf("failed to create jwks: %v", err)
	}
	return key, jwks
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testAudience,
		"sub":            "google-sub-1",
		"email":          "user@example.com",
		"email_verified": true,
		"given_name":     "Test",
		"family_name":    "User",
		"picture":        "https://example.com/p.png",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestGoogleIDTokenVerifier_Verify_ValidToken_ReturnsPayload(t *testing.T) {
	key, jwks := newTestJWKS(t)
	v := NewGoogleIDTokenVerifier(jwks.Keyfunc, testAudience)

	payload, err := v.Verify(context.Background(), signRS256(t, key, validClaims()))
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	want := AssertionPayload{
		Email:         "user@example.com",
		Subject:       "google-sub-1",
		GivenName:     "Test",
		FamilyName:    "User",
		EmailVerified: true,
		Picture:       "https://example.com/p.png",
	}
	if *payload != want {
		t.Errorf("payload = %+v, want %+v", *payload, want)
	}
}

func TestGoogleIDTokenVerifier_Verify_StringEmailVerified(t *testing.T) {
	key, jwks := newTestJWKS(t)
	v := NewGoogleIDTokenVerifier(jwks.Keyfunc, testAudience)

	claims := validClaims()
	claims["email_verified"] = "true"
	claims["iss"] = "accounts.google.com"

	payload, err := v.Verify(context.Background(), signRS256(t, key, claims))
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !payload.EmailVerified {
		t.Error("EmailVerified should accept the string form")
	}
}

func TestGoogleIDTokenVerifier_Verify_Rejections(t *testing.T) {
	key, jwks := newTestJWKS(t)
	otherKey, _ := newTestJWKS(t)
	v := NewGoogleIDTokenVerifier(jwks.Keyfunc, testAudience)

	tests := []struct {
		name  string
		token func() string
	}{
		{
			name: "wrong audience",
			token: func() string {
				c := validClaims()
				c["aud"] = "someone-else"
				return signRS256(t, key, c)
			},
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := validClaims()
				c["iss"] = "https://evil.example.com"
				return signRS256(t, key, c)
			},
		},
		{
			name: "expired",
			token: func() string {
				c := validClaims()
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return signRS256(t, key, c)
			},
		},
		{
			name: "missing exp",
			token: func() string {
				c := validClaims()
				delete(c, "exp")
				return signRS256(t, key, c)
			},
		},
		{
			name: "signed by unknown key",
			token: func() string {
				return signRS256(t, otherKey, validClaims())
			},
		},
		{
			name: "hmac algorithm",
			token: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
				token.Header["kid"] = testKID
				signed, _ := token.SignedString([]byte("secret"))
				return signed
			},
		},
		{
			name:  "garbage",
			token: func() string { return "not-a-jwt" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token())
			if !errors.Is(err, model.ErrInvalidAssertion) {
				t.Errorf("expected ErrInvalidAssertion, got %v", err)
			}
		})
	}
}
