package session

import (
	"net/http"

	"github.com/eloraa/drive/internal/model"
)

// Resolver はリクエストから有効なセッションを一つ解決する。
// Cookieの値も署名付きトークンのsidも必ずストアで確認する。
type Resolver struct {
	cookie *CookieCodec
	signed *SignedCodec
}

// NewResolver はResolverを生成する。signedはnil可。
func NewResolver(cookie *CookieCodec, signed *SignedCodec) *Resolver {
	return &Resolver{cookie: cookie, signed: signed}
}

// ResolveSession はセッションCookie、次にBearerトークンの順にセッションを解決する。
// 無効なトークンと存在しないトークンは区別せずnilを返す。ストアのエラーはそのまま返す。
func (res *Resolver) ResolveSession(r *http.Request) (*model.SessionAndUser, error) {
	su, err := res.cookie.Decode(r)
	if err != nil || su != nil {
		return su, err
	}

	if res.signed == nil {
		return nil, nil
	}
	claimed, err := res.signed.Decode(r)
	if err != nil || claimed == nil {
		return nil, err
	}

	su, err = res.cookie.Lookup(r, claimed.Session.SessionToken)
	if err != nil || su == nil {
		return nil, err
	}
	if su.User.ID != claimed.User.ID {
		return nil, nil
	}
	return su, nil
}
