package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/eloraa/drive/internal/model"
)

// セッションCookie名。Secure属性付きで発行する場合は__Secure-接頭辞の方を使う。
const (
	CookieName       = "next-auth.session-token"
	SecureCookieName = "__Secure-next-auth.session-token"
)

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Domain string
	Secure bool
}

// Name は設定に応じたCookie名を返す。
func (c CookieConfig) Name() string {
	if c.Secure {
		return SecureCookieName
	}
	return CookieName
}

// SetCookie はセッションCookieを設定する。有効期限はセッションと揃える。
func SetCookie(w http.ResponseWriter, cfg CookieConfig, sessionToken string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name(),
		Value:    sessionToken,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookies は両方のセッションCookieを削除する。
func ClearCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{CookieName, SecureCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   cfg.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			// __Secure-接頭辞のCookieはSecure属性がないと上書きできない
			Secure:   cfg.Secure || name == SecureCookieName,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// TokensFromRequest はリクエストにあるセッションCookieの値をすべて返す。
// Secure版を先に並べ、空値と重複は除く。
func TokensFromRequest(r *http.Request) []string {
	var tokens []string
	seen := make(map[string]struct{})
	for _, name := range []string{SecureCookieName, CookieName} {
		for _, c := range r.Cookies() {
			if c.Name != name || c.Value == "" {
				continue
			}
			if _, ok := seen[c.Value]; ok {
				continue
			}
			seen[c.Value] = struct{}{}
			tokens = append(tokens, c.Value)
		}
	}
	return tokens
}

// TokenFromRequest はリクエストのセッションCookieの値を一つ返す。
// Secure版を優先する。どちらもなければ空文字列。
func TokenFromRequest(r *http.Request) string {
	if tokens := TokensFromRequest(r); len(tokens) > 0 {
		return tokens[0]
	}
	return ""
}

// CookieCodec はサーバーコンテキストのCodec。
// Cookieの値はクレームを持たない参照キーなので署名しない。
type CookieCodec struct {
	store   SessionStore
	nowFunc func() time.Time
}

// NewCookieCodec はCookieCodecを生成する。
func NewCookieCodec(store SessionStore) *CookieCodec {
	return &CookieCodec{store: store, nowFunc: time.Now}
}

// Encode はリクエストに既にあるセッションCookieの値をそのまま返す。
// 複数のCookieがある場合は、suのセッションに対応する値を選ぶ。
func (c *CookieCodec) Encode(r *http.Request, su *model.SessionAndUser) (string, error) {
	tokens := TokensFromRequest(r)
	if su != nil && su.Session != nil {
		for _, t := range tokens {
			if t == su.Session.SessionToken {
				return t, nil
			}
		}
	}
	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[0], nil
}

// Decode はセッションCookieをストアで引き、セッションとユーザーを返す。
// 提示されたCookieを順に試し、最初に有効だったものを採用する。
// すべて無効・期限切れ・未提示の場合はnilを返す。セッションを新規作成することはない。
func (c *CookieCodec) Decode(r *http.Request) (*model.SessionAndUser, error) {
	for _, token := range TokensFromRequest(r) {
		su, err := c.Lookup(r, token)
		if err != nil || su != nil {
			return su, err
		}
	}
	return nil, nil
}

// Lookup は指定のセッショントークンをストアで引く。
func (c *CookieCodec) Lookup(r *http.Request, sessionToken string) (*model.SessionAndUser, error) {
	if sessionToken == "" {
		return nil, nil
	}
	su, err := c.store.GetSessionAndUser(r.Context(), sessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if su == nil || su.Session == nil || su.User == nil || su.Session.Expired(c.nowFunc()) {
		return nil, nil
	}
	return su, nil
}

// compile-time interface check
var _ Codec = (*CookieCodec)(nil)
