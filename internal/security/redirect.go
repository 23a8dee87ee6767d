package security

import (
	"net/url"
	"strings"
)

// SafeCallbackPath はサインイン後の遷移先をオープンリダイレクトにならない形に正規化する。
// "/"で始まる相対パス、またはbaseURLと同一オリジンの絶対URLのみを受け付け、
// パス（クエリ付き）を返す。それ以外はfallbackを返す。
func SafeCallbackPath(raw, baseURL, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	if strings.HasPrefix(raw, "/") {
		// "//host" や "/\host" はブラウザで別オリジンとして解釈される
		if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
			return fallback
		}
		return raw
	}

	target, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return fallback
	}
	if !strings.EqualFold(target.Scheme, base.Scheme) || !strings.EqualFold(target.Host, base.Host) {
		return fallback
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return path
}
