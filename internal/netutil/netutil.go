// Package netutil はリクエスト元IPの抽出と正規化を提供する。
package netutil

import (
	"net/http"
	"net/netip"
	"strings"
)

// UnknownIP はクライアントIPを特定できない場合の値。
const UnknownIP = "0.0.0.0"

// ClientIP はリクエスト元のIPアドレスを返す。
// X-Forwarded-Forの先頭要素、X-Real-IP、UnknownIPの順に採用する。
// ポート付きの値はIP部分のみに正規化する。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return normalizeOrRaw(ip)
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return normalizeOrRaw(real)
	}
	return UnknownIP
}

func normalizeOrRaw(raw string) string {
	if ip, ok := NormalizeIP(raw); ok {
		return ip
	}
	return raw
}

// NormalizeIP はIP文字列（ポート付きも可）からゾーン識別子を除いたIP部分を返す。
// 2番目の戻り値はIPとして解釈できたかどうか。
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		if addr := addrPort.Addr().WithZone(""); addr.IsValid() {
			return addr.String(), true
		}
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		if addr = addr.WithZone(""); addr.IsValid() {
			return addr.String(), true
		}
	}
	// "[::1]:port" のような数値以外のポートを持つIPv6
	if strings.HasPrefix(raw, "[") && strings.Contains(raw, "]") {
		host := raw[1:strings.LastIndex(raw, "]")]
		if addr, err := netip.ParseAddr(host); err == nil {
			return addr.WithZone("").String(), true
		}
	}
	return raw, false
}

// IsPublicIP はIPがグローバルに到達可能なアドレスかどうかを返す。
// 未指定・ループバック・プライベート・リンクローカルはfalse。
func IsPublicIP(raw string) bool {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return false
	}
	return addr.IsGlobalUnicast() && !addr.IsPrivate()
}
