package security

import "github.com/microcosm-cc/bluemonday"

// TextSanitizer はHTMLに埋め込む動的な値を安全なテキストに変換する。
// bluemondayのStrictPolicyで全タグを除去し、テキスト部分はエスケープされる。
// 属性値（href等）に埋め込んでも引用符は実体参照になる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Escape は値をHTMLテキストとして安全な文字列にする。
func (s *TextSanitizer) Escape(value string) string {
	return s.policy.Sanitize(value)
}
