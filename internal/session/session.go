// Package session はセッショントークンのエンコード・デコードとリクエストからのセッション解決を提供する。
//
// ブラウザ側（クライアントコンテキスト）には署名付きトークンを、
// サーバー側（サーバーコンテキスト）にはCookieに格納した不透明なセッショントークンを使う。
// どちらを使うかは実行環境から推測せず、呼び出し側がExecutionContextで明示する。
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/eloraa/drive/internal/model"
)

// ExecutionContext はトークンを扱う実行コンテキスト。
type ExecutionContext int

const (
	// ServerContext はリクエストのCookieをストアで直接引く。
	ServerContext ExecutionContext = iota
	// ClientContext は署名付きトークンを使う。
	ClientContext
)

// String はfmt.Stringerを実装する。
func (ec ExecutionContext) String() string {
	switch ec {
	case ClientContext:
		return "client"
	case ServerContext:
		return "server"
	default:
		return "unknown"
	}
}

// Token は署名付きトークンに載せるセッション情報。
type Token struct {
	SessionToken string
	UserID       string
	Name         string
	Email        string
	Image        string
	Expires      time.Time
}

// Codec はセッションとトークン文字列を相互に変換する。
type Codec interface {
	// Encode はリクエストとセッションからトークン文字列を返す。
	Encode(r *http.Request, su *model.SessionAndUser) (string, error)
	// Decode はリクエストからセッションを復元する。無効または存在しない場合はnilを返す。
	Decode(r *http.Request) (*model.SessionAndUser, error)
}

// SessionStore はセッション解決に必要なストア操作。
type SessionStore interface {
	GetSessionAndUser(ctx context.Context, sessionToken string) (*model.SessionAndUser, error)
}

// ForContext は実行コンテキストに対応するCodecを返す。
func ForContext(ec ExecutionContext, signed, cookie Codec) Codec {
	if ec == ClientContext {
		return signed
	}
	return cookie
}
