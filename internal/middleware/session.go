// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/eloraa/drive/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionContextKey は解決済みのセッションを格納するためのキー。
	sessionContextKey = contextKey("session")
)

// SessionResolver はリクエストからセッションを解決する。
// session.Resolverが実装する。
type SessionResolver interface {
	ResolveSession(r *http.Request) (*model.SessionAndUser, error)
}

// NewSessionMiddleware はリクエストのセッションを解決し、
// 認証済みのセッションとユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			su, err := resolver.ResolveSession(r)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if su == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), su)))
		})
	}
}

// ContextWithSession はコンテキストにセッションとユーザーIDを注入する。
func ContextWithSession(ctx context.Context, su *model.SessionAndUser) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, su)
	return ContextWithUserID(ctx, su.User.ID)
}

// SessionFromContext はリクエストコンテキストから解決済みのセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.SessionAndUser, bool) {
	su, ok := ctx.Value(sessionContextKey).(*model.SessionAndUser)
	return su, ok && su != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアかルートゲートを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// アクセスログにも同じユーザーIDを記録する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if info, ok := ctx.Value(logInfoContextKey).(*requestLogInfo); ok {
		info.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}
