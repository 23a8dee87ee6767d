package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/eloraa/drive/internal/middleware"
	"github.com/eloraa/drive/internal/model"
)

// NewPageHandler はルートゲートを通過したページリクエストの転送先を返す。
// frontendURLが設定されていればそこへリバースプロキシし、未設定なら404を返す。
func NewPageHandler(frontendURL string) (http.Handler, error) {
	if frontendURL == "" {
		return http.HandlerFunc(notFound), nil
	}

	target, err := url.Parse(frontendURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid frontend url %q", frontendURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("frontend proxy error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "UPSTREAM_UNAVAILABLE",
			Message:  "ページを表示できませんでした。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
	}
	return proxy, nil
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     "NOT_FOUND",
		Message:  "ページが見つかりません。",
		Category: "validation",
		Action:   "URLを確認してください。",
	})
}
