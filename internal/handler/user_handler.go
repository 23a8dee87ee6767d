package handler

import (
	"net/http"
	"time"

	"github.com/eloraa/drive/internal/middleware"
	"github.com/eloraa/drive/internal/model"
)

// UserHandler はサインイン中のユーザー情報を返すHTTPハンドラー。
// SessionMiddlewareの後に配置する。
type UserHandler struct{}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

type meResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Email          string     `json:"email,omitempty"`
	EmailVerified  *time.Time `json:"emailVerified,omitempty"`
	Image          string     `json:"image,omitempty"`
	SessionExpires string     `json:"sessionExpires"`
}

// GetMe はサインイン中のユーザーのプロフィールとセッション期限を返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	su, ok := middleware.SessionFromContext(r.Context())
	if !ok || su.User == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	resp := meResponse{
		ID:             su.User.ID,
		Name:           su.User.Name,
		Email:          su.User.Email,
		Image:          su.User.Image,
		SessionExpires: su.Session.Expires.UTC().Format(time.RFC3339),
	}
	if su.User.EmailVerified != nil {
		verified := su.User.EmailVerified.UTC()
		resp.EmailVerified = &verified
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}
