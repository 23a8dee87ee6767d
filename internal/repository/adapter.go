package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eloraa/drive/internal/model"
)

// Adapter は各リポジトリを束ねてIdentityStoreを実装する。
type Adapter struct {
	users    UserRepository
	accounts AccountRepository
	sessions SessionRepository
	tokens   VerificationTokenRepository
	nowFunc  func() time.Time
}

// NewAdapter はAdapterを生成する。
func NewAdapter(users UserRepository, accounts AccountRepository, sessions SessionRepository, tokens VerificationTokenRepository) *Adapter {
	return &Adapter{
		users:    users,
		accounts: accounts,
		sessions: sessions,
		tokens:   tokens,
		nowFunc:  time.Now,
	}
}

// GetUserByID は指定IDのユーザーを取得する。
func (a *Adapter) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return a.users.FindByID(ctx, id)
}

// GetUserByEmail はメールアドレスでユーザーを取得する。大文字小文字は区別しない。
func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return a.users.FindByEmail(ctx, email)
}

// normalizeEmail はusers.emailに保存する形（前後の空白除去・小文字）にする。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser は新しいIDを採番してユーザーを作成する。
func (a *Adapter) CreateUser(ctx context.Context, profile model.UserProfile) (*model.User, error) {
	now := a.nowFunc()
	user := &model.User{
		ID:            uuid.New().String(),
		Name:          profile.Name,
		Email:         normalizeEmail(profile.Email),
		EmailVerified: profile.EmailVerified,
		Image:         profile.Image,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// MarkEmailVerified はメールアドレスの検証日時を記録する。
func (a *Adapter) MarkEmailVerified(ctx context.Context, userID string, verifiedAt time.Time) error {
	return a.users.MarkEmailVerified(ctx, userID, verifiedAt)
}

// GetUserByAccount は (provider, providerAccountID) に紐付くユーザーを取得する。
func (a *Adapter) GetUserByAccount(ctx context.Context, provider model.Provider, providerAccountID string) (*model.User, error) {
	account, err := a.accounts.FindByProviderAccount(ctx, provider, providerAccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}
	return a.users.FindByID(ctx, account.UserID)
}

// LinkAccount はユーザーに外部IdPアカウントを紐付ける。
func (a *Adapter) LinkAccount(ctx context.Context, userID string, provider model.Provider, providerAccountID string, accountType model.AccountType) error {
	return a.accounts.Create(ctx, &model.Account{
		ID:                uuid.New().String(),
		UserID:            userID,
		Type:              accountType,
		Provider:          provider,
		ProviderAccountID: providerAccountID,
		CreatedAt:         a.nowFunc(),
	})
}

// CreateSession はセッションを作成する。
func (a *Adapter) CreateSession(ctx context.Context, userID string, expires time.Time, sessionToken string) (*model.Session, error) {
	session := &model.Session{
		SessionToken: sessionToken,
		UserID:       userID,
		Expires:      expires,
		CreatedAt:    a.nowFunc(),
	}
	if err := a.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSessionAndUser は有効なセッションとその所有ユーザーを取得する。
// セッションが存在しない、期限切れ、またはユーザーが削除済みの場合はnilを返す。
func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*model.SessionAndUser, error) {
	if sessionToken == "" {
		return nil, nil
	}
	session, err := a.sessions.FindByToken(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Expired(a.nowFunc()) {
		return nil, nil
	}
	user, err := a.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	return &model.SessionAndUser{Session: session, User: user}, nil
}

// DeleteSession はセッションを削除する。
func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	return a.sessions.DeleteByToken(ctx, sessionToken)
}

// CreateVerificationToken はマジックリンク用トークンを保存する。
func (a *Adapter) CreateVerificationToken(ctx context.Context, token *model.VerificationToken) error {
	return a.tokens.Create(ctx, token)
}

// UseVerificationToken はトークンを消費して返す。
func (a *Adapter) UseVerificationToken(ctx context.Context, identifier, token string) (*model.VerificationToken, error) {
	return a.tokens.Use(ctx, identifier, token)
}

// compile-time interface check
var _ IdentityStore = (*Adapter)(nil)
