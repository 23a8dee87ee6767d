package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eloraa/drive/internal/model"
	"github.com/eloraa/drive/internal/repository"
)

// CredentialVerifier はワンタップのcredential（GoogleのIDトークン）からユーザーを解決する。
//
// メールアドレスでユーザーを先に検索し、その後にプロバイダーアカウントを検索する。
// マジックリンクで登録済みのユーザーも同じユーザーにGoogleアカウントが紐付く。
type CredentialVerifier struct {
	tokens  IDTokenVerifier
	store   repository.IdentityStore
	nowFunc func() time.Time
}

// NewCredentialVerifier はCredentialVerifierを生成する。
func NewCredentialVerifier(tokens IDTokenVerifier, store repository.IdentityStore) *CredentialVerifier {
	return &CredentialVerifier{
		tokens:  tokens,
		store:   store,
		nowFunc: time.Now,
	}
}

// Verify はcredentialを検証し、対応するユーザーを返す。
// 必要に応じてユーザー作成とGoogleアカウントの紐付けを行う。
func (v *CredentialVerifier) Verify(ctx context.Context, credential string) (*model.User, error) {
	payload, err := v.tokens.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	email := canonicalEmail(payload.Email)
	if email == "" || !payload.EmailVerified {
		return nil, model.ErrMissingEmail
	}

	// 1. メールアドレスで検索し、なければ作成
	user, err := v.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		now := v.nowFunc()
		user, err = createOrReloadUser(ctx, v.store, model.UserProfile{
			Name:          fullName(payload.GivenName, payload.FamilyName),
			Email:         email,
			Image:         payload.Picture,
			EmailVerified: &now,
		})
		if err != nil {
			return nil, err
		}
	}
	if user == nil {
		return nil, model.ErrAuthorizationDenied
	}

	// 2. プロバイダーアカウントが未登録なら紐付け
	linked, err := v.store.GetUserByAccount(ctx, model.ProviderGoogle, payload.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by account: %w", err)
	}
	if linked == nil {
		if err := linkAccount(ctx, v.store, user.ID, model.ProviderGoogle, payload.Subject, model.AccountTypeOAuth); err != nil {
			return nil, err
		}
		slog.Info("google account linked",
			slog.String("user_id", user.ID),
			slog.String("provider", string(model.ProviderGoogle)),
		)
	}

	return user, nil
}

// createOrReloadUser はユーザーを作成する。
// 同時作成で一意制約違反になった場合は作成済みのユーザーを読み直す。
func createOrReloadUser(ctx context.Context, store repository.IdentityStore, profile model.UserProfile) (*model.User, error) {
	user, err := store.CreateUser(ctx, profile)
	if errors.Is(err, model.ErrAlreadyExists) {
		user, err = store.GetUserByEmail(ctx, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to reload user: %w", err)
		}
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("new user created", slog.String("user_id", user.ID))
	return user, nil
}

// linkAccount はアカウントを紐付ける。既に紐付け済みの場合は成功として扱う。
func linkAccount(ctx context.Context, store repository.IdentityStore, userID string, provider model.Provider, providerAccountID string, accountType model.AccountType) error {
	err := store.LinkAccount(ctx, userID, provider, providerAccountID, accountType)
	if err != nil && !errors.Is(err, model.ErrAlreadyExists) {
		return fmt.Errorf("failed to link account: %w", err)
	}
	return nil
}

// canonicalEmail はメールアドレスを保存・照合用の形（前後の空白除去・小文字）にする。
// マジックリンクの識別子と同じ形に揃える。
func canonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func fullName(given, family string) string {
	return strings.TrimSpace(given + " " + family)
}
