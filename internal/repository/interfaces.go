// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/eloraa/drive/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// emailの一意制約違反の場合はmodel.ErrAlreadyExistsを返す。
	Create(ctx context.Context, user *model.User) error

	// MarkEmailVerified はメールアドレスの検証日時を記録する。
	MarkEmailVerified(ctx context.Context, id string, verifiedAt time.Time) error
}

// AccountRepository は外部IdP紐付け情報の永続化インターフェース。
type AccountRepository interface {
	// FindByProviderAccount はproviderとprovider_account_idでアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAccount(ctx context.Context, provider model.Provider, providerAccountID string) (*model.Account, error)

	// Create はアカウントを作成する。
	// (provider, provider_account_id) の一意制約違反の場合はmodel.ErrAlreadyExistsを返す。
	Create(ctx context.Context, account *model.Account) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken は指定トークンのセッションを取得する。期限切れの場合はnilを返す。
	FindByToken(ctx context.Context, sessionToken string) (*model.Session, error)
	// DeleteByToken は指定トークンのセッションを削除する。
	DeleteByToken(ctx context.Context, sessionToken string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// VerificationTokenRepository はマジックリンク用トークンの永続化インターフェース。
type VerificationTokenRepository interface {
	// Create はトークンを作成する。
	Create(ctx context.Context, token *model.VerificationToken) error
	// Use はidentifierとtokenに一致するトークンを削除し、削除前の値を返す。
	// 見つからない場合はnilを返す。期限の判定は呼び出し側で行う。
	Use(ctx context.Context, identifier, token string) (*model.VerificationToken, error)
	// DeleteExpired は期限切れのトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// IdentityStore は認証サブシステムが利用する唯一の永続化境界。
// 見つからない場合は (nil, nil) を返す。
// CreateUser と LinkAccount は重複を作らず、一意制約違反時はmodel.ErrAlreadyExistsを返す。
type IdentityStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, profile model.UserProfile) (*model.User, error)
	MarkEmailVerified(ctx context.Context, userID string, verifiedAt time.Time) error
	GetUserByAccount(ctx context.Context, provider model.Provider, providerAccountID string) (*model.User, error)
	LinkAccount(ctx context.Context, userID string, provider model.Provider, providerAccountID string, accountType model.AccountType) error

	CreateSession(ctx context.Context, userID string, expires time.Time, sessionToken string) (*model.Session, error)
	GetSessionAndUser(ctx context.Context, sessionToken string) (*model.SessionAndUser, error)
	DeleteSession(ctx context.Context, sessionToken string) error

	CreateVerificationToken(ctx context.Context, token *model.VerificationToken) error
	UseVerificationToken(ctx context.Context, identifier, token string) (*model.VerificationToken, error)
}
