// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はアカウントを発行したIdPの種別。
type Provider string

const (
	ProviderGoogle      Provider = "google"
	ProviderEmail       Provider = "email"
	ProviderCredentials Provider = "credentials"
)

// AccountType はアカウントの認証方式。
type AccountType string

const (
	AccountTypeOAuth       AccountType = "oauth"
	AccountTypeEmail       AccountType = "email"
	AccountTypeCredentials AccountType = "credentials"
)

// User はサービス利用ユーザーを表す。
// Emailは任意だが、設定されている場合はユーザー間で一意。
type User struct {
	ID            string
	Name          string
	Email         string
	EmailVerified *time.Time
	Image         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserProfile はユーザー作成時の入力。
type UserProfile struct {
	Name          string
	Email         string
	Image         string
	EmailVerified *time.Time
}

// Account は外部IdPとの紐付け情報を表す。
// (Provider, ProviderAccountID) の組は一意で、作成後は変更しない。
type Account struct {
	ID                string
	UserID            string
	Type              AccountType
	Provider          Provider
	ProviderAccountID string
	CreatedAt         time.Time
}

// Session はユーザーのログインセッションを表す。
// SessionTokenは推測不能な不透明値で、Cookieにそのまま格納される。
type Session struct {
	SessionToken string
	UserID       string
	Expires      time.Time
	CreatedAt    time.Time
}

// Expired は指定時刻においてセッションが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.Expires)
}

// SessionAndUser はセッションとその所有ユーザーの組。
type SessionAndUser struct {
	Session *Session
	User    *User
}

// VerificationToken はマジックリンク用の使い捨てトークン。
// Tokenにはハッシュ化済みの値を保存する。
type VerificationToken struct {
	Identifier string
	Token      string
	Expires    time.Time
}
