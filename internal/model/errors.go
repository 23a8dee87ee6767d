// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// 認証フローのドメインエラー。errors.Isで判定する。
var (
	// ErrInvalidAssertion はIdPのIDトークンの署名・発行者・audience・有効期限の検証失敗を表す。
	ErrInvalidAssertion = errors.New("invalid identity assertion")
	// ErrMissingEmail は検証済みのメールアドレスがIDトークンに含まれないことを表す。
	ErrMissingEmail = errors.New("verified email not available")
	// ErrAuthorizationDenied はユーザーを解決・作成できなかったことを表す。
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrAccountNotLinked は未検証メールが既存ユーザーと衝突したことを表す。
	ErrAccountNotLinked = errors.New("account not linked")
	// ErrVerificationFailed はマジックリンクのトークンが無効・使用済み・期限切れであることを表す。
	ErrVerificationFailed = errors.New("verification token invalid or expired")
	// ErrEmailDeliveryFailed はマジックリンクメールの送信失敗を表す。
	ErrEmailDeliveryFailed = errors.New("email delivery failed")
	// ErrInvalidEmail はメールアドレスの形式が不正であることを表す。
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrAlreadyExists は一意制約違反を表す。呼び出し側は再読込で回復する。
	ErrAlreadyExists = errors.New("already exists")
)

// EmailDeliveryError は配送できなかった宛先を保持する。
// errors.Is(err, ErrEmailDeliveryFailed) が真になる。
type EmailDeliveryError struct {
	Recipients []string
}

// Error はerrorインターフェースを実装する。
func (e *EmailDeliveryError) Error() string {
	return fmt.Sprintf("Email(s) (%s) could not be sent", strings.Join(e.Recipients, ", "))
}

// Unwrap はErrEmailDeliveryFailedを返す。
func (e *EmailDeliveryError) Unwrap() error {
	return ErrEmailDeliveryFailed
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidEmail      = "INVALID_EMAIL"
	ErrCodeMissingCredential = "MISSING_CREDENTIAL"
	ErrCodeCredentialsSignin = "CREDENTIALS_SIGNIN"
	ErrCodeEmailSignin       = "EMAIL_SIGNIN"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeCSRF              = "CSRF_TOKEN_INVALID"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "サインインしてから再度お試しください。",
	}
}

// NewInvalidEmailError はメールアドレス形式の不正を表すエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewMissingCredentialError はワンタップのcredentialが空であることを表すエラーを生成する。
func NewMissingCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  "credentialが指定されていません。",
		Category: "validation",
		Action:   "Googleのワンタップから再度サインインしてください。",
	}
}

// NewCredentialsSigninError はワンタップサインインの失敗を表すエラーを生成する。
func NewCredentialsSigninError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialsSignin,
		Message:  "Googleアカウントでのサインインに失敗しました。",
		Category: "auth",
		Action:   "別の方法でサインインするか、しばらく待ってから再度お試しください。",
	}
}

// NewEmailSigninError はマジックリンクメール送信の失敗を表すエラーを生成する。
func NewEmailSigninError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailSignin,
		Message:  "サインイン用メールを送信できませんでした。",
		Category: "auth",
		Action:   "メールアドレスを確認し、しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークン検証の失敗を表すエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
