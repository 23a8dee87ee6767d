package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/eloraa/drive/internal/mail"
	"github.com/eloraa/drive/internal/model"
)

// --- モック定義 ---

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

type mockSender struct {
	sendFn func(ctx context.Context, req mail.MagicLinkRequest) error
	sent   []mail.MagicLinkRequest
}

func (m *mockSender) Send(ctx context.Context, req mail.MagicLinkRequest) error {
	m.sent = append(m.sent, req)
	if m.sendFn != nil {
		return m.sendFn(ctx, req)
	}
	return nil
}

// --- compile-time interface checks ---
var (
	_ OAuthProvider   = (*mockOAuthProvider)(nil)
	_ MagicLinkSender = (*mockSender)(nil)
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store *memStore, oauth OAuthProvider, sender MagicLinkSender) *Service {
	credentials := NewCredentialVerifier(verifierReturning(testPayload), store)
	credentials.nowFunc = func() time.Time { return testNow }
	svc := NewService(oauth, credentials, store, sender, ServiceConfig{
		BaseURL: "https://drive.example.com",
		Secret:  "test-secret",
	}, nil)
	svc.nowFunc = func() time.Time { return testNow }
	return svc
}

func oauthReturning(info OAuthUserInfo) *mockOAuthProvider {
	return &mockOAuthProvider{
		exchangeCodeFn: func(context.Context, string) (*OAuthUserInfo, error) {
			i := info
			return &i, nil
		},
	}
}

// --- テスト ---

func TestGetLoginURL_ReturnsOAuthURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/v2/auth?state=" + state
		},
	}
	svc := newTestService(newMemStore(), provider, &mockSender{})

	expected := "https://accounts.google.com/o/oauth2/v2/auth?state=test-state"
	if got := svc.GetLoginURL("test-state"); got != expected {
		t.Errorf("GetLoginURL() = %q, want %q", got, expected)
	}
}

func TestSignInWithCredential_CreatesThirtyDaySession(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &mockOAuthProvider{}, &mockSender{})

	session, err := svc.SignInWithCredential(context.Background(), "credential")
	if err != nil {
		t.Fatalf("SignInWithCredential() error: %v", err)
	}

	if len(session.SessionToken) != 64 {
		t.Errorf("session token length = %d, want 64 hex chars", len(session.SessionToken))
	}
	if want := testNow.Add(30 * 24 * time.Hour); !session.Expires.Equal(want) {
		t.Errorf("Expires = %v, want %v", session.Expires, want)
	}

	// サーバー側で同じトークンからユーザーを解決できること
	su, _ := store.GetSessionAndUser(context.Background(), session.SessionToken)
	if su == nil || su.User.Email != "user@example.com" {
		t.Errorf("session should resolve to the signed-in user, got %+v", su)
	}
}

func TestSignInWithCredential_Twice_DistinctSessionsSameUser(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &mockOAuthProvider{}, &mockSender{})

	first, err := svc.SignInWithCredential(context.Background(), "credential")
	if err != nil {
		t.Fatalf("first sign-in error: %v", err)
	}
	second, err := svc.SignInWithCredential(context.Background(), "credential")
	if err != nil {
		t.Fatalf("second sign-in error: %v", err)
	}

	if first.SessionToken == second.SessionToken {
		t.Error("each sign-in should issue a fresh session token")
	}
	if first.UserID != second.UserID {
		t.Error("both sessions should belong to the same user")
	}
	if store.userCount() != 1 || store.accountCount() != 1 {
		t.Errorf("users = %d accounts = %d, want 1 and 1", store.userCount(), store.accountCount())
	}
}

func TestSignInWithCredential_StoreError_NoSession(t *testing.T) {
	store := newMemStore()
	store.createSessionErr = errors.New("db down")
	svc := newTestService(store, &mockOAuthProvider{}, &mockSender{})

	if _, err := svc.SignInWithCredential(context.Background(), "credential"); err == nil {
		t.Fatal("expected error when session creation fails")
	}
}

func TestHandleOAuthCallback_NewUser_CreatesUserAccountAndSession(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, oauthReturning(OAuthUserInfo{
		ProviderUserID: "google-sub-9",
		Email:          "new@example.com",
		EmailVerified:  true,
		Name:           "New User",
		Provider:       model.ProviderGoogle,
	}), &mockSender{})

	session, err := svc.HandleOAuthCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleOAuthCallback() error: %v", err)
	}

	user, _ := store.GetUserByAccount(context.Background(), model.ProviderGoogle, "google-sub-9")
	if user == nil || user.ID != session.UserID {
		t.Fatal("account should be linked to the session user")
	}
	if user.EmailVerified == nil {
		t.Error("verified email should be recorded")
	}
}

func TestHandleOAuthCallback_ExistingAccount_LogsIn(t *testing.T) {
	store := newMemStore()
	existing, _ := store.CreateUser(context.Background(), model.UserProfile{Email: "old@example.com"})
	_ = store.LinkAccount(context.Background(), existing.ID, model.ProviderGoogle, "google-sub-9", model.AccountTypeOAuth)

	svc := newTestService(store, oauthReturning(OAuthUserInfo{
		ProviderUserID: "google-sub-9",
		Email:          "renamed@example.com",
		Provider:       model.ProviderGoogle,
	}), &mockSender{})

	session, err := svc.HandleOAuthCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleOAuthCallback() error: %v", err)
	}
	if session.UserID != existing.ID {
		t.Errorf("UserID = %q, want %q", session.UserID, existing.ID)
	}
	if store.userCount() != 1 {
		t.Errorf("user count = %d, want 1", store.userCount())
	}
}

func TestHandleOAuthCallback_VerifiedEmailMatchesUser_Links(t *testing.T) {
	store := newMemStore()
	existing, _ := store.CreateUser(context.Background(), model.UserProfile{Email: "user@example.com"})

	svc := newTestService(store, oauthReturning(OAuthUserInfo{
		ProviderUserID: "google-sub-9",
		Email:          "user@example.com",
		EmailVerified:  true,
		Provider:       model.ProviderGoogle,
	}), &mockSender{})

	session, err := svc.HandleOAuthCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleOAuthCallback() error: %v", err)
	}
	if session.UserID != existing.ID {
		t.Errorf("UserID = %q, want existing %q", session.UserID, existing.ID)
	}
}

func TestHandleOAuthCallback_UnverifiedEmailCollision_ReturnsAccountNotLinked(t *testing.T) {
	store := newMemStore()
	_, _ = store.CreateUser(context.Background(), model.UserProfile{Email: "user@example.com"})

	svc := newTestService(store, oauthReturning(OAuthUserInfo{
		ProviderUserID: "google-sub-9",
		Email:          "user@example.com",
		EmailVerified:  false,
		Provider:       model.ProviderGoogle,
	}), &mockSender{})

	_, err := svc.HandleOAuthCallback(context.Background(), "code")
	if !errors.Is(err, model.ErrAccountNotLinked) {
		t.Fatalf("expected ErrAccountNotLinked, got %v", err)
	}
	if store.accountCount() != 0 {
		t.Error("no account should be linked")
	}
}

func TestHandleOAuthCallback_OAuthError_ReturnsError(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(context.Context, string) (*OAuthUserInfo, error) {
			return nil, errors.New("oauth error")
		},
	}
	svc := newTestService(newMemStore(), provider, &mockSender{})

	if _, err := svc.HandleOAuthCallback(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected error from HandleOAuthCallback when OAuth fails")
	}
}

func TestRequestMagicLink_StoresHashedTokenAndSendsLink(t *testing.T) {
	store := newMemStore()
	sender := &mockSender{}
	svc := newTestService(store, &mockOAuthProvider{}, sender)

	err := svc.RequestMagicLink(context.Background(), "  User@Example.com ", "/dashboard", nil)
	if err != nil {
		t.Fatalf("RequestMagicLink() error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	req := sender.sent[0]
	if req.Identifier != "user@example.com" {
		t.Errorf("Identifier = %q, want normalized address", req.Identifier)
	}

	link, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("invalid link: %v", err)
	}
	if !strings.HasPrefix(req.URL, "https://drive.example.com/api/auth/callback/email?") {
		t.Errorf("link = %q", req.URL)
	}
	token := link.Query().Get("token")
	if token == "" || link.Query().Get("email") != "user@example.com" || link.Query().Get("callbackUrl") != "/dashboard" {
		t.Errorf("link query = %v", link.Query())
	}

	// 平文のトークンは保存しない
	if vt, _ := store.UseVerificationToken(context.Background(), "user@example.com", token); vt != nil {
		t.Error("raw token should not be stored")
	}
	vt, _ := store.UseVerificationToken(context.Background(), "user@example.com", svc.hashToken(token))
	if vt == nil {
		t.Fatal("hashed token should be stored")
	}
	if want := testNow.Add(15 * time.Minute); !vt.Expires.Equal(want) {
		t.Errorf("Expires = %v, want %v", vt.Expires, want)
	}
}

func TestRequestMagicLink_InvalidEmail_ReturnsError(t *testing.T) {
	sender := &mockSender{}
	svc := newTestService(newMemStore(), &mockOAuthProvider{}, sender)

	err := svc.RequestMagicLink(context.Background(), "not-an-email", "/", nil)
	if !errors.Is(err, model.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("no email should be sent")
	}
}

func TestRequestMagicLink_DeliveryFailure_TokenRemainsValid(t *testing.T) {
	store := newMemStore()
	sender := &mockSender{
		sendFn: func(_ context.Context, req mail.MagicLinkRequest) error {
			return &model.EmailDeliveryError{Recipients: []string{req.Identifier}}
		},
	}
	svc := newTestService(store, &mockOAuthProvider{}, sender)

	err := svc.RequestMagicLink(context.Background(), "user@example.com", "/", nil)
	if !errors.Is(err, model.ErrEmailDeliveryFailed) {
		t.Fatalf("expected ErrEmailDeliveryFailed, got %v", err)
	}

	link, _ := url.Parse(sender.sent[0].URL)
	if _, err := svc.VerifyMagicLink(context.Background(), "user@example.com", link.Query().Get("token")); err != nil {
		t.Errorf("token should still be usable after delivery failure: %v", err)
	}
}

func requestLink(t *testing.T, svc *Service, sender *mockSender, email string) string {
	t.Helper()
	if err := svc.RequestMagicLink(context.Background(), email, "/", nil); err != nil {
		t.Fatalf("RequestMagicLink() error: %v", err)
	}
	link, _ := url.Parse(sender.sent[len(sender.sent)-1].URL)
	return link.Query().Get("token")
}

func TestVerifyMagicLink_NewUser_CreatesVerifiedUserAndSession(t *testing.T) {
	store := newMemStore()
	sender := &mockSender{}
	svc := newTestService(store, &mockOAuthProvider{}, sender)
	token := requestLink(t, svc, sender, "user@example.com")

	session, err := svc.VerifyMagicLink(context.Background(), "user@example.com", token)
	if err != nil {
		t.Fatalf("VerifyMagicLink() error: %v", err)
	}

	user, _ := store.GetUserByID(context.Background(), session.UserID)
	if user == nil || user.EmailVerified == nil || !user.EmailVerified.Equal(testNow) {
		t.Errorf("user should be created with a verified email, got %+v", user)
	}
	linked, _ := store.GetUserByAccount(context.Background(), model.ProviderEmail, "user@example.com")
	if linked == nil || linked.ID != user.ID {
		t.Error("email account should be linked")
	}
}

func TestVerifyMagicLink_ExistingUnverifiedUser_MarksVerified(t *testing.T) {
	store := newMemStore()
	existing, _ := store.CreateUser(context.Background(), model.UserProfile{Email: "user@example.com"})
	sender := &mockSender{}
	svc := newTestService(store, &mockOAuthProvider{}, sender)
	token := requestLink(t, svc, sender, "user@example.com")

	session, err := svc.VerifyMagicLink(context.Background(), "user@example.com", token)
	if err != nil {
		t.Fatalf("VerifyMagicLink() error: %v", err)
	}
	if session.UserID != existing.ID {
		t.Errorf("UserID = %q, want %q", session.UserID, existing.ID)
	}
	user, _ := store.GetUserByID(context.Background(), existing.ID)
	if user.EmailVerified == nil {
		t.Error("email should be marked verified")
	}
}

func TestVerifyMagicLink_SecondUse_Fails(t *testing.T) {
	store := newMemStore()
	sender := &mockSender{}
	svc := newTestService(store, &mockOAuthProvider{}, sender)
	token := requestLink(t, svc, sender, "user@example.com")

	if _, err := svc.VerifyMagicLink(context.Background(), "user@example.com", token); err != nil {
		t.Fatalf("first use error: %v", err)
	}
	_, err := svc.VerifyMagicLink(context.Background(), "user@example.com", token)
	if !errors.Is(err, model.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed on reuse, got %v", err)
	}
}

func TestVerifyMagicLink_Expired_Fails(t *testing.T) {
	store := newMemStore()
	sender := &mockSender{}
	svc := newTestService(store, &mockOAuthProvider{}, sender)
	token := requestLink(t, svc, sender, "user@example.com")

	svc.nowFunc = func() time.Time { return testNow.Add(16 * time.Minute) }

	_, err := svc.VerifyMagicLink(context.Background(), "user@example.com", token)
	if !errors.Is(err, model.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed for expired token, got %v", err)
	}
	if store.userCount() != 0 {
		t.Error("no user should be created for an expired token")
	}
}

func TestVerifyMagicLink_WrongEmail_Fails(t *testing.T) {
	store := newMemStore()
	sender := &mockSender{}
	svc := newTestService(store, &mockOAuthProvider{}, sender)
	token := requestLink(t, svc, sender, "user@example.com")

	_, err := svc.VerifyMagicLink(context.Background(), "other@example.com", token)
	if !errors.Is(err, model.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestSignIn_MixedCaseEmail_SameUserAcrossPaths(t *testing.T) {
	store := newMemStore()
	sender := &mockSender{}
	payload := testPayload
	payload.Email = "Alice@Example.com"
	credentials := NewCredentialVerifier(verifierReturning(payload), store)
	credentials.nowFunc = func() time.Time { return testNow }
	svc := NewService(oauthReturning(OAuthUserInfo{
		ProviderUserID: "google-sub-other",
		Email:          " ALICE@example.com",
		EmailVerified:  true,
		Provider:       model.ProviderGoogle,
	}), credentials, store, sender, ServiceConfig{
		BaseURL: "https://drive.example.com",
		Secret:  "test-secret",
	}, nil)
	svc.nowFunc = func() time.Time { return testNow }
	ctx := context.Background()

	// ワンタップ（大文字混じり）→ マジックリンク（小文字）→ OAuth（別表記）
	oneTap, err := svc.SignInWithCredential(ctx, "credential")
	if err != nil {
		t.Fatalf("SignInWithCredential() error: %v", err)
	}
	token := requestLink(t, svc, sender, "alice@example.com")
	magic, err := svc.VerifyMagicLink(ctx, "alice@example.com", token)
	if err != nil {
		t.Fatalf("VerifyMagicLink() error: %v", err)
	}
	oauth, err := svc.HandleOAuthCallback(ctx, "code")
	if err != nil {
		t.Fatalf("HandleOAuthCallback() error: %v", err)
	}

	if oneTap.UserID != magic.UserID || magic.UserID != oauth.UserID {
		t.Errorf("user IDs = %s, %s, %s; want one user", oneTap.UserID, magic.UserID, oauth.UserID)
	}
	if store.userCount() != 1 {
		t.Errorf("users = %d, want 1", store.userCount())
	}
	user, _ := store.GetUserByID(ctx, oneTap.UserID)
	if user == nil || user.Email != "alice@example.com" {
		t.Errorf("stored email = %+v, want alice@example.com", user)
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &mockOAuthProvider{}, &mockSender{})
	session, err := svc.SignInWithCredential(context.Background(), "credential")
	if err != nil {
		t.Fatalf("sign-in error: %v", err)
	}

	if err := svc.Logout(context.Background(), session.SessionToken); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if su, _ := store.GetSessionAndUser(context.Background(), session.SessionToken); su != nil {
		t.Error("session should be deleted")
	}
}

func TestLogout_EmptySessionToken_ReturnsError(t *testing.T) {
	svc := newTestService(newMemStore(), &mockOAuthProvider{}, &mockSender{})

	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session token")
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "User@Example.COM", want: "user@example.com"},
		{raw: "  user@example.com  ", want: "user@example.com"},
		{raw: "user@example.com,evil@example.org", want: "user@example.com"},
		{raw: "user", wantErr: true},
		{raw: "@example.com", wantErr: true},
		{raw: "user@localhost", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizeEmail(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeEmail(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIsSignInRejected(t *testing.T) {
	if !IsSignInRejected(model.ErrMissingEmail) {
		t.Error("ErrMissingEmail should be a rejection")
	}
	if IsSignInRejected(errors.New("db down")) {
		t.Error("store errors should not be treated as rejections")
	}
}
