package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eloraa/drive/internal/model"
	"github.com/eloraa/drive/internal/repository"
)

// memStore はテスト用のインメモリIdentityStore。
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	accounts map[string]string // provider:providerAccountID -> userID
	sessions map[string]*model.Session
	tokens   map[string]*model.VerificationToken // identifier:token

	nextID int

	// エラー注入用
	getUserByEmailErr error
	createSessionErr  error
	createUserErr     error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*model.User),
		accounts: make(map[string]string),
		sessions: make(map[string]*model.Session),
		tokens:   make(map[string]*model.VerificationToken),
	}
}

func accountKey(provider model.Provider, id string) string {
	return string(provider) + ":" + id
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getUserByEmailErr != nil {
		return nil, s.getUserByEmailErr
	}
	for _, u := range s.users {
		if email != "" && u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateUser(_ context.Context, profile model.UserProfile) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createUserErr != nil {
		return nil, s.createUserErr
	}
	for _, u := range s.users {
		if profile.Email != "" && u.Email == profile.Email {
			return nil, model.ErrAlreadyExists
		}
	}
	s.nextID++
	u := &model.User{
		ID:            fmt.Sprintf("user-%d", s.nextID),
		Name:          profile.Name,
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		Image:         profile.Image,
	}
	s.users[u.ID] = u
	copied := *u
	return &copied, nil
}

func (s *memStore) MarkEmailVerified(_ context.Context, userID string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.EmailVerified = &verifiedAt
	}
	return nil
}

func (s *memStore) GetUserByAccount(_ context.Context, provider model.Provider, providerAccountID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, nil
	}
	if u, ok := s.users[userID]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (s *memStore) LinkAccount(_ context.Context, userID string, provider model.Provider, providerAccountID string, _ model.AccountType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountKey(provider, providerAccountID)
	if _, ok := s.accounts[key]; ok {
		return model.ErrAlreadyExists
	}
	s.accounts[key] = userID
	return nil
}

func (s *memStore) CreateSession(_ context.Context, userID string, expires time.Time, sessionToken string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createSessionErr != nil {
		return nil, s.createSessionErr
	}
	session := &model.Session{SessionToken: sessionToken, UserID: userID, Expires: expires}
	s.sessions[sessionToken] = session
	copied := *session
	return &copied, nil
}

func (s *memStore) GetSessionAndUser(_ context.Context, sessionToken string) (*model.SessionAndUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionToken]
	if !ok {
		return nil, nil
	}
	user, ok := s.users[session.UserID]
	if !ok {
		return nil, nil
	}
	return &model.SessionAndUser{Session: session, User: user}, nil
}

func (s *memStore) DeleteSession(_ context.Context, sessionToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionToken)
	return nil
}

func (s *memStore) CreateVerificationToken(_ context.Context, token *model.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[token.Identifier+":"+token.Token] = &copied
	return nil
}

func (s *memStore) UseVerificationToken(_ context.Context, identifier, token string) (*model.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identifier + ":" + token
	vt, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, key)
	return vt, nil
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) accountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// compile-time interface check
var _ repository.IdentityStore = (*memStore)(nil)
