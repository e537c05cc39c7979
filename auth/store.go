package auth

import (
	"clinic-chat/domain"
	"clinic-chat/errors"
	"context"
	"sync"
	"time"
)

// TokenStore holds the bearer token of the logged-in user and the session decoded from it.
// It is the authentication collaborator of the chat core.
type TokenStore struct {
	mu        sync.RWMutex
	token     string
	session   domain.Session
	expiresAt time.Time
	nextID    int
	handlers  map[int]func(domain.Session, bool)
	now       func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{handlers: make(map[int]func(domain.Session, bool)), now: time.Now}
}

// Login decodes token and makes it the current credential.
// Handlers are notified with the new session.
func (s *TokenStore) Login(token string) (domain.Session, error) {
	session, expiresAt, err := SessionFromToken(token)
	if err != nil {
		return domain.Session{}, err
	}
	s.mu.Lock()
	s.token = token
	s.session = session
	s.expiresAt = expiresAt
	handlers := s.snapshot()
	s.mu.Unlock()

	for _, h := range handlers {
		h(session, true)
	}
	return session, nil
}

// Logout forgets the credential and notifies handlers with ok=false.
func (s *TokenStore) Logout() {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.session = domain.Session{}
	s.expiresAt = time.Time{}
	handlers := s.snapshot()
	s.mu.Unlock()

	for _, h := range handlers {
		h(domain.Session{}, false)
	}
}

func (s *TokenStore) Session() (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.token != ""
}

func (s *TokenStore) Credential(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", errors.ErrUnauthenticated
	}
	if !s.expiresAt.IsZero() && s.now().After(s.expiresAt) {
		return "", errors.ErrInvalidToken
	}
	return s.token, nil
}

func (s *TokenStore) OnChange(handler func(domain.Session, bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *TokenStore) snapshot() []func(domain.Session, bool) {
	res := make([]func(domain.Session, bool), 0, len(s.handlers))
	for _, h := range s.handlers {
		res = append(res, h)
	}
	return res
}
