// Package auth holds the session-scoped OAuth token cache and the
// persisted redirect path.
package auth

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ExpirySkew is how long before its expiry a token is treated as expired.
const ExpirySkew = 300 * time.Second

// ErrEmptyToken is returned by Set for a token without an access token.
var ErrEmptyToken = eris.New("auth: empty access token")

// Token is an issued OAuth access token. ExpiresAt is in Unix seconds.
type Token struct {
	AccessToken string `json:"access_token" doc:"Bearer access token"`
	ExpiresAt   int64  `json:"expires_at" doc:"Expiry in Unix seconds"`
}

// TokenStore caches at most one token. Reads discard a token that is
// within ExpirySkew of expiring.
type TokenStore struct {
	mu    sync.Mutex
	token *Token
	now   func() time.Time
}

// NewTokenStore creates an empty store using the wall clock.
func NewTokenStore() *TokenStore {
	return &TokenStore{now: time.Now}
}

// Token returns the cached access token, or "" when there is none or it
// has expired.
func (s *TokenStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		return ""
	}
	if s.token.ExpiresAt < s.now().Add(ExpirySkew).Unix() {
		s.token = nil
		return ""
	}
	return s.token.AccessToken
}

// Set replaces the cached token.
func (s *TokenStore) Set(t Token) error {
	if t.AccessToken == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	s.token = &t
	s.mu.Unlock()
	return nil
}

// Clear drops the cached token.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}
