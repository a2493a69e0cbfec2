package auth

// Session is the authorization state of one browser session.
type Session struct {
	tokens *TokenStore
}

// NewSession creates an unauthorized session.
func NewSession() *Session {
	return &Session{tokens: NewTokenStore()}
}

// Tokens returns the token source handed to remote collaborators.
func (s *Session) Tokens() *TokenStore {
	return s.tokens
}

// IsAuthorized reports whether the session holds an unexpired token.
func (s *Session) IsAuthorized() bool {
	return s.tokens.Token() != ""
}

// Authorize stores an already-issued token.
func (s *Session) Authorize(t Token) error {
	return s.tokens.Set(t)
}

// Deauthorize forgets the session's token.
func (s *Session) Deauthorize() {
	s.tokens.Clear()
}
