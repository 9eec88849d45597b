package auth

import "sync"

// Session stores the credentials and login state shared by all clients.
// Implementations must be safe for concurrent use.
type Session interface {
	AccessToken() string
	SetAccessToken(token string)

	RefreshToken() string
	SetRefreshToken(token string)

	// SetLoginExpired flags that the session can no longer be refreshed and
	// the user must authenticate again.
	SetLoginExpired(expired bool)
}

// MemorySession is an in-memory Session.
type MemorySession struct {
	mu           sync.RWMutex
	access       string
	refresh      string
	loginExpired bool
}

func NewMemorySession(accessToken, refreshToken string) *MemorySession {
	return &MemorySession{access: accessToken, refresh: refreshToken}
}

func (s *MemorySession) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *MemorySession) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = token
}

func (s *MemorySession) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *MemorySession) SetRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = token
}

func (s *MemorySession) SetLoginExpired(expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginExpired = expired
}

// LoginExpired reports whether the session was flagged as expired.
func (s *MemorySession) LoginExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loginExpired
}
