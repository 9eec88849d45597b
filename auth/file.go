package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

type fileCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	LoginExpired bool   `json:"login_expired,omitempty"`
}

// FileSession persists credentials as JSON on disk so CLI invocations can
// share a login. Writes go through a temp file rename; the file is created
// with 0600 perms.
type FileSession struct {
	mu    sync.Mutex
	path  string
	creds fileCredentials
	read  bool
}

func NewFileSession(path string) *FileSession {
	return &FileSession{path: path}
}

func (s *FileSession) load() {
	if s.read {
		return
	}
	s.read = true
	b, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, &s.creds)
}

func (s *FileSession) save() {
	b, err := json.MarshalIndent(s.creds, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}

func (s *FileSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	return s.creds.AccessToken
}

func (s *FileSession) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	s.creds.AccessToken = token
	s.save()
}

func (s *FileSession) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	return s.creds.RefreshToken
}

func (s *FileSession) SetRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	s.creds.RefreshToken = token
	s.save()
}

func (s *FileSession) SetLoginExpired(expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	s.creds.LoginExpired = expired
	s.save()
}
