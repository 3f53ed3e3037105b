package auth

import (
	"context"
	"log/slog"
	"sync"
)

// Session tracks whether a user is logged in and wraps the credential
// source for that login. Listeners run synchronously in registration
// order on every login and logout.
type Session struct {
	logger *slog.Logger

	mu       sync.RWMutex
	provider Provider
	userID   string

	listenersMu sync.Mutex
	onLogin     []func(ctx context.Context, userID string)
	onLogout    []func(ctx context.Context, userID string)
}

// NewSession creates a logged out session.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger.With("component", "session")}
}

// Login activates provider for userID and notifies login listeners.
// Logging in while already logged in logs out the previous user first.
func (s *Session) Login(ctx context.Context, userID string, provider Provider) {
	if s.LoggedIn() {
		s.Logout(ctx)
	}

	s.mu.Lock()
	s.provider = provider
	s.userID = userID
	s.mu.Unlock()

	s.logger.Info("logged in", "user_id", userID)

	s.listenersMu.Lock()
	fns := append([]func(context.Context, string){}, s.onLogin...)
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(ctx, userID)
	}
}

// Logout clears the credential and notifies logout listeners.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	userID := s.userID
	wasIn := s.provider != nil
	s.provider = nil
	s.userID = ""
	s.mu.Unlock()

	if !wasIn {
		return
	}

	s.logger.Info("logged out", "user_id", userID)

	s.listenersMu.Lock()
	fns := append([]func(context.Context, string){}, s.onLogout...)
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(ctx, userID)
	}
}

// OnLogin registers fn to run after every login.
func (s *Session) OnLogin(fn func(ctx context.Context, userID string)) {
	s.listenersMu.Lock()
	s.onLogin = append(s.onLogin, fn)
	s.listenersMu.Unlock()
}

// OnLogout registers fn to run after every logout.
func (s *Session) OnLogout(fn func(ctx context.Context, userID string)) {
	s.listenersMu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.listenersMu.Unlock()
}

// LoggedIn reports whether a user is logged in.
func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider != nil
}

// UserID returns the logged in user, or "".
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// IsAuthenticated implements Provider.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	return p != nil && p.IsAuthenticated()
}

// Token implements Provider by delegating to the active login.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	if p == nil {
		return "", ErrNotAuthenticated
	}
	return p.Token(ctx)
}
