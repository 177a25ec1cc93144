// Package auth holds the backend bearer token for the dashboard session and
// validates keys presented to the local view API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var ErrNoSession = errors.New("no authenticated session")

// Session is the restored login. The token is treated as opaque except for
// an optional JWT exp claim, which is read without verifying the signature;
// the backend remains the authority.
type Session struct {
	log zerolog.Logger
	now func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	reason    string
	callbacks []func(reason string)
}

func NewSession(token string, log zerolog.Logger) *Session {
	s := &Session{
		log: log.With().Str("component", "auth").Logger(),
		now: time.Now,
	}
	s.token, s.expiresAt = strings.TrimSpace(token), expiry(token)
	return s
}

// Restore picks the token from the environment value or, failing that, the
// token file. A missing or expired token yields ErrNoSession.
func Restore(token, file string, log zerolog.Logger) (*Session, error) {
	if strings.TrimSpace(token) == "" && file != "" {
		data, err := os.ReadFile(file)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = string(data)
	}
	s := NewSession(token, log)
	if _, err := s.Token(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock is for tests.
func (s *Session) WithClock(now func() time.Time) *Session {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

func (s *Session) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoSession
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return "", fmt.Errorf("%w: token expired at %s", ErrNoSession, s.expiresAt.Format(time.RFC3339))
	}
	return s.token, nil
}

// Header is the handshake header for the stream connection.
func (s *Session) Header() (http.Header, error) {
	token, err := s.Token()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (s *Session) LoggedOut() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == "" && s.reason != "", s.reason
}

// OnLogout registers fn to run when the session is forcibly ended.
func (s *Session) OnLogout(fn func(reason string)) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// ForceLogout clears the token. Callbacks run once, on the first call.
func (s *Session) ForceLogout(reason string) {
	if reason == "" {
		reason = "logged out"
	}
	s.mu.Lock()
	if s.token == "" && s.reason != "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.expiresAt = time.Time{}
	s.reason = reason
	callbacks := append([]func(string){}, s.callbacks...)
	s.mu.Unlock()

	s.log.Warn().Str("reason", reason).Msg("session logged out")
	for _, fn := range callbacks {
		fn(reason)
	}
}

func expiry(token string) time.Time {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return time.Time{}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
