// Package auth provides the credential source consumed by the realtime and
// REST layers. Tokens may rotate at any time, so callers fetch a fresh one
// per connection attempt instead of caching it themselves.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrNoToken is returned when no credential is currently available. The
// realtime layer treats it as "cannot connect" and aborts with a warning.
var ErrNoToken = errors.New("auth: no token available")

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. An empty token yields ErrNoToken.
type StaticTokenSource struct {
	Value string
}

// Token implements TokenSource.
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	if s.Value == "" {
		return "", ErrNoToken
	}
	return s.Value, nil
}

// RefreshFunc fetches a new bearer token from the auth backend.
type RefreshFunc func(ctx context.Context) (string, error)

// expiryLeeway forces a refresh slightly before the token actually expires
// so that a connect handshake never races the expiry.
const expiryLeeway = 30 * time.Second

// CachingTokenSource caches a token until shortly before its JWT expiry and
// then calls the refresh func for a new one.
type CachingTokenSource struct {
	refresh RefreshFunc

	mu      sync.Mutex
	token   string
	expires time.Time

	// now is a seam for tests.
	now func() time.Time
}

// NewCachingTokenSource creates a source backed by a refresh func.
func NewCachingTokenSource(refresh RefreshFunc) *CachingTokenSource {
	return &CachingTokenSource{refresh: refresh, now: time.Now}
}

// Token returns the cached token, refreshing it when absent or expired.
func (s *CachingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.expires.IsZero() || s.now().Before(s.expires)) {
		return s.token, nil
	}
	if s.refresh == nil {
		return "", ErrNoToken
	}

	token, err := s.refresh(ctx)
	if err != nil {
		return "", errors.Wrap(err, "refresh token")
	}
	if token == "" {
		return "", ErrNoToken
	}

	s.token = token
	s.expires = tokenExpiry(token)
	return token, nil
}

// Invalidate drops the cached token so the next Token call refreshes.
func (s *CachingTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}

// tokenExpiry extracts the exp claim without verifying the signature. The
// client only schedules refreshes from it; verification is the server's job.
// Returns the zero time when the token is opaque or carries no expiry.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.Add(-expiryLeeway)
}
