// Package session holds the authenticated identity and bearer credential.
//
// A Store is created once per process and passed to every component that
// talks to the API. Only Login and Logout write to it; everything else reads.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"booking-inbox/client/pkg/jwt"
	"booking-inbox/client/pkg/logger"
)

var (
	ErrEmptyToken   = errors.New("session: empty token")
	ErrInvalidRole  = errors.New("session: role is not one of artist, organizer, provider, admin")
	ErrMissingID    = errors.New("session: identity has no id")
	ErrTokenExpired = errors.New("session: token has expired")
)

// Identity is the authenticated actor
type Identity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      jwt.Role  `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Redacted returns a copy without the bearer credential
func (i Identity) Redacted() Identity {
	i.Token = ""
	return i
}

// Expired reports whether the credential is past its expiry at now
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Profile carries identity fields supplied by the login response. Empty
// fields are filled from the token claims.
type Profile struct {
	ID   string
	Name string
	Role string
}

// Store is the session store
type Store struct {
	mu        sync.RWMutex
	identity  *Identity
	persister Persister
	log       *logger.Logger
	now       func() time.Time
	listeners []func(Identity, bool)
}

// NewStore creates a session store on top of a persister
func NewStore(persister Persister, log *logger.Logger) *Store {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Store{
		persister: persister,
		log:       log,
		now:       time.Now,
	}
}

// Identity returns the current identity, if any
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Token returns the bearer credential, or "" when logged out or expired
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil || s.identity.Expired(s.now()) {
		return ""
	}
	return s.identity.Token
}

// UserID returns the current identity id, or ""
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.ID
}

// OnChange registers a callback fired after Login (true) and Logout (false)
func (s *Store) OnChange(fn func(Identity, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Login installs a new identity from a bearer token and persists it
func (s *Store) Login(ctx context.Context, token string, profile Profile) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrEmptyToken
	}

	identity, err := identityFromToken(token, profile, s.now())
	if err != nil {
		return Identity{}, err
	}

	if err := s.persister.Save(ctx, identity); err != nil {
		// The session is still usable for this process.
		s.log.LogWarn(err, "Failed to persist session", "user_id", identity.ID)
	}

	s.mu.Lock()
	s.identity = &identity
	listeners := append([]func(Identity, bool){}, s.listeners...)
	s.mu.Unlock()

	s.log.Info("Logged in", "user_id", identity.ID, "role", string(identity.Role))
	for _, fn := range listeners {
		fn(identity, true)
	}
	return identity, nil
}

// Logout destroys the identity and its persisted copy
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	previous := s.identity
	s.identity = nil
	listeners := append([]func(Identity, bool){}, s.listeners...)
	s.mu.Unlock()

	if err := s.persister.Clear(ctx); err != nil {
		s.log.LogWarn(err, "Failed to clear persisted session")
	}

	if previous == nil {
		return
	}
	s.log.Info("Logged out", "user_id", previous.ID)
	for _, fn := range listeners {
		fn(*previous, false)
	}
}

// Restore loads a persisted identity. Expired or malformed sessions are discarded.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	identity, found, err := s.persister.Load(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if identity.Token == "" || identity.ID == "" || identity.Expired(s.now()) {
		s.log.Info("Discarding stale persisted session", "user_id", identity.ID)
		if err := s.persister.Clear(ctx); err != nil {
			s.log.LogWarn(err, "Failed to clear stale session")
		}
		return false, nil
	}

	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()
	s.log.Info("Session restored", "user_id", identity.ID)
	return true, nil
}

func identityFromToken(token string, profile Profile, now time.Time) (Identity, error) {
	identity := Identity{
		ID:    profile.ID,
		Name:  profile.Name,
		Role:  jwt.ParseRole(profile.Role),
		Token: token,
	}

	claims, err := jwt.DecodeValid(token, now)
	switch {
	case errors.Is(err, jwt.ErrExpiredToken):
		return Identity{}, ErrTokenExpired
	case err != nil:
		// Opaque tokens are fine as long as the profile names the identity.
		if identity.ID == "" {
			return Identity{}, ErrMissingID
		}
	default:
		if identity.ID == "" {
			identity.ID = claims.Identifier()
		}
		if identity.Name == "" {
			identity.Name = claims.Name
		}
		if identity.Role == jwt.RoleUnknown {
			identity.Role = jwt.ParseRole(claims.Role)
		}
		identity.ExpiresAt = claims.Expiry()
	}

	if identity.ID == "" {
		return Identity{}, ErrMissingID
	}
	if !identity.Role.Valid() {
		return Identity{}, ErrInvalidRole
	}
	return identity, nil
}
