package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cuby-bridge/internal/cubyapi"
	"cuby-bridge/internal/store"
)

// ErrReauthRequired is returned when no valid credential is available.
// The cloud has no refresh grant, so recovery always needs fresh
// user-supplied credentials through the interactive surface.
var ErrReauthRequired = errors.New("reauthentication required")

// Authenticator is the API-client side of the login flow.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (cubyapi.Token, error)
}

// Manager owns the lifecycle of the single live credential: acquisition,
// validity checks, invalidation on rejection, and the persistence handoff.
// Consumers fetch the token through Token() on every call and never cache
// their own copy.
type Manager struct {
	api    Authenticator
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	cred *store.Credential
}

// NewManager creates a manager and loads any persisted credential.
func NewManager(api Authenticator, st store.Store, logger *slog.Logger) *Manager {
	m := &Manager{
		api:    api,
		store:  st,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
	cred, err := st.GetCredential()
	switch {
	case err == nil:
		m.cred = cred
		m.logger.Info("credential restored", "email", cred.Email, "expires", cred.ExpiresAt)
	case errors.Is(err, store.ErrNotFound):
		m.logger.Info("no stored credential, login required")
	default:
		m.logger.Error("load credential", "err", err)
	}
	return m
}

// Token returns the live token. If the credential is missing or past its
// expiry the manager transitions to unauthenticated and returns
// ErrReauthRequired.
func (m *Manager) Token() (string, error) {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()

	if cred == nil {
		return "", ErrReauthRequired
	}
	if cred.Expired(m.now()) {
		m.logger.Warn("credential expired", "expires", cred.ExpiresAt)
		m.Invalidate()
		return "", ErrReauthRequired
	}
	return cred.Token, nil
}

// Credential returns a copy of the live credential, or nil.
func (m *Manager) Credential() *store.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil
	}
	cred := *m.cred
	return &cred
}

// Authenticated reports whether a non-expired credential is held.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred != nil && !m.cred.Expired(m.now())
}

// Login exchanges fresh user credentials for a new token and atomically
// replaces the live credential. The store write happens before the swap
// so a crash never leaves a live token that would not survive a restart.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	tok, err := m.api.Authenticate(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	issued := m.now()
	cred := &store.Credential{
		Email:     email,
		Token:     tok.Token,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if err := m.store.SaveCredential(cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	m.logger.Info("authenticated", "email", email, "expires", cred.ExpiresAt)
	return nil
}

// Invalidate drops the live credential. Called when any API call reports
// the token rejected. In-flight requests still holding the old token are
// allowed to fail; their AuthError escalates the same way.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	had := m.cred != nil
	m.cred = nil
	m.mu.Unlock()

	if !had {
		return
	}
	if err := m.store.DeleteCredential(); err != nil {
		m.logger.Error("delete credential", "err", err)
	}
	m.logger.Warn("credential invalidated")
}
