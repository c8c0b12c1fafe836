package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// UpkeepInterval is how often the background upkeep loop proactively checks
// the credential, so interactive operations rarely observe a mid-flight
// refresh.
const UpkeepInterval = time.Minute

// OAuthClient performs the provider-side token operations. Implementations
// carry their own bounded timeouts; a hung call must fail rather than wedge
// the upkeep loop.
type OAuthClient interface {
	// ExchangeCode trades an authorization code for an access+refresh pair.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Credential, error)

	// Refresh obtains a new access token using a refresh token. The returned
	// credential may omit the refresh token when the provider does not
	// rotate it.
	Refresh(ctx context.Context, refreshToken string) (*Credential, error)

	// Revoke invalidates a token at the provider.
	Revoke(ctx context.Context, token string) error
}

// ConnectionState is the operator-facing summary of the credential.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connected    ConnectionState = "connected"
	ExpiringSoon ConnectionState = "expiring_soon"
)

// TokenManager owns the OAuth state machine: code exchange, silent refresh,
// expiry-window detection, revocation, and the legacy-credential fallback.
// It is the only writer of the CredentialStore.
type TokenManager struct {
	store  CredentialStore
	oauth  OAuthClient
	clock  Clock
	logger Logger

	// mu serializes EnsureValid so a check-then-refresh race never issues
	// two refresh calls against the same refresh token; providers may
	// invalidate the old token on rotation.
	mu sync.Mutex
}

func NewTokenManager(store CredentialStore, oauth OAuthClient, clock Clock, logger Logger) *TokenManager {
	return &TokenManager{store: store, oauth: oauth, clock: clock, logger: logger}
}

// ExchangeCode runs the persistent flow: trade an authorization code for an
// access+refresh pair and persist it. Callers must not retry automatically on
// failure; a failed exchange needs fresh user interaction.
func (m *TokenManager) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credential, error) {
	cred, err := m.oauth.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	cred.AcquiredVia = GrantAuthCode

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Put(cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}
	m.logger.Info("connected to storage provider", "persistent", cred.Persistent())
	return cred, nil
}

// ExchangeImplicit runs the ephemeral flow: store an access token the caller
// already obtained, with no refresh token. No network round trip happens here.
func (m *TokenManager) ExchangeImplicit(accessToken string, expiresIn time.Duration) (*Credential, error) {
	cred := &Credential{
		AccessToken:  accessToken,
		AccessExpiry: m.clock.Now().Add(expiresIn),
		AcquiredVia:  GrantImplicit,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Put(cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}
	m.logger.Info("connected to storage provider", "persistent", false)
	return cred, nil
}

// EnsureValid is the single entry point used by all backup and restore
// operations. It returns an access token with at least the safety buffer
// remaining, silently refreshing when a refresh token exists, falling back to
// a legacy-format credential, and clearing all state and returning
// ErrAuthRequired when nothing usable is left.
//
// Concurrent callers are serialized: while a refresh is in flight, later
// callers block and then observe the refreshed credential instead of issuing
// a second refresh.
func (m *TokenManager) EnsureValid(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Get()
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}

	now := m.clock.Now()
	if cred != nil && cred.UsableAt(now) {
		return cred.AccessToken, nil
	}

	if cred != nil && cred.Persistent() {
		return m.refreshLocked(ctx, cred)
	}

	// Ephemeral and expired (or nothing stored): the pre-1.0 key format is
	// the last resort, with the same validity rule.
	legacy, err := m.store.GetLegacy()
	if err != nil {
		return "", fmt.Errorf("reading legacy credential: %w", err)
	}
	if legacy != nil && legacy.UsableAt(now) {
		return legacy.AccessToken, nil
	}

	m.clearAll()
	return "", ErrAuthRequired
}

// refreshLocked performs a silent refresh. Caller holds m.mu.
func (m *TokenManager) refreshLocked(ctx context.Context, cred *Credential) (string, error) {
	refreshed, err := m.oauth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		// Irrecoverable here: local invalidation takes priority over
		// propagating provider detail.
		m.logger.Warn("token refresh failed, clearing credential", "error", err)
		m.clearAll()
		return "", ErrAuthRequired
	}

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	refreshed.AcquiredVia = cred.AcquiredVia

	if err := m.store.Put(refreshed); err != nil {
		return "", fmt.Errorf("persisting refreshed credential: %w", err)
	}
	m.logger.Debug("access token refreshed", "expiry", refreshed.AccessExpiry)
	return refreshed.AccessToken, nil
}

// Invalidate marks the current access token as expired so the next
// EnsureValid takes the refresh path. Used after the provider rejects a
// locally-valid-looking token with 401.
func (m *TokenManager) Invalidate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Get()
	if err != nil {
		return fmt.Errorf("reading credential: %w", err)
	}
	if cred == nil {
		return nil
	}
	cred.AccessExpiry = m.clock.Now()
	if err := m.store.Put(cred); err != nil {
		return fmt.Errorf("persisting invalidated credential: %w", err)
	}
	return nil
}

// IsExpiringSoon reports whether the operator should be warned about an
// upcoming expiry. Only ephemeral credentials surface this; persistent ones
// self-heal via refresh.
func (m *TokenManager) IsExpiringSoon() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Get()
	if err != nil {
		return false, fmt.Errorf("reading credential: %w", err)
	}
	if cred == nil {
		cred, err = m.store.GetLegacy()
		if err != nil {
			return false, fmt.Errorf("reading legacy credential: %w", err)
		}
	}
	if cred == nil || cred.Persistent() {
		return false, nil
	}
	return !cred.UsableAt(m.clock.Now()), nil
}

// State returns the operator-facing connection state.
func (m *TokenManager) State() (ConnectionState, *Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Get()
	if err != nil {
		return Disconnected, nil, fmt.Errorf("reading credential: %w", err)
	}
	if cred == nil {
		cred, err = m.store.GetLegacy()
		if err != nil {
			return Disconnected, nil, fmt.Errorf("reading legacy credential: %w", err)
		}
	}
	if cred == nil {
		return Disconnected, nil, nil
	}

	now := m.clock.Now()
	if cred.UsableAt(now) || cred.Persistent() {
		return Connected, cred, nil
	}
	if cred.AccessExpiry.After(now) {
		return ExpiringSoon, cred, nil
	}
	return Disconnected, cred, nil
}

// Revoke disconnects from the storage provider. When a refresh token exists,
// both tokens are revoked at the provider first; revocation failure still
// clears local state, since a dangling remote grant is acceptable but a
// stuck-signed-in operator is not.
func (m *TokenManager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Get()
	if err != nil {
		return fmt.Errorf("reading credential: %w", err)
	}

	if cred != nil && cred.Persistent() {
		if err := m.oauth.Revoke(ctx, cred.RefreshToken); err != nil {
			m.logger.Warn("refresh token revocation failed", "error", err)
		}
		if err := m.oauth.Revoke(ctx, cred.AccessToken); err != nil {
			m.logger.Warn("access token revocation failed", "error", err)
		}
	}

	m.clearAll()
	m.logger.Info("disconnected from storage provider")
	return nil
}

// Upkeep proactively calls EnsureValid on a fixed interval until ctx is
// cancelled. ErrAuthRequired is expected while disconnected and not logged as
// a failure.
func (m *TokenManager) Upkeep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = UpkeepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.EnsureValid(ctx); err != nil && !errors.Is(err, ErrAuthRequired) {
				m.logger.Warn("credential upkeep check failed", "error", err)
			}
		}
	}
}

// clearAll drops both current and legacy credential state. Failures are
// logged: the store of record is persistence, and a failed clear will be
// retried on the next state transition.
func (m *TokenManager) clearAll() {
	if err := m.store.Clear(); err != nil {
		m.logger.Error("clearing credential failed", "error", err)
	}
	if err := m.store.ClearLegacy(); err != nil {
		m.logger.Error("clearing legacy credential failed", "error", err)
	}
}
