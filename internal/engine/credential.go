package engine

import "time"

// SafetyBuffer is the margin before actual expiry at which an access token is
// treated as no longer usable. Refreshing ahead of the real deadline keeps
// in-flight uploads from racing token expiry on the provider side.
const SafetyBuffer = 5 * time.Minute

// GrantKind records which OAuth flow produced a credential.
type GrantKind string

const (
	// GrantLegacy marks a credential read from the pre-1.0 storage keys.
	GrantLegacy GrantKind = "legacy"
	// GrantImplicit marks a direct access-token grant with no refresh token.
	GrantImplicit GrantKind = "implicit"
	// GrantAuthCode marks an authorization-code exchange with a refresh token.
	GrantAuthCode GrantKind = "auth_code"
)

// Credential is the stored OAuth state for the storage provider.
// A credential with a refresh token is persistent: it can be silently renewed.
// Without one it is ephemeral and dies at AccessExpiry.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	AccessExpiry time.Time `json:"access_expiry"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AcquiredVia  GrantKind `json:"acquired_via"`
}

// Persistent reports whether the credential can be silently renewed.
func (c *Credential) Persistent() bool {
	return c.RefreshToken != ""
}

// UsableAt reports whether the access token has more than the safety buffer
// remaining at the given instant.
func (c *Credential) UsableAt(now time.Time) bool {
	return c.AccessToken != "" && c.AccessExpiry.Sub(now) > SafetyBuffer
}

// CredentialStore persists the single credential for this install.
// Mutated only by the TokenManager; cleared on disconnect, revocation and
// irrecoverable refresh failure.
type CredentialStore interface {
	// Get returns the stored credential, or nil when none is stored.
	Get() (*Credential, error)

	// Put replaces the stored credential.
	Put(c *Credential) error

	// Clear removes the stored credential. Clearing an empty store is a no-op.
	Clear() error

	// GetLegacy returns a credential stored under the pre-1.0 key format,
	// or nil when none is present. Legacy credentials never carry a refresh
	// token.
	GetLegacy() (*Credential, error)

	// ClearLegacy removes any pre-1.0 credential.
	ClearLegacy() error
}

// SettingsStore holds the scheduler's persisted flags.
type SettingsStore interface {
	// AutoBackupEnabled reports whether automatic backups are switched on.
	AutoBackupEnabled() (bool, error)
	SetAutoBackupEnabled(enabled bool) error

	// LastAutoBackupDay returns the calendar day ("2006-01-02") of the last
	// successful automatic backup, or "" when none has been recorded.
	LastAutoBackupDay() (string, error)
	SetLastAutoBackupDay(day string) error
}
