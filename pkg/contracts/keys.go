package contracts

import "time"

// KeyType distinguishes how a signing key entered the trust set.
type KeyType string

// Key type constants.
const (
	KeyTypeTeam KeyType = "TEAM" // provisioned into the team keyring
	KeyTypeUser KeyType = "USER" // explicitly approved by the local user
)

// KeyState is the lifecycle state of a signing key as evaluated at a point in
// time. Revocation is terminal and overrides every other state.
type KeyState string

// Key lifecycle states.
const (
	KeyStateUnknown      KeyState = "UNKNOWN"
	KeyStateTeam         KeyState = "TEAM"
	KeyStateUserApproved KeyState = "USER_APPROVED"
	KeyStateExpired      KeyState = "EXPIRED"
	KeyStateRevoked      KeyState = "REVOKED"
)

// KeyMetadata is the lifecycle record for one public key. Records are never
// deleted: revocation is recorded, not erased, so the audit trail survives.
type KeyMetadata struct {
	KeyID            string            `json:"keyId"` // hex-encoded public key
	Type             KeyType           `json:"type"`
	CreatedAt        time.Time         `json:"createdAt"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	Revoked          bool              `json:"revoked"`
	RevokedAt        *time.Time        `json:"revokedAt,omitempty"`
	RevocationReason string            `json:"revocationReason,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the key's validity window has passed at the given
// instant. A zero ExpiresAt means no expiry was recorded.
func (k *KeyMetadata) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}

// ExpiringWithin reports whether the key is still valid but will expire
// within the window.
func (k *KeyMetadata) ExpiringWithin(now time.Time, window time.Duration) bool {
	if k.ExpiresAt.IsZero() || k.Expired(now) {
		return false
	}
	return now.Add(window).After(k.ExpiresAt)
}

// PolicyMode selects how strictly signer keys are evaluated.
type PolicyMode string

// Policy modes.
const (
	// PolicyStrict trusts only team keys. User-approved keys are rejected.
	PolicyStrict PolicyMode = "STRICT"
	// PolicyWarn trusts team and user-approved keys; unknown keys are
	// rejected with a hint that approval would unblock them.
	PolicyWarn PolicyMode = "WARN"
	// PolicyBestEffort accepts any non-revoked, non-expired key with a
	// surfaced warning. Development and offline use only.
	PolicyBestEffort PolicyMode = "BEST_EFFORT"
)

// Valid reports whether the mode is a known policy mode.
func (m PolicyMode) Valid() bool {
	switch m {
	case PolicyStrict, PolicyWarn, PolicyBestEffort:
		return true
	}
	return false
}

// TrustConfig is the process-scoped trust policy state. It is an in-memory
// view; the durable key store is the source of truth on restart and for every
// security-relevant check.
type TrustConfig struct {
	Mode               PolicyMode          `json:"mode"`
	TeamKeys           map[string]struct{} `json:"-"`
	UserApprovedKeys   map[string]struct{} `json:"-"`
	RevokedKeys        map[string]struct{} `json:"-"`
	ExpiryWarningLead  time.Duration       `json:"expiryWarningLead"`
}

// NewTrustConfig returns a TrustConfig with empty key sets.
func NewTrustConfig(mode PolicyMode) *TrustConfig {
	return &TrustConfig{
		Mode:              mode,
		TeamKeys:          make(map[string]struct{}),
		UserApprovedKeys:  make(map[string]struct{}),
		RevokedKeys:       make(map[string]struct{}),
		ExpiryWarningLead: 30 * 24 * time.Hour,
	}
}
