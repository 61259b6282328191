// Package trust decides whether a signer's key is currently authorized. The
// policy itself is a pure function over (key lifecycle record, policy mode,
// clock); mutation (approve/revoke) is a separate, serialized path against
// the backing store, which keeps the decision logic testable without a
// database.
package trust

import (
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// DefaultUserKeyValidity bounds how long a user-approved key stays trusted
// without re-approval. Approved keys are never indefinitely trusted.
const DefaultUserKeyValidity = 365 * 24 * time.Hour

// Decision is the outcome of evaluating one signer key.
type Decision struct {
	Trusted bool
	State   contracts.KeyState
	// Warning is non-empty for trusted-with-caveat outcomes (best-effort
	// acceptance, imminent expiry). Never fatal.
	Warning string
	// Hint tells the caller what would unblock a rejected key, e.g. that
	// user approval would make it trusted under WARN.
	Hint string
	// RejectKind classifies a rejection for the error taxonomy; empty when
	// trusted.
	RejectKind contracts.ErrorKind
	// Reason is a human-readable explanation of the outcome.
	Reason string
}

// Err converts a rejection into a classified error, or nil when trusted.
func (d Decision) Err() error {
	if d.Trusted {
		return nil
	}
	return contracts.NewVerifyError(d.RejectKind, "%s", d.Reason)
}

// Evaluate is the pure trust decision function. meta is nil for a key absent
// from the store. Revocation and expiration short-circuit before policy-mode
// dispatch: a revoked or expired key is rejected under every mode.
func Evaluate(meta *contracts.KeyMetadata, cfg *contracts.TrustConfig, now time.Time) Decision {
	if meta != nil && meta.Revoked {
		return Decision{
			State:      contracts.KeyStateRevoked,
			RejectKind: contracts.KindKeyRevoked,
			Reason:     "key is revoked: " + meta.RevocationReason,
		}
	}
	if meta != nil && meta.Expired(now) {
		return Decision{
			State:      contracts.KeyStateExpired,
			RejectKind: contracts.KindKeyExpired,
			Reason:     "key expired at " + meta.ExpiresAt.UTC().Format(time.RFC3339),
		}
	}

	state := keyState(meta, cfg)
	d := dispatch(state, cfg.Mode)
	if d.Trusted && meta != nil && meta.ExpiringWithin(now, cfg.ExpiryWarningLead) {
		warn := "key expires soon: " + meta.ExpiresAt.UTC().Format(time.RFC3339)
		if d.Warning != "" {
			d.Warning += "; " + warn
		} else {
			d.Warning = warn
		}
	}
	return d
}

func keyState(meta *contracts.KeyMetadata, cfg *contracts.TrustConfig) contracts.KeyState {
	keyID := ""
	if meta != nil {
		keyID = meta.KeyID
	}
	if _, ok := cfg.TeamKeys[keyID]; ok {
		return contracts.KeyStateTeam
	}
	if meta != nil && meta.Type == contracts.KeyTypeTeam {
		return contracts.KeyStateTeam
	}
	if _, ok := cfg.UserApprovedKeys[keyID]; ok {
		return contracts.KeyStateUserApproved
	}
	if meta != nil && meta.Type == contracts.KeyTypeUser {
		return contracts.KeyStateUserApproved
	}
	return contracts.KeyStateUnknown
}

func dispatch(state contracts.KeyState, mode contracts.PolicyMode) Decision {
	switch mode {
	case contracts.PolicyStrict:
		if state == contracts.KeyStateTeam {
			return Decision{Trusted: true, State: state, Reason: "team key accepted under STRICT"}
		}
		return Decision{
			State:      state,
			RejectKind: contracts.KindUntrustedSigner,
			Reason:     "STRICT mode trusts team keys only",
		}

	case contracts.PolicyWarn:
		switch state {
		case contracts.KeyStateTeam, contracts.KeyStateUserApproved:
			return Decision{Trusted: true, State: state, Reason: "key accepted under WARN"}
		default:
			return Decision{
				State:      state,
				RejectKind: contracts.KindUntrustedSigner,
				Hint:       "approving this key would make it trusted under WARN",
				Reason:     "unknown signer key",
			}
		}

	case contracts.PolicyBestEffort:
		return Decision{
			Trusted: true,
			State:   state,
			Warning: "BEST_EFFORT mode: signer accepted without trust verification",
			Reason:  "non-revoked, non-expired key accepted under BEST_EFFORT",
		}

	default:
		return Decision{
			State:      state,
			RejectKind: contracts.KindUntrustedSigner,
			Reason:     "unknown policy mode",
		}
	}
}
