package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/store"
)

// Engine evaluates signer keys against the active policy. The in-memory
// TrustConfig is a cache of convenience state; the key store is the source of
// truth for revocation and expiration, so every Check reads the durable
// record. Approve and revoke are serialized by the write lock; a concurrent
// Check may observe the state before or after an in-flight revoke, never a
// torn update.
type Engine struct {
	mu     sync.RWMutex
	cfg    *contracts.TrustConfig
	keys   store.KeyStore
	logger *slog.Logger
	clock  func() time.Time
}

// NewEngine creates a trust engine over the durable key store.
func NewEngine(cfg *contracts.TrustConfig, keys store.KeyStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:    cfg,
		keys:   keys,
		logger: logger.With("component", "trust"),
		clock:  time.Now,
	}
}

// Hydrate loads the durable key sets into the in-memory config. Called on
// startup; the store remains authoritative afterwards.
func (e *Engine) Hydrate(ctx context.Context) error {
	team, err := e.keys.ListByType(ctx, contracts.KeyTypeTeam)
	if err != nil {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "loading team keys")
	}
	user, err := e.keys.ListByType(ctx, contracts.KeyTypeUser)
	if err != nil {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "loading user keys")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range team {
		if k.Revoked {
			e.cfg.RevokedKeys[k.KeyID] = struct{}{}
			continue
		}
		e.cfg.TeamKeys[k.KeyID] = struct{}{}
	}
	for _, k := range user {
		if k.Revoked {
			e.cfg.RevokedKeys[k.KeyID] = struct{}{}
			continue
		}
		e.cfg.UserApprovedKeys[k.KeyID] = struct{}{}
	}
	return nil
}

// Mode returns the active policy mode.
func (e *Engine) Mode() contracts.PolicyMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Mode
}

// SetMode switches the active policy mode.
func (e *Engine) SetMode(mode contracts.PolicyMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown policy mode: %q", mode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Mode = mode
	return nil
}

// Check evaluates a signer key. The lifecycle record is read from the store
// on every call: expiration and revocation are security-relevant and must
// not be answered from the in-memory cache alone.
func (e *Engine) Check(ctx context.Context, keyID string) (Decision, error) {
	meta, err := e.keys.Get(ctx, keyID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Decision{}, contracts.WrapVerifyError(contracts.KindStorageError, err, "key lookup for %s", shortKey(keyID))
	}

	e.mu.RLock()
	decision := Evaluate(meta, e.cfg, e.clock())
	e.mu.RUnlock()

	if !decision.Trusted {
		e.logger.Warn("signer rejected",
			"key", shortKey(keyID), "state", decision.State, "reason", decision.Reason)
	} else if decision.Warning != "" {
		e.logger.Warn("signer accepted with warning",
			"key", shortKey(keyID), "warning", decision.Warning)
	}
	return decision, nil
}

// Authorize is Check with the rejection folded into the error return.
func (e *Engine) Authorize(ctx context.Context, keyID string) (Decision, error) {
	d, err := e.Check(ctx, keyID)
	if err != nil {
		return d, err
	}
	return d, d.Err()
}

// Approve adds a key to the user-approved set. A key with no lifecycle record
// is provisioned with the default bounded validity window; approval never
// grants indefinite trust. A revoked key can never be re-approved: revocation
// is terminal and a replacement requires a new key.
func (e *Engine) Approve(ctx context.Context, keyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.keys.Get(ctx, keyID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "key lookup for %s", shortKey(keyID))
	}

	if meta != nil && meta.Revoked {
		return contracts.NewVerifyError(contracts.KindKeyRevoked,
			"key %s is revoked and cannot be re-approved", shortKey(keyID))
	}

	if meta == nil {
		now := e.clock().UTC()
		record := &contracts.KeyMetadata{
			KeyID:     keyID,
			Type:      contracts.KeyTypeUser,
			CreatedAt: now,
			ExpiresAt: now.Add(DefaultUserKeyValidity),
		}
		if err := e.keys.Insert(ctx, record); err != nil {
			return contracts.WrapVerifyError(contracts.KindStorageError, err, "provisioning key %s", shortKey(keyID))
		}
	}

	e.cfg.UserApprovedKeys[keyID] = struct{}{}
	e.logger.Info("key approved", "key", shortKey(keyID))
	return nil
}

// Revoke marks a key revoked with a reason and drops it from the trusted
// sets. A key with no record yet gets one, already revoked, so the revocation
// survives restarts.
func (e *Engine) Revoke(ctx context.Context, keyID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock().UTC()
	err := e.keys.Revoke(ctx, keyID, reason, now)
	if errors.Is(err, store.ErrNotFound) {
		record := &contracts.KeyMetadata{
			KeyID:            keyID,
			Type:             contracts.KeyTypeUser,
			CreatedAt:        now,
			Revoked:          true,
			RevokedAt:        &now,
			RevocationReason: reason,
		}
		err = e.keys.Insert(ctx, record)
	}
	if err != nil {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "revoking key %s", shortKey(keyID))
	}

	delete(e.cfg.UserApprovedKeys, keyID)
	delete(e.cfg.TeamKeys, keyID)
	e.cfg.RevokedKeys[keyID] = struct{}{}
	e.logger.Info("key revoked", "key", shortKey(keyID), "reason", reason)
	return nil
}

// ProvisionTeamKey records a team-issued key with an explicit expiry and adds
// it to the team keyring.
func (e *Engine) ProvisionTeamKey(ctx context.Context, keyID string, expiresAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	record := &contracts.KeyMetadata{
		KeyID:     keyID,
		Type:      contracts.KeyTypeTeam,
		CreatedAt: e.clock().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := e.keys.Insert(ctx, record); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "provisioning team key %s", shortKey(keyID))
	}
	e.cfg.TeamKeys[keyID] = struct{}{}
	return nil
}

// ExpiringSoon lists non-revoked keys whose expiry falls inside the
// configured warning window.
func (e *Engine) ExpiringSoon(ctx context.Context) ([]*contracts.KeyMetadata, error) {
	e.mu.RLock()
	window := e.cfg.ExpiryWarningLead
	e.mu.RUnlock()

	keys, err := e.keys.ExpiringWithin(ctx, window)
	if err != nil {
		return nil, contracts.WrapVerifyError(contracts.KindStorageError, err, "querying expiring keys")
	}
	return keys, nil
}

func shortKey(keyID string) string {
	if len(keyID) > 16 {
		return keyID[:16] + "…"
	}
	return keyID
}
