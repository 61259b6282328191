package trust

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/store"
)

type fakeKeyStore struct {
	mu   sync.Mutex
	keys map[string]*contracts.KeyMetadata
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: make(map[string]*contracts.KeyMetadata)}
}

func (s *fakeKeyStore) Insert(_ context.Context, k *contracts.KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.KeyID]; ok {
		return store.ErrDuplicate
	}
	cp := *k
	s.keys[k.KeyID] = &cp
	return nil
}

func (s *fakeKeyStore) Get(_ context.Context, keyID string) (*contracts.KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *fakeKeyStore) Revoke(_ context.Context, keyID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return store.ErrNotFound
	}
	k.Revoked = true
	k.RevokedAt = &at
	k.RevocationReason = reason
	return nil
}

func (s *fakeKeyStore) ExpiringWithin(_ context.Context, window time.Duration) ([]*contracts.KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*contracts.KeyMetadata
	for _, k := range s.keys {
		if !k.Revoked && k.ExpiringWithin(now, window) {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeKeyStore) ListByType(_ context.Context, keyType contracts.KeyType) ([]*contracts.KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*contracts.KeyMetadata
	for _, k := range s.keys {
		if k.Type == keyType {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T, mode contracts.PolicyMode) (*Engine, *fakeKeyStore) {
	t.Helper()
	keys := newFakeKeyStore()
	return NewEngine(contracts.NewTrustConfig(mode), keys, nil), keys
}

func TestApproveProvisionsBoundedValidity(t *testing.T) {
	ctx := context.Background()
	e, keys := newTestEngine(t, contracts.PolicyWarn)

	require.NoError(t, e.Approve(ctx, "new-key"))

	record, err := keys.Get(ctx, "new-key")
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyTypeUser, record.Type)
	assert.False(t, record.ExpiresAt.IsZero(), "approval must never grant indefinite trust")
	assert.WithinDuration(t, time.Now().Add(DefaultUserKeyValidity), record.ExpiresAt, time.Minute)

	d, err := e.Check(ctx, "new-key")
	require.NoError(t, err)
	assert.True(t, d.Trusted)
}

func TestRevokeIsTerminal(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, contracts.PolicyWarn)

	require.NoError(t, e.Approve(ctx, "key-1"))
	require.NoError(t, e.Revoke(ctx, "key-1", "leaked"))

	d, err := e.Check(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, d.Trusted)
	assert.Equal(t, contracts.KindKeyRevoked, d.RejectKind)

	err = e.Approve(ctx, "key-1")
	require.Error(t, err, "revocation is terminal")
	assert.ErrorIs(t, err, contracts.ErrKeyRevoked)
}

func TestRevokeUnknownKeyPersistsRecord(t *testing.T) {
	ctx := context.Background()
	e, keys := newTestEngine(t, contracts.PolicyWarn)

	require.NoError(t, e.Revoke(ctx, "never-seen", "preemptive"))

	record, err := keys.Get(ctx, "never-seen")
	require.NoError(t, err)
	assert.True(t, record.Revoked, "revocation of an unknown key must survive restarts")
}

func TestCheckReadsStoreNotCache(t *testing.T) {
	ctx := context.Background()
	e, keys := newTestEngine(t, contracts.PolicyWarn)

	require.NoError(t, e.Approve(ctx, "key-1"))

	// Revoke behind the engine's back, as another process would. The cached
	// user-approved set still contains the key; the store must win.
	require.NoError(t, keys.Revoke(ctx, "key-1", "revoked elsewhere", time.Now()))

	d, err := e.Check(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, d.Trusted, "store is authoritative over the in-memory cache")
	assert.Equal(t, contracts.KindKeyRevoked, d.RejectKind)
}

func TestAuthorizeFoldsRejectionIntoError(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, contracts.PolicyStrict)

	_, err := e.Authorize(ctx, "unknown")
	assert.ErrorIs(t, err, contracts.ErrUntrustedSigner)
}

func TestHydrateLoadsDurableSets(t *testing.T) {
	ctx := context.Background()
	keys := newFakeKeyStore()
	now := time.Now()
	revokedAt := now
	require.NoError(t, keys.Insert(ctx, &contracts.KeyMetadata{
		KeyID: "team-1", Type: contracts.KeyTypeTeam, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, keys.Insert(ctx, &contracts.KeyMetadata{
		KeyID: "user-1", Type: contracts.KeyTypeUser, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, keys.Insert(ctx, &contracts.KeyMetadata{
		KeyID: "user-2", Type: contracts.KeyTypeUser, CreatedAt: now, Revoked: true, RevokedAt: &revokedAt,
	}))

	cfg := contracts.NewTrustConfig(contracts.PolicyWarn)
	e := NewEngine(cfg, keys, nil)
	require.NoError(t, e.Hydrate(ctx))

	assert.Contains(t, cfg.TeamKeys, "team-1")
	assert.Contains(t, cfg.UserApprovedKeys, "user-1")
	assert.Contains(t, cfg.RevokedKeys, "user-2")
	assert.NotContains(t, cfg.UserApprovedKeys, "user-2")
}

func TestSetMode(t *testing.T) {
	e, _ := newTestEngine(t, contracts.PolicyStrict)
	require.NoError(t, e.SetMode(contracts.PolicyWarn))
	assert.Equal(t, contracts.PolicyWarn, e.Mode())
	assert.Error(t, e.SetMode("PARANOID"))
}

func TestProvisionTeamKeyAndExpiring(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, contracts.PolicyStrict)

	// Expires inside the default 30-day warning window.
	require.NoError(t, e.ProvisionTeamKey(ctx, "team-1", time.Now().Add(7*24*time.Hour)))
	// Far from expiry.
	require.NoError(t, e.ProvisionTeamKey(ctx, "team-2", time.Now().Add(365*24*time.Hour)))

	d, err := e.Check(ctx, "team-1")
	require.NoError(t, err)
	assert.True(t, d.Trusted)
	assert.NotEmpty(t, d.Warning)

	expiring, err := e.ExpiringSoon(ctx)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "team-1", expiring[0].KeyID)
}
