package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
	"github.com/Mindburn-Labs/verity/pkg/fetch"
	"github.com/Mindburn-Labs/verity/pkg/manifest"
	"github.com/Mindburn-Labs/verity/pkg/receipts"
	"github.com/Mindburn-Labs/verity/pkg/store"
	"github.com/Mindburn-Labs/verity/pkg/trust"
)

// In-memory stand-ins for the SQL stores.

type memKeyStore struct {
	mu   sync.Mutex
	keys map[string]*contracts.KeyMetadata
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]*contracts.KeyMetadata)}
}

func (s *memKeyStore) Insert(_ context.Context, k *contracts.KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.KeyID]; ok {
		return store.ErrDuplicate
	}
	cp := *k
	s.keys[k.KeyID] = &cp
	return nil
}

func (s *memKeyStore) Get(_ context.Context, keyID string) (*contracts.KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *memKeyStore) Revoke(_ context.Context, keyID, reason string, at time.Time) error {
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

func (s *memKeyStore) ExpiringWithin(_ context.Context, window time.Duration) ([]*contracts.KeyMetadata, error) {
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

func (s *memKeyStore) ListByType(_ context.Context, keyType contracts.KeyType) ([]*contracts.KeyMetadata, error) {
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

type memReceiptStore struct {
	mu        sync.Mutex
	artifacts map[string]*contracts.ArtifactReceipt
	sessions  map[string]*contracts.SessionReceipt
}

func newMemReceiptStore() *memReceiptStore {
	return &memReceiptStore{
		artifacts: make(map[string]*contracts.ArtifactReceipt),
		sessions:  make(map[string]*contracts.SessionReceipt),
	}
}

func (s *memReceiptStore) StoreArtifact(_ context.Context, r *contracts.ArtifactReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[r.ReceiptHash]; ok {
		return store.ErrDuplicate
	}
	s.artifacts[r.ReceiptHash] = r
	return nil
}

func (s *memReceiptStore) StoreSession(_ context.Context, r *contracts.SessionReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[r.ReceiptHash]; ok {
		return store.ErrDuplicate
	}
	s.sessions[r.ReceiptHash] = r
	return nil
}

func (s *memReceiptStore) GetArtifactByHash(_ context.Context, hash string) (*contracts.ArtifactReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.artifacts[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *memReceiptStore) GetSessionByHash(_ context.Context, hash string) (*contracts.SessionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *memReceiptStore) ExistsByHash(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, a := s.artifacts[hash]
	_, b := s.sessions[hash]
	return a || b, nil
}

func (s *memReceiptStore) ListArtifacts(_ context.Context, limit int) ([]*contracts.ArtifactReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.ArtifactReceipt, 0, len(s.artifacts))
	for _, r := range s.artifacts {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memReceiptStore) ListArtifactsByID(_ context.Context, artifactID string) ([]*contracts.ArtifactReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*contracts.ArtifactReceipt
	for _, r := range s.artifacts {
		if r.ArtifactID == artifactID {
			out = append(out, r)
		}
	}
	return out, nil
}

// memWriterAt collects writes into a growable buffer.
type memWriterAt struct {
	mu  sync.Mutex
	buf []byte
}

func (w *memWriterAt) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	end := int(off) + len(p)
	if end > len(w.buf) {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[off:], p)
	return len(p), nil
}

type env struct {
	verifier  *Verifier
	trust     *trust.Engine
	keys      *memKeyStore
	receipts  *memReceiptStore
	rengine   *receipts.Engine
	publisher *crypto.Ed25519Signer
	local     *crypto.Ed25519Signer
}

func newTestEnv(t *testing.T, mode contracts.PolicyMode) *env {
	t.Helper()

	keys := newMemKeyStore()
	rstore := newMemReceiptStore()
	te := trust.NewEngine(contracts.NewTrustConfig(mode), keys, nil)
	re := receipts.NewEngine(rstore, nil, nil)

	resume, err := store.NewFileResumeStore(t.TempDir())
	require.NoError(t, err)

	publisher, err := crypto.NewEd25519Signer("publisher")
	require.NoError(t, err)
	local, err := crypto.NewEd25519Signer("local")
	require.NoError(t, err)

	return &env{
		verifier:  New(te, re, resume, local, nil),
		trust:     te,
		keys:      keys,
		receipts:  rstore,
		rengine:   re,
		publisher: publisher,
		local:     local,
	}
}

func buildArtifact(t *testing.T, e *env, size int) ([]byte, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	m, err := manifest.Build(data, manifest.BuildParams{
		ArtifactID:      "plugin-demo",
		ArtifactVersion: "1.0.0",
		ArtifactType:    contracts.ArtifactPlugin,
		PublisherName:   "demo",
	}, e.publisher)
	require.NoError(t, err)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return data, raw
}

func sliceFetcher(data []byte, chunkSize int) fetch.Fetcher {
	return fetch.Func(func(_ context.Context, index int) ([]byte, error) {
		start := index * chunkSize
		if start >= len(data) {
			return nil, fmt.Errorf("chunk %d out of range", index)
		}
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		return data[start:end], nil
	})
}

func TestVerifyArtifactEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)
	require.NoError(t, e.trust.ProvisionTeamKey(ctx, e.publisher.PublicKey(), time.Now().Add(24*time.Hour)))

	// Three PLUGIN chunks: two full, one short.
	data, raw := buildArtifact(t, e, 2*256<<10+1000)
	dest := &memWriterAt{}

	report, err := e.verifier.VerifyArtifact(ctx, raw, sliceFetcher(data, 256<<10), dest)
	require.NoError(t, err)

	assert.True(t, report.Verified)
	assert.NotEmpty(t, report.ReceiptHash)
	assert.True(t, bytes.Equal(data, dest.buf), "verified output must match source bytes")

	stored, err := e.receipts.GetArtifactByHash(ctx, report.ReceiptHash)
	require.NoError(t, err)
	assert.True(t, e.rengine.VerifyArtifact(stored))
}

func TestVerifyArtifactReusedReceiptOnReverify(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)
	require.NoError(t, e.trust.ProvisionTeamKey(ctx, e.publisher.PublicKey(), time.Now().Add(24*time.Hour)))

	data, raw := buildArtifact(t, e, 256<<10)

	first, err := e.verifier.VerifyArtifact(ctx, raw, sliceFetcher(data, 256<<10), &memWriterAt{})
	require.NoError(t, err)
	second, err := e.verifier.VerifyArtifact(ctx, raw, sliceFetcher(data, 256<<10), &memWriterAt{})
	require.NoError(t, err)

	assert.Equal(t, first.ReceiptHash, second.ReceiptHash)
	assert.Len(t, e.receipts.artifacts, 1)
}

func TestVerifyArtifactCorruptChunk(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)
	require.NoError(t, e.trust.ProvisionTeamKey(ctx, e.publisher.PublicKey(), time.Now().Add(24*time.Hour)))

	data, raw := buildArtifact(t, e, 3*256<<10)
	inner := sliceFetcher(data, 256<<10)
	corrupting := fetch.Func(func(ctx context.Context, index int) ([]byte, error) {
		b, err := inner.Fetch(ctx, index)
		if err != nil {
			return nil, err
		}
		if index == 1 {
			b = append([]byte(nil), b...)
			b[0] ^= 0xff
		}
		return b, nil
	})

	report, err := e.verifier.VerifyArtifact(ctx, raw, corrupting, &memWriterAt{})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrChunkHashMismatch)
	assert.False(t, report.Verified)
	assert.Empty(t, report.ReceiptHash)
	assert.Empty(t, e.receipts.artifacts, "no receipt may exist for failed content")
}

func TestVerifyArtifactUntrustedSignerStrict(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)
	// Publisher key never provisioned.

	data, raw := buildArtifact(t, e, 1000)
	report, err := e.verifier.VerifyArtifact(ctx, raw, sliceFetcher(data, 256<<10), &memWriterAt{})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrUntrustedSigner)
	assert.False(t, report.Verified)
}

func TestVerifyArtifactRevokedSigner(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyWarn)
	require.NoError(t, e.trust.Approve(ctx, e.publisher.PublicKey()))
	require.NoError(t, e.trust.Revoke(ctx, e.publisher.PublicKey(), "compromised"))

	data, raw := buildArtifact(t, e, 1000)
	_, err := e.verifier.VerifyArtifact(ctx, raw, sliceFetcher(data, 256<<10), &memWriterAt{})
	assert.ErrorIs(t, err, contracts.ErrKeyRevoked)
}

func TestVerifyArtifactTamperedManifest(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)
	require.NoError(t, e.trust.ProvisionTeamKey(ctx, e.publisher.PublicKey(), time.Now().Add(24*time.Hour)))

	data, raw := buildArtifact(t, e, 1000)

	var m contracts.ArtifactManifest
	require.NoError(t, json.Unmarshal(raw, &m))
	m.ArtifactVersion = "9.9.9" // signature no longer covers this
	tampered, err := json.Marshal(&m)
	require.NoError(t, err)

	report, verr := e.verifier.VerifyArtifact(ctx, tampered, sliceFetcher(data, 256<<10), &memWriterAt{})
	require.Error(t, verr)
	assert.ErrorIs(t, verr, contracts.ErrManifestSignatureInvalid)
	assert.False(t, report.Verified)
}

func TestVerifyArtifactMalformedManifest(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)

	report, err := e.verifier.VerifyArtifact(ctx, []byte(`{"version":"1"}`), nil, &memWriterAt{})
	require.Error(t, err)
	assert.False(t, report.Verified)
	require.NotEmpty(t, report.Checks)
	assert.Equal(t, "manifest_schema", report.Checks[0].Name)
	assert.False(t, report.Checks[0].Pass)
}

func TestVerifySessionExport(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)

	data := []byte("session turns and attachments")
	commit, err := manifest.CommitBytes(data, contracts.ArtifactMemoryExport)
	require.NoError(t, err)

	seed := bytes.Repeat([]byte{7}, 32)
	report, err := e.verifier.VerifySessionExport(ctx, "session-42", data, commit.Root, seed)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.NotEmpty(t, report.ReceiptHash)

	stored, err := e.receipts.GetSessionByHash(ctx, report.ReceiptHash)
	require.NoError(t, err)
	assert.True(t, e.rengine.VerifySession(stored))

	// Same seed re-derives the same session identity and thus the same
	// receipt address.
	again, err := e.verifier.VerifySessionExport(ctx, "session-42", data, commit.Root, seed)
	require.NoError(t, err)
	assert.Equal(t, report.ReceiptHash, again.ReceiptHash)
}

func TestVerifySessionExportRootMismatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, contracts.PolicyStrict)

	data := []byte("session turns and attachments")
	commit, err := manifest.CommitBytes(append([]byte(nil), data...), contracts.ArtifactMemoryExport)
	require.NoError(t, err)

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0x01
	_, err = e.verifier.VerifySessionExport(ctx, "session-42", tampered, commit.Root, bytes.Repeat([]byte{7}, 32))
	assert.ErrorIs(t, err, contracts.ErrRootMismatch)
}
