package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verity/pkg/commitment"
	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
)

func testSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("publisher")
	require.NoError(t, err)
	return signer
}

func buildTestManifest(t *testing.T, signer *crypto.Ed25519Signer) *contracts.ArtifactManifest {
	t.Helper()
	m, err := Build([]byte("plugin bytes"), BuildParams{
		ArtifactID:      "plugin-demo",
		ArtifactVersion: "1.2.3",
		ArtifactType:    contracts.ArtifactPlugin,
		PublisherName:   "demo",
	}, signer)
	require.NoError(t, err)
	return m
}

func TestBuildSignVerifyRoundTrip(t *testing.T) {
	signer := testSigner(t)
	m := buildTestManifest(t, signer)

	assert.Equal(t, FormatVersion, m.Version)
	assert.Equal(t, commitment.StrategyConcatSHA256, m.Commitment.Strategy)
	assert.Equal(t, 1, m.Metadata.ChunkCount)
	assert.NotEmpty(t, m.Signature)

	ok, err := VerifySignature(m)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifySignatureTamper(t *testing.T) {
	signer := testSigner(t)

	cases := map[string]func(*contracts.ArtifactManifest){
		"artifact id":    func(m *contracts.ArtifactManifest) { m.ArtifactID = "other" },
		"version":        func(m *contracts.ArtifactManifest) { m.ArtifactVersion = "1.2.4" },
		"root":           func(m *contracts.ArtifactManifest) { m.Commitment.Root = m.Commitment.Root[2:] + "00" },
		"publisher name": func(m *contracts.ArtifactManifest) { m.Publisher.Name = "evil" },
		"size":           func(m *contracts.ArtifactManifest) { m.Metadata.Size++ },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := buildTestManifest(t, signer)
			mutate(m)
			ok, err := VerifySignature(m)
			require.NoError(t, err, "tamper is an expected outcome, not a fault")
			assert.False(t, ok)
		})
	}
}

func TestVerifySignatureMissingOrMalformed(t *testing.T) {
	signer := testSigner(t)

	t.Run("empty signature", func(t *testing.T) {
		m := buildTestManifest(t, signer)
		m.Signature = ""
		ok, err := VerifySignature(m)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("signature not hex", func(t *testing.T) {
		m := buildTestManifest(t, signer)
		m.Signature = "zz"
		_, err := VerifySignature(m)
		assert.Error(t, err, "structural fault, not a clean false")
	})

	t.Run("pubkey not hex", func(t *testing.T) {
		m := buildTestManifest(t, signer)
		m.Publisher.Pubkey = "not-hex"
		_, err := VerifySignature(m)
		assert.Error(t, err)
	})
}

func TestSignRejectsMismatchedPublisher(t *testing.T) {
	signer := testSigner(t)
	other := testSigner(t)

	m := buildTestManifest(t, signer)
	m.Publisher.Pubkey = other.PublicKey()
	assert.Error(t, Sign(m, signer))
}

func TestSigningBytesExcludeSignature(t *testing.T) {
	signer := testSigner(t)
	m := buildTestManifest(t, signer)

	withSig, err := SigningBytes(m)
	require.NoError(t, err)
	m.Signature = "deadbeef"
	withOtherSig, err := SigningBytes(m)
	require.NoError(t, err)
	assert.Equal(t, withSig, withOtherSig)
}

func TestParseRoundTrip(t *testing.T) {
	signer := testSigner(t)
	m := buildTestManifest(t, signer)

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, m.ArtifactID, parsed.ArtifactID)
	assert.Equal(t, m.Commitment.Root, parsed.Commitment.Root)

	ok, err := VerifySignature(parsed)
	require.NoError(t, err)
	assert.True(t, ok, "signature must survive a marshal/parse round trip")
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"missing fields":   `{"version":"1"}`,
		"bad pubkey shape": `{"version":"1","artifactId":"a","artifactVersion":"1.0.0","artifactType":"MODEL","publisher":{"name":"x","pubkey":"short"},"commitment":{"strategy":"s","root":"aa","chunkHashes":[]},"metadata":{"size":0,"chunkSize":1,"chunkCount":0},"signature":""}`,
		"bad type":         `{"version":"1","artifactId":"a","artifactVersion":"1.0.0","artifactType":"FIRMWARE","publisher":{"name":"x","pubkey":"` + hex64 + `"},"commitment":{"strategy":"s","root":"aa","chunkHashes":[]},"metadata":{"size":0,"chunkSize":1,"chunkCount":0},"signature":""}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

const hex64 = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestValidateSemantics(t *testing.T) {
	signer := testSigner(t)

	t.Run("invalid semver", func(t *testing.T) {
		m := buildTestManifest(t, signer)
		m.ArtifactVersion = "not-a-version"
		assert.Error(t, Validate(m))
	})

	t.Run("chunk count mismatch", func(t *testing.T) {
		m := buildTestManifest(t, signer)
		m.Metadata.ChunkCount = 7
		assert.Error(t, Validate(m))
	})

	t.Run("category mismatch", func(t *testing.T) {
		m := buildTestManifest(t, signer)
		m.Commitment.Category = contracts.ArtifactModel
		assert.Error(t, Validate(m))
	})
}

func TestCommitBytes(t *testing.T) {
	c, err := CommitBytes([]byte("session data"), contracts.ArtifactMemoryExport)
	require.NoError(t, err)
	assert.Equal(t, commitment.StrategyConcatSHA256, c.Strategy)
	assert.Equal(t, 1, c.ChunkCount)

	again, err := CommitBytes([]byte("session data"), contracts.ArtifactMemoryExport)
	require.NoError(t, err)
	assert.Equal(t, c.Root, again.Root)
}
