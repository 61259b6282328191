package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

func hashes(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		h := sha256.Sum256([]byte{byte(i)})
		out[i] = h[:]
	}
	return out
}

func TestForID(t *testing.T) {
	for _, id := range []string{StrategyConcatSHA256, StrategyMerkleSHA256} {
		s, err := ForID(id)
		require.NoError(t, err)
		assert.Equal(t, id, s.ID())
	}

	_, err := ForID("concat-sha512-v9")
	assert.Error(t, err, "unknown strategies are rejected, never defaulted")
	_, err = ForID("")
	assert.Error(t, err)
}

func TestConcatRoot(t *testing.T) {
	hs := hashes(3)
	root := concatStrategy{}.Root(hs)

	var buf bytes.Buffer
	buf.WriteString("verity:commitment:concat:v1")
	buf.WriteByte(0)
	for _, h := range hs {
		buf.Write(h)
	}
	want := sha256.Sum256(buf.Bytes())
	assert.Equal(t, want[:], root)
}

func TestRootIsOrderSensitive(t *testing.T) {
	hs := hashes(4)
	swapped := [][]byte{hs[1], hs[0], hs[2], hs[3]}

	for _, id := range []string{StrategyConcatSHA256, StrategyMerkleSHA256} {
		s, err := ForID(id)
		require.NoError(t, err)
		assert.NotEqual(t, s.Root(hs), s.Root(swapped), "strategy %s must bind chunk order", id)
	}
}

func TestMerkleOddLeafBalancing(t *testing.T) {
	s := merkleStrategy{}

	// Three leaves: the last is duplicated, so the root differs from a
	// two-leaf tree and is still deterministic.
	three := s.Root(hashes(3))
	assert.Equal(t, three, s.Root(hashes(3)))
	assert.NotEqual(t, three, s.Root(hashes(2)))

	// Single leaf: root is the leaf hash itself, not a node over duplicates.
	one := s.Root(hashes(1))
	assert.Equal(t, merkleLeafHash(hashes(1)[0]), one)
}

func TestMerkleDomainSeparation(t *testing.T) {
	h := hashes(1)[0]
	assert.NotEqual(t, merkleLeafHash(h), merkleNodeHash(h, h))
}

func TestEmptyRoot(t *testing.T) {
	want := sha256.Sum256([]byte("verity:commitment:empty:v1"))
	assert.Equal(t, want[:], EmptyRoot())

	for _, id := range []string{StrategyConcatSHA256, StrategyMerkleSHA256} {
		s, err := ForID(id)
		require.NoError(t, err)
		assert.Equal(t, EmptyRoot(), s.Root(nil), "strategy %s must use the reserved empty root", id)
	}
}

func TestBuildAndRecompute(t *testing.T) {
	hs := hashes(5)
	c, err := Build(StrategyMerkleSHA256, hs, contracts.ArtifactModel, 5<<20)
	require.NoError(t, err)

	assert.Equal(t, StrategyMerkleSHA256, c.Strategy)
	assert.Equal(t, 5, c.ChunkCount)
	assert.Equal(t, int64(5<<20), c.TotalSize)
	assert.Equal(t, hex.EncodeToString(hs[0]), c.ChunkHashes[0])

	ok, err := Recompute(c)
	require.NoError(t, err)
	assert.True(t, ok)

	c.Root = hex.EncodeToString(EmptyRoot())
	ok, err = Recompute(c)
	require.NoError(t, err)
	assert.False(t, ok, "declared root inconsistent with chunk list must fail")
}

func TestBuildUnknownStrategy(t *testing.T) {
	_, err := Build("nope", hashes(1), contracts.ArtifactModel, 1)
	assert.Error(t, err)
}

func TestRecomputeRejectsBadHex(t *testing.T) {
	c := &contracts.RootCommitment{
		Strategy:    StrategyConcatSHA256,
		Root:        "00",
		ChunkHashes: []string{"zz"},
	}
	_, err := Recompute(c)
	assert.Error(t, err)
}
