// Package commitment folds an ordered sequence of chunk hashes into a single
// root digest under a named, versioned strategy. The strategy identifier
// travels inside the commitment, so a stronger strategy can be introduced
// without breaking verification of artifacts committed under an older one.
// Verifiers reject a strategy they do not implement; there is no default.
package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// Strategy identifiers.
const (
	StrategyConcatSHA256 = "concat-sha256-v1"
	StrategyMerkleSHA256 = "merkle-sha256-v1"
)

// emptyRootPreimage is the reserved preimage for the zero-chunk root. An
// empty artifact commits to this value under every strategy.
const emptyRootPreimage = "verity:commitment:empty:v1"

// Strategy computes a root digest from an ordered chunk hash sequence.
type Strategy interface {
	ID() string
	Root(chunkHashes [][]byte) []byte
}

// ForID returns the strategy implementation for a strategy identifier.
// Unknown identifiers are an error, never a fallback.
func ForID(id string) (Strategy, error) {
	switch id {
	case StrategyConcatSHA256:
		return concatStrategy{}, nil
	case StrategyMerkleSHA256:
		return merkleStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown commitment strategy: %q", id)
	}
}

// EmptyRoot returns the reserved root digest for a zero-chunk artifact.
func EmptyRoot() []byte {
	h := sha256.Sum256([]byte(emptyRootPreimage))
	return h[:]
}

// concatStrategy concatenates the ordered chunk hashes and hashes the
// concatenation.
type concatStrategy struct{}

func (concatStrategy) ID() string { return StrategyConcatSHA256 }

func (concatStrategy) Root(chunkHashes [][]byte) []byte {
	if len(chunkHashes) == 0 {
		return EmptyRoot()
	}
	var buf bytes.Buffer
	buf.WriteString("verity:commitment:concat:v1")
	buf.WriteByte(0)
	for _, h := range chunkHashes {
		buf.Write(h)
	}
	sum := sha256.Sum256(buf.Bytes())
	return sum[:]
}

// merkleStrategy builds a binary tree over the chunk hashes, duplicating the
// last node of an odd level. Leaf and node hashing are domain-separated so a
// leaf can never be confused for an interior node.
type merkleStrategy struct{}

func (merkleStrategy) ID() string { return StrategyMerkleSHA256 }

func (merkleStrategy) Root(chunkHashes [][]byte) []byte {
	if len(chunkHashes) == 0 {
		return EmptyRoot()
	}

	level := make([][]byte, len(chunkHashes))
	for i, h := range chunkHashes {
		level[i] = merkleLeafHash(h)
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1]) // Duplicate last
		}
		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = merkleNodeHash(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}

func merkleLeafHash(chunkHash []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("verity:commitment:leaf:v1")
	buf.WriteByte(0)
	buf.Write(chunkHash)
	sum := sha256.Sum256(buf.Bytes())
	return sum[:]
}

func merkleNodeHash(left, right []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("verity:commitment:node:v1")
	buf.WriteByte(0)
	buf.Write(left)
	buf.Write(right)
	sum := sha256.Sum256(buf.Bytes())
	return sum[:]
}

// Build computes a full RootCommitment for the ordered chunk hashes under the
// named strategy.
func Build(strategyID string, chunkHashes [][]byte, category contracts.ArtifactType, totalSize int64) (*contracts.RootCommitment, error) {
	strat, err := ForID(strategyID)
	if err != nil {
		return nil, err
	}

	hexHashes := make([]string, len(chunkHashes))
	for i, h := range chunkHashes {
		hexHashes[i] = hex.EncodeToString(h)
	}

	return &contracts.RootCommitment{
		Strategy:    strat.ID(),
		Root:        hex.EncodeToString(strat.Root(chunkHashes)),
		ChunkHashes: hexHashes,
		Category:    category,
		TotalSize:   totalSize,
		ChunkCount:  len(chunkHashes),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Recompute derives the root for an existing commitment from its own chunk
// hash list and reports whether it matches the declared root. This guards
// against a manifest whose declared root does not match its declared chunks.
func Recompute(c *contracts.RootCommitment) (bool, error) {
	strat, err := ForID(c.Strategy)
	if err != nil {
		return false, err
	}

	hashes := make([][]byte, len(c.ChunkHashes))
	for i, hh := range c.ChunkHashes {
		h, err := hex.DecodeString(hh)
		if err != nil {
			return false, fmt.Errorf("chunk hash %d is not valid hex: %w", i, err)
		}
		hashes[i] = h
	}

	return hex.EncodeToString(strat.Root(hashes)) == c.Root, nil
}
