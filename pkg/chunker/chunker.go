// Package chunker splits a byte source into fixed-size chunks and computes a
// content hash per chunk. Chunk boundaries are a pure function of the artifact
// category, so identical bytes always chunk identically regardless of runtime
// timing or transport behavior.
package chunker

import (
	"fmt"
	"io"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
)

// Chunk is one hashed slice of an artifact's byte stream. The final chunk of
// a source may be shorter than the nominal size.
type Chunk struct {
	Index int
	Hash  []byte
	Data  []byte
}

// Chunker produces deterministic chunk sequences for one artifact category.
type Chunker struct {
	chunkSize int
	hasher    crypto.Hasher
}

// New creates a Chunker for the given category using the default SHA-256
// content hash.
func New(category contracts.ArtifactType) *Chunker {
	return NewWithHasher(category, crypto.SHA256Hasher{})
}

// NewWithHasher creates a Chunker with an explicit content hash.
func NewWithHasher(category contracts.ArtifactType, hasher crypto.Hasher) *Chunker {
	return &Chunker{
		chunkSize: category.ChunkSize(),
		hasher:    hasher,
	}
}

// ChunkSize returns the nominal chunk size in bytes.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Split consumes the reader and returns the full ordered chunk sequence.
func (c *Chunker) Split(r io.Reader) ([]Chunk, error) {
	var chunks []Chunk
	err := c.Each(r, func(ch Chunk) error {
		chunks = append(chunks, ch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// Each streams chunks to fn in index order without retaining prior chunk
// bytes, so arbitrarily large sources can be processed in constant memory.
// Processing stops at the first error from fn.
func (c *Chunker) Each(r io.Reader, fn func(Chunk) error) error {
	buf := make([]byte, c.chunkSize)
	index := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			chunk := Chunk{
				Index: index,
				Hash:  c.hasher.Sum(data),
				Data:  data,
			}
			if err := fn(chunk); err != nil {
				return err
			}
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chunk read failed at index %d: %w", index, err)
		}
	}
}

// HashChunk hashes a single chunk's bytes with the chunker's content hash.
func (c *Chunker) HashChunk(data []byte) []byte {
	return c.hasher.Sum(data)
}

// Hashes consumes the reader and returns only the ordered chunk hashes.
func (c *Chunker) Hashes(r io.Reader) ([][]byte, error) {
	var hashes [][]byte
	err := c.Each(r, func(ch Chunk) error {
		hashes = append(hashes, ch.Hash)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// ChunkCount returns the number of chunks a source of totalSize bytes splits
// into under the given category.
func ChunkCount(category contracts.ArtifactType, totalSize int64) int {
	size := int64(category.ChunkSize())
	if totalSize <= 0 {
		return 0
	}
	return int((totalSize + size - 1) / size)
}
