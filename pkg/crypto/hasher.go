package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Algorithm names accepted by NewHasher.
const (
	AlgSHA256 = "sha256"
	AlgBlake3 = "blake3"
)

// Hasher computes content digests. Implementations must be deterministic and
// safe for concurrent use.
type Hasher interface {
	// Sum returns the digest of data.
	Sum(data []byte) []byte
	// Algorithm returns the algorithm identifier.
	Algorithm() string
}

// NewHasher returns the hasher for a named algorithm. Unknown algorithms are
// an error, never a silent default.
func NewHasher(algorithm string) (Hasher, error) {
	switch algorithm {
	case AlgSHA256:
		return SHA256Hasher{}, nil
	case AlgBlake3:
		return Blake3Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm: %q", algorithm)
	}
}

// SHA256Hasher is the default content hash.
type SHA256Hasher struct{}

func (SHA256Hasher) Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func (SHA256Hasher) Algorithm() string { return AlgSHA256 }

// Blake3Hasher is the faster alternative for bulk model files.
type Blake3Hasher struct{}

func (Blake3Hasher) Sum(data []byte) []byte {
	h := blake3.Sum256(data)
	return h[:]
}

func (Blake3Hasher) Algorithm() string { return AlgBlake3 }

// SumHex returns the hex-encoded digest of data under h.
func SumHex(h Hasher, data []byte) string {
	return hex.EncodeToString(h.Sum(data))
}
