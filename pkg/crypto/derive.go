package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives purpose-scoped key material from a root seed using
// HKDF-SHA256. The purpose string is the HKDF info parameter, so keys derived
// for different purposes are independent even under the same seed.
func DeriveKey(seed []byte, purpose string, length int) ([]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("empty seed")
	}
	r := hkdf.New(sha256.New, seed, nil, []byte(purpose))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}
	return out, nil
}

// DeriveSigner derives a deterministic ed25519 signer for a purpose, e.g.
// "verity:session:<session-id>". The same seed and purpose always yield the
// same key pair.
func DeriveSigner(seed []byte, purpose string) (*Ed25519Signer, error) {
	material, err := DeriveKey(seed, purpose, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(material)
	return NewEd25519SignerFromKey(priv, purpose), nil
}
