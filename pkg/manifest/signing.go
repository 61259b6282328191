// Package manifest builds and verifies the detached signature on artifact
// manifests. The signed byte sequence is the RFC 8785 canonical JSON of every
// manifest field except the signature itself, so any conforming
// implementation re-derives identical bytes from the same manifest.
package manifest

import (
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
)

// SigningBytes reconstructs the exact byte sequence covered by the manifest
// signature: all fields except Signature, in canonical order.
func SigningBytes(m *contracts.ArtifactManifest) ([]byte, error) {
	unsigned := *m
	unsigned.Signature = ""
	data, err := crypto.CanonicalMarshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("manifest canonicalization failed: %w", err)
	}
	return data, nil
}

// Sign computes and attaches the detached signature using the publisher's
// signer. The manifest's publisher pubkey must match the signer.
func Sign(m *contracts.ArtifactManifest, signer crypto.Signer) error {
	if m.Publisher.Pubkey != signer.PublicKey() {
		return fmt.Errorf("publisher pubkey does not match signing key")
	}
	data, err := SigningBytes(m)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return fmt.Errorf("manifest signing failed: %w", err)
	}
	m.Signature = sig
	return nil
}

// VerifySignature checks the detached signature against the publisher's
// declared public key. An invalid signature is an expected outcome and
// returns (false, nil); only structural faults (bad hex, canonicalization
// failure) return an error.
func VerifySignature(m *contracts.ArtifactManifest) (bool, error) {
	if m.Signature == "" {
		return false, nil
	}

	data, err := SigningBytes(m)
	if err != nil {
		return false, err
	}

	pubKey, err := hex.DecodeString(m.Publisher.Pubkey)
	if err != nil {
		return false, fmt.Errorf("publisher pubkey is not valid hex: %w", err)
	}
	sig, err := hex.DecodeString(m.Signature)
	if err != nil {
		return false, fmt.Errorf("signature is not valid hex: %w", err)
	}

	return crypto.VerifyBytes(pubKey, sig, data), nil
}
