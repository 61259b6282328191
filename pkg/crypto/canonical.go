package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalMarshal marshals v into canonical JSON (RFC 8785 / JCS):
// lexicographically sorted keys, no HTML escaping, compact representation,
// no trailing newline. Two semantically equal values always serialize to
// identical bytes, which is what makes signatures over manifests re-derivable.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	out, err := jcs.Transform(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return out, nil
}

// Signature payload separators and prefixes.
const (
	SigSeparator     = ":"
	SigPrefixEd25519 = "ed25519"
)
