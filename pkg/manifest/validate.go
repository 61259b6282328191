package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// FormatVersion is the manifest wire format version this engine produces and
// accepts.
const FormatVersion = "1"

// manifestSchema validates the wire shape of an incoming manifest before any
// cryptographic work happens on it.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "artifactId", "artifactVersion", "artifactType", "publisher", "commitment", "metadata", "signature"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "artifactId": {"type": "string", "minLength": 1},
    "artifactVersion": {"type": "string", "minLength": 1},
    "artifactType": {"type": "string", "enum": ["MODEL", "PLUGIN", "UI_BUNDLE", "MEMORY_EXPORT"]},
    "publisher": {
      "type": "object",
      "required": ["name", "pubkey"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "pubkey": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
      }
    },
    "commitment": {
      "type": "object",
      "required": ["strategy", "root", "chunkHashes"],
      "properties": {
        "strategy": {"type": "string", "minLength": 1},
        "root": {"type": "string", "pattern": "^[0-9a-f]+$"},
        "chunkHashes": {
          "type": "array",
          "items": {"type": "string", "pattern": "^[0-9a-f]+$"}
        }
      }
    },
    "metadata": {
      "type": "object",
      "required": ["size", "chunkSize", "chunkCount"],
      "properties": {
        "size": {"type": "integer", "minimum": 0},
        "chunkSize": {"type": "integer", "minimum": 1},
        "chunkCount": {"type": "integer", "minimum": 0}
      }
    },
    "signature": {"type": "string"}
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://verity.schemas.local/manifest.schema.json"
	if err := c.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
		panic(fmt.Sprintf("manifest schema load failed: %v", err))
	}
	return c.MustCompile(url)
}

// Parse decodes and validates a raw manifest document. The schema check runs
// on the raw bytes so malformed documents are rejected before decoding.
func Parse(raw []byte) (*contracts.ArtifactManifest, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	var m contracts.ArtifactManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest decode failed: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate applies semantic checks beyond the wire schema: version syntax,
// chunk count consistency, and category consistency between manifest and
// commitment.
func Validate(m *contracts.ArtifactManifest) error {
	if !m.ArtifactType.Valid() {
		return fmt.Errorf("unknown artifact type: %q", m.ArtifactType)
	}
	if _, err := semver.NewVersion(m.ArtifactVersion); err != nil {
		return fmt.Errorf("artifact version %q is not valid semver: %w", m.ArtifactVersion, err)
	}
	if m.Metadata.ChunkCount != len(m.Commitment.ChunkHashes) {
		return fmt.Errorf("metadata chunk count %d does not match commitment chunk list length %d",
			m.Metadata.ChunkCount, len(m.Commitment.ChunkHashes))
	}
	if m.Commitment.Category != "" && m.Commitment.Category != m.ArtifactType {
		return fmt.Errorf("commitment category %q does not match artifact type %q",
			m.Commitment.Category, m.ArtifactType)
	}
	return nil
}
