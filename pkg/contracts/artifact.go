// Package contracts defines the shared data model for the Verity
// integrity-and-trust engine: signed artifact manifests, root commitments,
// transfer resume state, key lifecycle records, receipts, and the error
// taxonomy every component reports against.
package contracts

import "time"

// ArtifactType categorizes a distributable artifact. Chunk sizing is a pure
// function of this category, never of runtime conditions.
type ArtifactType string

// Artifact type constants.
const (
	ArtifactModel        ArtifactType = "MODEL"
	ArtifactPlugin       ArtifactType = "PLUGIN"
	ArtifactUIBundle     ArtifactType = "UI_BUNDLE"
	ArtifactMemoryExport ArtifactType = "MEMORY_EXPORT"
)

// ChunkSize returns the nominal chunk size in bytes for the category.
// Frequently partially-updated categories use smaller chunks so a resumed
// transfer re-fetches less; bulk model files use larger chunks.
func (t ArtifactType) ChunkSize() int {
	switch t {
	case ArtifactModel:
		return 1 << 20 // 1 MiB
	case ArtifactPlugin, ArtifactUIBundle:
		return 256 << 10 // 256 KiB
	case ArtifactMemoryExport:
		return 64 << 10 // 64 KiB
	default:
		return 256 << 10
	}
}

// Valid reports whether the artifact type is a known category.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactModel, ArtifactPlugin, ArtifactUIBundle, ArtifactMemoryExport:
		return true
	}
	return false
}

// Publisher identifies the signer of an artifact manifest.
type Publisher struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"` // hex-encoded ed25519 public key
}

// ManifestMetadata carries size and chunking parameters for an artifact.
type ManifestMetadata struct {
	Size       int64     `json:"size"`
	ChunkSize  int       `json:"chunkSize"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ArtifactManifest is the publisher-signed description of a distributable
// artifact. It is immutable once signed: the detached signature covers every
// field except Signature itself, serialized canonically.
type ArtifactManifest struct {
	Version         string           `json:"version"`
	ArtifactID      string           `json:"artifactId"`
	ArtifactVersion string           `json:"artifactVersion"`
	ArtifactType    ArtifactType     `json:"artifactType"`
	Publisher       Publisher        `json:"publisher"`
	Commitment      RootCommitment   `json:"commitment"`
	Metadata        ManifestMetadata `json:"metadata"`
	Signature       string           `json:"signature"` // hex-encoded, detached
}

// RootCommitment binds an ordered list of chunk digests to a single root
// digest under a named, versioned strategy. The root must be re-derivable
// deterministically from ChunkHashes under Strategy; verifiers reject a
// strategy they do not implement rather than falling back to a default.
type RootCommitment struct {
	Strategy    string       `json:"strategy"`
	Root        string       `json:"root"`        // hex
	ChunkHashes []string     `json:"chunkHashes"` // hex, in chunk-index order
	Category    ArtifactType `json:"category"`
	TotalSize   int64        `json:"totalSize"`
	ChunkCount  int          `json:"chunkCount"`
	CreatedAt   time.Time    `json:"createdAt"`
}
