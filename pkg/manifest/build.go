package manifest

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/chunker"
	"github.com/Mindburn-Labs/verity/pkg/commitment"
	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
)

// BuildParams describes the artifact a manifest is built for.
type BuildParams struct {
	ArtifactID      string
	ArtifactVersion string
	ArtifactType    contracts.ArtifactType
	PublisherName   string
	Strategy        string // defaults to commitment.StrategyConcatSHA256
}

// Build chunks the artifact bytes, computes the commitment, and returns a
// signed manifest. This mirrors the publisher-side pipeline closely enough
// for local signing and for tests; the production publisher pipeline is out
// of scope here.
func Build(data []byte, p BuildParams, signer crypto.Signer) (*contracts.ArtifactManifest, error) {
	strategy := p.Strategy
	if strategy == "" {
		strategy = commitment.StrategyConcatSHA256
	}

	ch := chunker.New(p.ArtifactType)
	hashes, err := ch.Hashes(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chunking failed: %w", err)
	}

	commit, err := commitment.Build(strategy, hashes, p.ArtifactType, int64(len(data)))
	if err != nil {
		return nil, err
	}

	m := &contracts.ArtifactManifest{
		Version:         FormatVersion,
		ArtifactID:      p.ArtifactID,
		ArtifactVersion: p.ArtifactVersion,
		ArtifactType:    p.ArtifactType,
		Publisher: contracts.Publisher{
			Name:   p.PublisherName,
			Pubkey: signer.PublicKey(),
		},
		Commitment: *commit,
		Metadata: contracts.ManifestMetadata{
			Size:       int64(len(data)),
			ChunkSize:  ch.ChunkSize(),
			ChunkCount: len(hashes),
			CreatedAt:  time.Now().UTC(),
		},
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	if err := Sign(m, signer); err != nil {
		return nil, err
	}
	return m, nil
}

// CommitBytes chunks a byte slice under the category's chunk size and returns
// its concat commitment. Used for session exports, which are committed and
// receipted without a full manifest.
func CommitBytes(data []byte, category contracts.ArtifactType) (*contracts.RootCommitment, error) {
	hashes, err := chunker.New(category).Hashes(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chunking failed: %w", err)
	}
	return commitment.Build(commitment.StrategyConcatSHA256, hashes, category, int64(len(data)))
}
