//go:build gcp

package fetch

import (
	"context"
	"fmt"
	"os"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

func newGCSFetcherFromEnv(ctx context.Context, m *contracts.ArtifactManifest) (Fetcher, error) {
	bucket := os.Getenv("VERITY_GCS_BUCKET")
	object := os.Getenv("VERITY_GCS_OBJECT")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("VERITY_GCS_BUCKET and VERITY_GCS_OBJECT are required for gcs source")
	}

	return NewGCSFetcher(ctx, GCSFetcherConfig{
		Bucket:    bucket,
		Object:    object,
		ChunkSize: m.Metadata.ChunkSize,
		TotalSize: m.Metadata.Size,
	})
}
