//go:build !gcp

package fetch

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

func newGCSFetcherFromEnv(_ context.Context, _ *contracts.ArtifactManifest) (Fetcher, error) {
	return nil, fmt.Errorf("GCS fetch is not enabled in this build (use -tags gcp)")
}
