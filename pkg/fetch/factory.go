package fetch

import (
	"context"
	"fmt"
	"os"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// SourceType represents the transport a fetcher is built on.
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceHTTP SourceType = "http"
	SourceS3   SourceType = "s3"
	SourceGCS  SourceType = "gcs"
)

// NewFetcherFromEnv builds a chunk fetcher for a manifest based on
// environment variables.
//
// Environment variables:
//   - VERITY_FETCH_SOURCE: "file" (default), "http", "s3", or "gcs"
//   - VERITY_FETCH_PATH: local file path (file source)
//   - VERITY_FETCH_URL: artifact URL (http source)
//
// For S3:
//   - AWS_REGION or VERITY_S3_REGION
//   - VERITY_S3_BUCKET, VERITY_S3_KEY (required)
//   - VERITY_S3_ENDPOINT (optional, for MinIO/LocalStack)
//
// For GCS (requires -tags gcp):
//   - VERITY_GCS_BUCKET, VERITY_GCS_OBJECT (required)
func NewFetcherFromEnv(ctx context.Context, m *contracts.ArtifactManifest) (Fetcher, error) {
	source := SourceType(os.Getenv("VERITY_FETCH_SOURCE"))
	if source == "" {
		source = SourceFile
	}

	switch source {
	case SourceFile:
		path := os.Getenv("VERITY_FETCH_PATH")
		if path == "" {
			return nil, fmt.Errorf("VERITY_FETCH_PATH is required for file source")
		}
		return NewFileFetcher(path, m.Metadata.ChunkSize)

	case SourceHTTP:
		url := os.Getenv("VERITY_FETCH_URL")
		if url == "" {
			return nil, fmt.Errorf("VERITY_FETCH_URL is required for http source")
		}
		return NewHTTPRangeFetcher(nil, url, m.Metadata.ChunkSize, m.Metadata.Size), nil

	case SourceS3:
		bucket := os.Getenv("VERITY_S3_BUCKET")
		key := os.Getenv("VERITY_S3_KEY")
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("VERITY_S3_BUCKET and VERITY_S3_KEY are required for s3 source")
		}
		region := os.Getenv("VERITY_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		return NewS3Fetcher(ctx, S3FetcherConfig{
			Bucket:    bucket,
			Key:       key,
			Region:    region,
			Endpoint:  os.Getenv("VERITY_S3_ENDPOINT"),
			ChunkSize: m.Metadata.ChunkSize,
			TotalSize: m.Metadata.Size,
		})

	case SourceGCS:
		return newGCSFetcherFromEnv(ctx, m)

	default:
		return nil, fmt.Errorf("unsupported fetch source: %s", source)
	}
}
