//go:build gcp

package fetch

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSFetcher pulls chunks from a Google Cloud Storage object with ranged
// reads.
type GCSFetcher struct {
	client    *storage.Client
	bucket    string
	object    string
	chunkSize int
	totalSize int64
}

// GCSFetcherConfig holds configuration for GCSFetcher.
type GCSFetcherConfig struct {
	Bucket    string
	Object    string
	ChunkSize int
	TotalSize int64
}

// NewGCSFetcher creates a GCS-backed chunk fetcher (uses ADC by default).
func NewGCSFetcher(ctx context.Context, cfg GCSFetcherConfig) (*GCSFetcher, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSFetcher{
		client:    client,
		bucket:    cfg.Bucket,
		object:    cfg.Object,
		chunkSize: cfg.ChunkSize,
		totalSize: cfg.TotalSize,
	}, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, index int) ([]byte, error) {
	start := int64(index) * int64(f.chunkSize)
	if start >= f.totalSize {
		return nil, fmt.Errorf("chunk index %d is past end of object", index)
	}
	length := int64(f.chunkSize)
	if start+length > f.totalSize {
		length = f.totalSize - start
	}

	r, err := f.client.Bucket(f.bucket).Object(f.object).NewRangeReader(ctx, start, length)
	if err != nil {
		return nil, fmt.Errorf("chunk fetch at index %d failed: %w", index, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("chunk body read at index %d failed: %w", index, err)
	}
	return data, nil
}

// Close releases the underlying client.
func (f *GCSFetcher) Close() error {
	return f.client.Close()
}
