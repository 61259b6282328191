package fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Fetcher pulls chunks from an S3 object with ranged GetObject calls.
type S3Fetcher struct {
	client    *s3.Client
	bucket    string
	key       string
	chunkSize int
	totalSize int64
}

// S3FetcherConfig holds configuration for S3Fetcher.
type S3FetcherConfig struct {
	Bucket    string
	Key       string
	Region    string
	Endpoint  string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	ChunkSize int
	TotalSize int64
}

// NewS3Fetcher creates an S3-backed chunk fetcher.
func NewS3Fetcher(ctx context.Context, cfg S3FetcherConfig) (*S3Fetcher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Fetcher{
		client:    s3.NewFromConfig(awsCfg, clientOpts),
		bucket:    cfg.Bucket,
		key:       cfg.Key,
		chunkSize: cfg.ChunkSize,
		totalSize: cfg.TotalSize,
	}, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, index int) ([]byte, error) {
	start := int64(index) * int64(f.chunkSize)
	if start >= f.totalSize {
		return nil, fmt.Errorf("chunk index %d is past end of object", index)
	}
	end := start + int64(f.chunkSize) - 1
	if end >= f.totalSize {
		end = f.totalSize - 1
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("chunk fetch at index %d failed: %w", index, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("chunk body read at index %d failed: %w", index, err)
	}
	return data, nil
}
