// Package fetch provides chunk-fetch capabilities for the streaming verified
// transfer. The engine places no constraint on transport: a fetcher returns
// the raw bytes for a chunk index and nothing else. Retry and backoff policy
// belong to the fetcher or its caller, not to the verification engine.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/time/rate"
)

// Fetcher retrieves the raw bytes of one chunk by index.
type Fetcher interface {
	Fetch(ctx context.Context, index int) ([]byte, error)
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, index int) ([]byte, error)

func (f Func) Fetch(ctx context.Context, index int) ([]byte, error) {
	return f(ctx, index)
}

// FileFetcher reads chunks from a local file by offset. Used for verifying
// already-downloaded artifacts and in tests.
type FileFetcher struct {
	file      *os.File
	chunkSize int
	totalSize int64
}

// NewFileFetcher opens the file for chunked reads.
func NewFileFetcher(path string, chunkSize int) (*FileFetcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat artifact file: %w", err)
	}
	return &FileFetcher{file: f, chunkSize: chunkSize, totalSize: info.Size()}, nil
}

func (f *FileFetcher) Fetch(ctx context.Context, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offset := int64(index) * int64(f.chunkSize)
	if offset >= f.totalSize {
		return nil, fmt.Errorf("chunk index %d is past end of file", index)
	}

	size := int64(f.chunkSize)
	if offset+size > f.totalSize {
		size = f.totalSize - offset
	}

	buf := make([]byte, size)
	if _, err := f.file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("chunk read at index %d failed: %w", index, err)
	}
	return buf, nil
}

// Close releases the underlying file.
func (f *FileFetcher) Close() error {
	return f.file.Close()
}

// RateLimited wraps a fetcher with a token-bucket limiter on fetch calls.
// This caps how fast chunks are pulled from a shared origin; it is not a
// retry layer.
type RateLimited struct {
	inner   Fetcher
	limiter *rate.Limiter
}

// NewRateLimited allows fetchesPerSecond sustained fetches with the given
// burst.
func NewRateLimited(inner Fetcher, fetchesPerSecond float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(fetchesPerSecond), burst),
	}
}

func (r *RateLimited) Fetch(ctx context.Context, index int) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Fetch(ctx, index)
}
