package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPRangeFetcher pulls chunks from an HTTP origin with Range requests.
type HTTPRangeFetcher struct {
	client    *http.Client
	url       string
	chunkSize int
	totalSize int64
}

// NewHTTPRangeFetcher creates a fetcher for a single artifact URL. A nil
// client uses http.DefaultClient; timeouts belong on the supplied client.
func NewHTTPRangeFetcher(client *http.Client, url string, chunkSize int, totalSize int64) *HTTPRangeFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRangeFetcher{
		client:    client,
		url:       url,
		chunkSize: chunkSize,
		totalSize: totalSize,
	}
}

func (f *HTTPRangeFetcher) Fetch(ctx context.Context, index int) ([]byte, error) {
	start := int64(index) * int64(f.chunkSize)
	if start >= f.totalSize {
		return nil, fmt.Errorf("chunk index %d is past end of artifact", index)
	}
	end := start + int64(f.chunkSize) - 1
	if end >= f.totalSize {
		end = f.totalSize - 1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chunk fetch at index %d failed: %w", index, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chunk fetch at index %d: unexpected status %s", index, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, end-start+1))
	if err != nil {
		return nil, fmt.Errorf("chunk body read at index %d failed: %w", index, err)
	}
	return data, nil
}
