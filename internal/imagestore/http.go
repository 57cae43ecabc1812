package imagestore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBytes caps the size of a single downloaded image.
const DefaultMaxBytes int64 = 50 << 20

// DefaultFetchTimeout bounds a single HTTP image download.
const DefaultFetchTimeout = 30 * time.Second

// HTTPFetcher downloads images over HTTP(S).
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a default client
// with DefaultFetchTimeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &HTTPFetcher{client: client, maxBytes: DefaultMaxBytes}
}

// Fetch downloads url and checks that the body is an image.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if !filetype.IsImage(data) {
		return nil, fmt.Errorf("GET %s: body is not an image (content-type %q)", url, resp.Header.Get("Content-Type"))
	}

	log.Debug().
		Str("url", url).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Image downloaded")
	return data, nil
}
