package imagestore

import (
	"context"
	"fmt"
	"strings"
)

// Fetcher downloads image bytes by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Router sends each URL to the fetcher that can serve it: the S3 store for
// URLs under its base, the directory store for file:// URLs and the HTTP
// fetcher for everything else over http or https. Any of them may be nil.
type Router struct {
	S3   *S3Store
	Dir  *DirStore
	HTTP Fetcher
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, url string) ([]byte, error) {
	if r.S3 != nil {
		if _, ok := r.S3.KeyFor(url); ok {
			return r.S3.Fetch(ctx, url)
		}
	}
	switch {
	case strings.HasPrefix(url, "file://"):
		if r.Dir == nil {
			return nil, fmt.Errorf("no local store configured for %s", url)
		}
		return r.Dir.Fetch(ctx, url)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		if r.HTTP == nil {
			return nil, fmt.Errorf("no http fetcher configured for %s", url)
		}
		return r.HTTP.Fetch(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported image url %q", url)
	}
}
