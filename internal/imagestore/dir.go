package imagestore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// DirStore keeps images in a local directory and addresses them with
// file:// URLs.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	return &DirStore{root: abs}, nil
}

// Root returns the absolute directory path.
func (d *DirStore) Root() string { return d.root }

// FileURL returns the file:// URL of an absolute or relative path.
func FileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// Upload writes data to root/key and returns its file:// URL.
func (d *DirStore) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes %s", key, d.root)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("bytes", len(data)).Str("contentType", contentType).Msg("Image written")
	return FileURL(path), nil
}

// Fetch reads a file:// URL. Any local file may be read, not only files
// under root, so original captures can live elsewhere.
func (d *DirStore) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return nil, fmt.Errorf("not a file url: %s", rawURL)
	}
	data, err := readFile(filepath.FromSlash(u.Path))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return readLimited(f, DefaultMaxBytes)
}
