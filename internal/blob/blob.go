// Package blob fetches receipt images from Google Cloud Storage for the
// scan endpoint.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Fetcher reads objects addressed by gs:// URIs.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// GCSFetcher is the concrete Fetcher backed by Cloud Storage.
type GCSFetcher struct {
	opts []option.ClientOption
}

// NewGCSFetcher creates a fetcher. opts are passed through to the storage
// client, e.g. credentials overrides in development.
func NewGCSFetcher(opts ...option.ClientOption) *GCSFetcher {
	return &GCSFetcher{opts: opts}
}

// Fetch implements Fetcher for "gs://bucket/path/to/object" URIs.
func (f *GCSFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, f.opts...)
	if err != nil {
		return nil, fmt.Errorf("Fetch: create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: open object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Fetch: read object: %w", err)
	}

	return data, nil
}

// ParseURI splits a gs:// URI into bucket and object names.
func ParseURI(uri string) (bucket, object string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("ParseURI: %q is not a gs:// URI", uri)
	}

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("ParseURI: %q has no object path", uri)
	}

	return parts[0], parts[1], nil
}

// Filename extracts the base filename from a gs:// URI.
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
