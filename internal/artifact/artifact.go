// Package artifact stores rendered fiscal payloads and printable receipts.
// Both stores implement core.ArtifactStore.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var ErrInvalidKey = errors.New("artifact: invalid key")

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// ── Local directory ───────────────────────────────────────────────────────────

type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &DirStore{root: root}, nil
}

// Put writes data atomically and returns the file path.
func (s *DirStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return dst, nil
}

// ── Google Cloud Storage ──────────────────────────────────────────────────────

type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSClient prefers explicit credentials JSON and falls back to
// Application Default Credentials.
func NewGCSClient(ctx context.Context, credentialsJSON string) (*storage.Client, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

// NewGCSStore checks the bucket is reachable before returning.
func NewGCSStore(ctx context.Context, client *storage.Client, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("artifact bucket is required")
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put uploads data and returns its gs:// URI.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	wc := s.client.Bucket(s.bucket).Object(k).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload %s: %w", k, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", k, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, k), nil
}
