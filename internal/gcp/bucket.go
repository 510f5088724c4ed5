package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// BucketConfig selects the bucket that holds uploaded files.
type BucketConfig struct {
	Name        string
	CDNDomain   string
	Credentials string
}

// Bucket stores objects in one GCS bucket and hands out public URLs.
type Bucket struct {
	client    *storage.Client
	name      string
	cdnDomain string
}

// NewBucket opens a storage client for cfg.Name.
func NewBucket(ctx context.Context, cfg BucketConfig) (*Bucket, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	opts := append(ClientOptions(cfg.Credentials), option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	slog.Info("GCS bucket configured", "bucket", cfg.Name, "cdn_domain", cfg.CDNDomain)
	return &Bucket{client: client, name: cfg.Name, cdnDomain: cfg.CDNDomain}, nil
}

// Close releases the storage client.
func (b *Bucket) Close() error {
	return b.client.Close()
}

// Upload writes r under key and returns the object's public URL.
func (b *Bucket) Upload(ctx context.Context, key string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write GCS object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %q: %w", key, err)
	}
	return b.PublicURL(key), nil
}

// Download opens the object stored under key.
func (b *Bucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := b.client.Bucket(b.name).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object %q: %w", key, err)
	}
	return rc, nil
}

// Delete removes key. A missing object is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := b.client.Bucket(b.name).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete GCS object %q in bucket %q: %w", key, b.name, err)
	}
	return nil
}

// PublicURL returns the URL clients use to fetch key.
func (b *Bucket) PublicURL(key string) string {
	return publicURL(b.name, b.cdnDomain, key)
}

// GSURI returns the gs:// URI of key, as Cloud Speech expects.
func (b *Bucket) GSURI(key string) string {
	return "gs://" + b.name + "/" + strings.TrimLeft(key, "/")
}

func publicURL(bucket, cdnDomain, key string) string {
	key = strings.TrimLeft(key, "/")
	if cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimRight(cdnDomain, "/"), key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key)
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".m4a":
		return "audio/mp4"
	case ".mp4":
		return "video/mp4"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return ""
	}
}
