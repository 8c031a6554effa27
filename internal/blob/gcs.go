package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Object describes one stored blob.
type Object struct {
	Name        string
	Size        int64
	Updated     time.Time
	ContentType string
}

// GCSStore is the Google Cloud Storage blob adapter. Listings are eventually
// consistent; reads and writes are per-object atomic, last writer wins.
type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must be provided to create a storage client")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	return &GCSStore{client: client, bucket: bucket}, nil
}

// Bucket returns the bucket name, used to form gs:// URIs.
func (s *GCSStore) Bucket() string {
	return s.bucket
}

// List returns every object under prefix, sorted by name. Shard selection is
// computed over this sorted order, so the sort is load-bearing.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		objects = append(objects, Object{
			Name:        attrs.Name,
			Size:        attrs.Size,
			Updated:     attrs.Updated,
			ContentType: attrs.ContentType,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

func (s *GCSStore) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, name, err)
	}
	return data, nil
}

// Download streams the object to destPath so large files never sit fully in
// memory.
func (s *GCSStore) Download(ctx context.Context, name, destPath string) error {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open gs://%s/%s: %w", s.bucket, name, err)
	}
	defer r.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("copy gs://%s/%s to %s: %w", s.bucket, name, destPath, err)
	}
	return nil
}

func (s *GCSStore) Write(ctx context.Context, name string, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, name, err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, name string) error {
	if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil {
		return fmt.Errorf("delete gs://%s/%s: %w", s.bucket, name, err)
	}
	return nil
}

// SignedURL returns a V4 signed URL for the object. method is "GET" or "PUT".
func (s *GCSStore) SignedURL(name, method string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign gs://%s/%s: %w", s.bucket, name, err)
	}
	return url, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
