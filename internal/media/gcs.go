package media

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/shahamT/valley-luz/internal/config"
)

// GCSBucket writes objects to a Google Cloud Storage bucket.
type GCSBucket struct {
	client *storage.Client
	name   string
}

// NewGCSBucket opens a storage client for bucket.
func NewGCSBucket(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSBucket, error) {
	if bucket == "" {
		return nil, eris.New("gcs: bucket name is required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "gcs: create client")
	}
	return &GCSBucket{client: client, name: bucket}, nil
}

// New builds the object store described by cfg.
func New(ctx context.Context, cfg config.MediaConfig) (*Uploader, *GCSBucket, error) {
	b, err := NewGCSBucket(ctx, cfg.Bucket, ClientOptions(cfg.Credentials)...)
	if err != nil {
		return nil, nil, err
	}
	return NewUploader(b, cfg.Prefix, cfg.CDNDomain), b, nil
}

// ClientOptions turns a credentials setting into client options. The value
// may be inline JSON or a file path; empty means application default
// credentials.
func ClientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// Name returns the bucket name.
func (b *GCSBucket) Name() string { return b.name }

// Write uploads data to key.
func (b *GCSBucket) Write(ctx context.Context, key, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return eris.Wrap(err, "gcs: write object")
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "gcs: close writer")
	}
	return nil
}

// Remove deletes key. A missing object is not an error.
func (b *GCSBucket) Remove(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := b.client.Bucket(b.name).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "gcs: delete object %q in bucket %q", key, b.name)
	}
	return true, nil
}

// Close releases the storage client.
func (b *GCSBucket) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
