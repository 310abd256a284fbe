// Package media stores message attachments in an object store and hands
// back the public references recorded on event records.
package media

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/model"
)

// Store uploads and frees message media.
type Store interface {
	// Upload writes data and returns a reference whose ID can later be
	// passed to Delete.
	Upload(ctx context.Context, data []byte, filename, mimeType string) (*model.MediaRef, error)
	// Delete removes the object with id. A missing object reports false.
	Delete(ctx context.Context, id string) (bool, error)
}

// Bucket is the narrow object API the Uploader needs.
type Bucket interface {
	Write(ctx context.Context, key, contentType string, data []byte) error
	Remove(ctx context.Context, key string) (existed bool, err error)
	Name() string
}

// Uploader implements Store over a Bucket.
type Uploader struct {
	bucket    Bucket
	prefix    string
	cdnDomain string
}

// NewUploader creates an Uploader writing keys under prefix. Public URLs use
// cdnDomain when set, the storage.googleapis.com host otherwise.
func NewUploader(b Bucket, prefix, cdnDomain string) *Uploader {
	return &Uploader{
		bucket:    b,
		prefix:    strings.Trim(prefix, "/"),
		cdnDomain: strings.TrimSuffix(cdnDomain, "/"),
	}
}

// Upload stores data under a fresh key.
func (u *Uploader) Upload(ctx context.Context, data []byte, filename, mimeType string) (*model.MediaRef, error) {
	if len(data) == 0 {
		return nil, eris.New("media: empty upload")
	}
	if mimeType == "" {
		mimeType = contentTypeForKey(filename)
	}

	key := uuid.New().String() + extensionFor(filename, mimeType)
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}

	if err := u.bucket.Write(ctx, key, mimeType, data); err != nil {
		return nil, eris.Wrapf(err, "media: upload %s", key)
	}

	zap.L().Debug("media: uploaded",
		zap.String("key", key),
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(data)),
	)
	return &model.MediaRef{ID: key, URL: u.PublicURL(key), MimeType: mimeType}, nil
}

// Delete removes the object with id.
func (u *Uploader) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	existed, err := u.bucket.Remove(ctx, id)
	if err != nil {
		return false, eris.Wrapf(err, "media: delete %s", id)
	}
	return existed, nil
}

// PublicURL returns the URL an object is served from.
func (u *Uploader) PublicURL(key string) string {
	if u.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", u.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket.Name(), key)
}

func extensionFor(filename, mimeType string) string {
	if ext := strings.ToLower(path.Ext(filename)); ext != "" && contentTypeForKey(ext) != "" {
		return ext
	}
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	}
	return ""
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	default:
		return ""
	}
}
