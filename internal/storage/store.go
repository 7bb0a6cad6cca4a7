package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get when no object exists at the path.
var ErrObjectNotFound = errors.New("storage: object not found")

// Store is blob storage addressed by bucket and object path. Put overwrites
// existing objects so repeated writes of a deterministic path are safe.
type Store interface {
	Put(ctx context.Context, bucket, path, contentType string, data []byte) error
	Get(ctx context.Context, bucket, path string) ([]byte, error)
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

// DefaultSignedURLTTL is how long preview URLs stay valid.
const DefaultSignedURLTTL = time.Hour

// ContentTypeForPath guesses a MIME type from an object path extension.
func ContentTypeForPath(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// ExtensionForMIME maps an accepted upload MIME type to a file extension.
func ExtensionForMIME(mime string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0])) {
	case "image/jpeg", "image/jpg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/webp":
		return "webp", true
	}
	return "", false
}
