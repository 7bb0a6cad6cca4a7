package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileStore keeps objects on the local filesystem under basePath/bucket/path.
// Signed URLs point at the API's file route and carry an HMAC over the
// object and expiry.
type FileStore struct {
	basePath      string
	publicBaseURL string
	secret        []byte
	now           func() time.Time
}

// FileStoreOptions configures NewFileStore.
type FileStoreOptions struct {
	BasePath      string
	PublicBaseURL string
	// SigningSecret authenticates signed URLs. A random per-process secret
	// is used when empty.
	SigningSecret string
}

// NewFileStore initializes a FileStore rooted at opts.BasePath.
func NewFileStore(opts FileStoreOptions) (*FileStore, error) {
	basePath := strings.TrimSpace(opts.BasePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	secret := []byte(opts.SigningSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("storage: generate signing secret: %w", err)
		}
	}
	return &FileStore{
		basePath:      basePath,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		secret:        secret,
		now:           time.Now,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) Put(ctx context.Context, bucket, path, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	// Write then rename so readers never observe a half-written object.
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: commit file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(bucket, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, path)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// SignedURL returns PUBLIC_BASE_URL/v1/files/{bucket}/{path}?exp=..&sig=..
func (s *FileStore) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanBucket, err := sanitizeKey(bucket)
	if err != nil {
		return "", err
	}
	cleanPath, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	exp := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.sign(cleanBucket, cleanPath, exp))
	return fmt.Sprintf("%s/v1/files/%s/%s?%s", s.publicBaseURL, cleanBucket, escapePath(cleanPath), q.Encode()), nil
}

// VerifySignature checks an exp/sig pair produced by SignedURL.
func (s *FileStore) VerifySignature(bucket, path, exp, sig string) bool {
	cleanBucket, err := sanitizeKey(bucket)
	if err != nil {
		return false
	}
	cleanPath, err := sanitizeKey(path)
	if err != nil {
		return false
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || s.now().Unix() > expUnix {
		return false
	}
	want := s.sign(cleanBucket, cleanPath, expUnix)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (s *FileStore) sign(bucket, path string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s/%s|%d", bucket, path, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FileStore) resolve(bucket, path string) (string, error) {
	cleanBucket, err := sanitizeKey(bucket)
	if err != nil {
		return "", err
	}
	if strings.Contains(cleanBucket, "/") {
		return "", errors.New("storage: invalid bucket")
	}
	cleanPath, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, cleanBucket, filepath.FromSlash(cleanPath)), nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

var _ Store = (*FileStore)(nil)
