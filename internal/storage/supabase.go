package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/infra"
)

// SupabaseOptions configures the Supabase Storage client.
type SupabaseOptions struct {
	BaseURL    string
	ServiceKey string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
	Attempts   uint
	RetryDelay time.Duration
}

// SupabaseStore talks to the Supabase Storage REST API with a service role key.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     zerolog.Logger
	attempts   uint
	retryDelay time.Duration
}

// StatusError is a non-2xx response from the storage API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storage %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("storage %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func NewSupabaseStore(opts SupabaseOptions) (*SupabaseStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("storage: supabase url is required")
	}
	if strings.TrimSpace(opts.ServiceKey) == "" {
		return nil, errors.New("storage: supabase service key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &SupabaseStore{
		baseURL:    baseURL,
		serviceKey: strings.TrimSpace(opts.ServiceKey),
		httpClient: client,
		logger:     infra.LoggerOrNop(opts.Logger),
		attempts:   attempts,
		retryDelay: delay,
	}, nil
}

// Put uploads with x-upsert so a retried step replaces the earlier object.
func (s *SupabaseStore) Put(ctx context.Context, bucket, path, contentType string, data []byte) error {
	if contentType == "" {
		contentType = ContentTypeForPath(path)
	}
	endpoint := s.objectURL("object", bucket, path)
	_, err := s.do(ctx, "upload", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.Header.Set("Cache-Control", "max-age=3600")
		return req, nil
	})
	return err
}

func (s *SupabaseStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	endpoint := s.objectURL("object", bucket, path)
	data, err := s.do(ctx, "download", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && isNotFound(se) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, path)
		}
		return nil, err
	}
	return data, nil
}

func (s *SupabaseStore) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	payload, err := json.Marshal(map[string]int64{"expiresIn": int64(ttl / time.Second)})
	if err != nil {
		return "", err
	}
	endpoint := s.objectURL("object/sign", bucket, path)
	body, err := s.do(ctx, "sign", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("storage sign: decode response: %w", err)
	}
	if out.SignedURL == "" {
		return "", errors.New("storage sign: empty signed url")
	}
	if strings.HasPrefix(out.SignedURL, "http://") || strings.HasPrefix(out.SignedURL, "https://") {
		return out.SignedURL, nil
	}
	return s.baseURL + "/storage/v1/" + strings.TrimLeft(out.SignedURL, "/"), nil
}

func (s *SupabaseStore) objectURL(prefix, bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/%s/%s/%s", s.baseURL, prefix, escapePath(bucket), escapePath(strings.TrimLeft(path, "/")))
}

// do sends the request built by newReq, retrying transport failures, 429
// and 5xx responses.
func (s *SupabaseStore) do(ctx context.Context, op string, newReq func() (*http.Request, error)) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			req, err := newReq()
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+s.serviceKey)
			req.Header.Set("apikey", s.serviceKey)

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("storage %s: %w", op, err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("storage %s: read body: %w", op, err)
			}
			if resp.StatusCode >= http.StatusBadRequest {
				return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			}
			return body, nil
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().Err(err).Str("op", op).Uint("attempt", n+1).Msg("storage request failed, retrying")
		}),
	)
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// isNotFound covers both a plain 404 and the 400 + not_found body some
// Supabase versions return for missing objects.
func isNotFound(se *StatusError) bool {
	if se.StatusCode == http.StatusNotFound {
		return true
	}
	body := strings.ToLower(se.Body)
	return se.StatusCode == http.StatusBadRequest && (strings.Contains(body, "not_found") || strings.Contains(body, "not found"))
}

var _ Store = (*SupabaseStore)(nil)
