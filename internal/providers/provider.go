package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TextRequest is a chat-style prompt expecting a JSON object back.
type TextRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// TextGenerator returns the raw model content for a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// ImageRequest asks for one image. A non-empty Reference switches the model
// into transform mode.
type ImageRequest struct {
	Prompt        string
	Reference     []byte
	ReferenceMIME string
}

// Image is decoded image bytes.
type Image struct {
	Data     []byte
	MIMEType string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
}

// Error is a failed capability call. Retryable marks failures that may
// succeed on a later attempt.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Retryable  bool
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoImage means the response carried no image payload.
var ErrNoImage = errors.New("response contained no image")

// RetryableStatus reports whether an HTTP status is worth another attempt.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}

// IsRetryable classifies an error returned by a capability call. Timeouts and
// network failures are retryable; provider errors say for themselves; a
// cancelled caller is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
