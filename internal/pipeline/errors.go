package pipeline

import (
	"errors"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/providers"
	"github.com/tkendall99/bedtime-solved/internal/story"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that another attempt cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether a step failure should fail the job without
// consuming the remaining attempts. Unparseable model output, missing inputs
// and provider errors that are not retryable all qualify.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var parseErr *story.ParseError
	if errors.As(err, &parseErr) {
		return true
	}
	if errors.Is(err, domain.ErrMissingInput) || errors.Is(err, domain.ErrBookMissing) {
		return true
	}
	var provErr *providers.Error
	if errors.As(err, &provErr) {
		return !provErr.Retryable
	}
	return false
}
