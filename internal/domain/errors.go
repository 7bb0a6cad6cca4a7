package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBookMissing     = errors.New("book record missing for job")
	ErrMissingInput    = errors.New("missing required input")
	ErrConflict        = errors.New("conflict")
	ErrClaimLost       = errors.New("job claim lost")
)
