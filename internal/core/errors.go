package core

import (
	"errors"
	"fmt"
)

// Error classes shared by every layer. Wrap them with %w and test with
// errors.Is; the HTTP layer maps each class to a status code.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream error")
)

// Validationf returns an ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Upstream wraps a third-party failure so it is reported as ErrUpstream.
func Upstream(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, service, err)
}
