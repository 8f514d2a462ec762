package errs

import (
	"context"
	"fmt"

	cr "github.com/cockroachdb/errors"
)

// Error taxonomy shared by the reminder engine. Concrete errors are marked
// with one of these sentinels so callers can classify them with errors.Is.
var (
	ErrInvalidProduct   = cr.New("invalid product")
	ErrInvalidSettings  = cr.New("invalid reminder settings")
	ErrStoreUnavailable = cr.New("store unavailable")
	ErrAtLeastOnceRisk  = cr.New("notification sent but dispatch not recorded")
	ErrNotFound         = cr.New("not found")
	ErrChannelDisabled  = cr.New("notification channel disabled")
	ErrConflict         = cr.New("conflict")
)

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}

func New(msg string) error {
	return cr.New(msg)
}

func Newf(format string, args ...any) error {
	return cr.Newf(format, args...)
}

func Mark(err error, markErr error) error {
	if err == nil {
		return markErr
	}
	return cr.Mark(err, markErr)
}

func Is(err, target error) bool {
	return cr.Is(err, target)
}

func As(err error, target any) bool {
	return cr.As(err, target)
}

// InvalidProduct builds an error marked as ErrInvalidProduct
func InvalidProduct(format string, args ...any) error {
	return cr.Mark(cr.Newf(format, args...), ErrInvalidProduct)
}

// InvalidSettings builds an error marked as ErrInvalidSettings
func InvalidSettings(format string, args ...any) error {
	return cr.Mark(cr.Newf(format, args...), ErrInvalidSettings)
}

// Conflict builds an error marked as ErrConflict
func Conflict(format string, args ...any) error {
	return cr.Mark(cr.Newf(format, args...), ErrConflict)
}

// StoreUnavailable wraps a storage failure and marks it retryable
func StoreUnavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Mark(cr.Wrap(err, msg), ErrStoreUnavailable)
}

// TransportError reports a failed outbound notification.
type TransportError struct {
	Channel   string
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s transport error (%s): %v", e.Channel, kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(channel string, retryable bool, err error) error {
	return &TransportError{Channel: channel, Retryable: retryable, Err: err}
}

// IsRetryable reports whether a later run may succeed where this one failed.
// Store outages, timeouts and transport errors flagged retryable qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if cr.Is(err, ErrStoreUnavailable) {
		return true
	}
	var te *TransportError
	if cr.As(err, &te) {
		return te.Retryable
	}
	return cr.Is(err, context.DeadlineExceeded)
}
