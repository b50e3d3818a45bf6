package domain

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: network timeouts, 429/5xx
// responses, truncated payloads.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v (transient)", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix: the source format or
// contract changed, or the request itself is wrong (4xx other than 429).
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v (permanent)", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Transientf builds a TransientError from a format string.
func Transientf(op, format string, args ...any) error {
	return &TransientError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Permanent wraps err as a PermanentError.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// Permanentf builds a PermanentError from a format string.
func Permanentf(op, format string, args ...any) error {
	return &PermanentError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is classified as transient anywhere in its
// chain.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is classified as permanent anywhere in its
// chain.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
