package common

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding whether to retry, reject,
// or escalate. Kinds cross process boundaries as stable strings.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindTenantViolation  Kind = "tenant_violation"
	KindStorageTransient Kind = "storage_transient"
	KindStorageFatal     Kind = "storage_fatal"
	KindIntegrity        Kind = "integrity"
	KindConflict         Kind = "conflict"
)

// Error is the kind-carrying error used throughout the accounting core.
// It participates in errors.Is and errors.As chains.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two Errors by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E builds a new kinded error.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message, preserving the chain.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost kinded error in the chain, or
// "" for unkinded errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the operation may succeed on retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindStorageTransient, KindConflict:
		return true
	}
	return false
}
