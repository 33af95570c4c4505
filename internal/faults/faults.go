// Package faults defines the error taxonomy shared by the domain services.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure so transports can map it to a stable status.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindConflict       Kind = "conflict"
	KindStorageFailure Kind = "storage_failure"
)

var (
	ErrValidation     = &kindError{kind: KindValidation}
	ErrNotFound       = &kindError{kind: KindNotFound}
	ErrForbidden      = &kindError{kind: KindForbidden}
	ErrConflict       = &kindError{kind: KindConflict}
	ErrStorageFailure = &kindError{kind: KindStorageFailure}
)

type kindError struct {
	kind Kind
}

func (e *kindError) Error() string {
	return string(e.kind)
}

// Error carries the failure kind and a dotted code of the form "<package>.<operation>.<reason>".
type Error struct {
	kind Kind
	code string
	err  error
}

// New builds an Error for the provided operation and reason.
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports kind equality against the package sentinels.
func (e *Error) Is(target error) bool {
	var sentinel *kindError
	if errors.As(target, &sentinel) {
		return sentinel.kind == e.kind
	}
	return false
}

// Code returns the stable error code.
func (e *Error) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf extracts the kind from err, defaulting to KindStorageFailure for foreign errors.
func KindOf(err error) Kind {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindStorageFailure
}

// CodeOf extracts the code from err, or returns an empty string.
func CodeOf(err error) string {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.code
	}
	return ""
}

func Validation(operation, reason string, cause error) error {
	return New(KindValidation, operation, reason, cause)
}

func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

func Forbidden(operation, reason string, cause error) error {
	return New(KindForbidden, operation, reason, cause)
}

func Conflict(operation, reason string, cause error) error {
	return New(KindConflict, operation, reason, cause)
}

func Storage(operation, reason string, cause error) error {
	return New(KindStorageFailure, operation, reason, cause)
}
