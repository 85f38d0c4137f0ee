package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeChainUnavailable Code = "CHAIN_UNAVAILABLE"
	CodeChainRejected    Code = "CHAIN_REJECTED"
)

// Metadata is how a code surfaces over HTTP. PublicMessage replaces the
// error's own message on 5xx answers; Details are only echoed when allowed.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type metaFlag uint8

const (
	retryable metaFlag = 1 << iota
	withDetails
)

func meta(status int, public string, flags metaFlag) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&withDetails != 0,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", 0),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", 0),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", 0),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", 0),
	CodeStateConflict: meta(http.StatusBadRequest, "state transition disallowed", withDetails),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", withDetails),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", 0),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),

	CodeChainUnavailable: meta(http.StatusServiceUnavailable, "blockchain node unavailable", retryable|withDetails),
	CodeChainRejected:    meta(http.StatusUnprocessableEntity, "blockchain call rejected", withDetails),
}

func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// StateConflict builds the error returned when an order or session is not in
// one of the statuses an operation requires. The current status is echoed so
// clients can reconcile.
func StateConflict(message string, current any) *Error {
	return New(CodeStateConflict, message).WithDetails(map[string]any{"currentStatus": current})
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
