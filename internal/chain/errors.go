package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the node could not be reached or did not answer in time.
	// Nothing is known about the call's effect; it is safe to retry.
	ErrUnavailable = errors.New("chain: node unavailable")
	// ErrRejected means the node executed or validated the call and refused it.
	ErrRejected = errors.New("chain: call rejected")
	// ErrMalformed means the node answered with a payload that does not match
	// the expected schema. It is reported as a rejection.
	ErrMalformed = fmt.Errorf("%w: malformed response", ErrRejected)
	// ErrInclusionTimeout means a submitted extrinsic was not observed in a block
	// before the wait expired. It is not a rejection.
	ErrInclusionTimeout = errors.New("chain: inclusion wait timed out")
)

// RejectedError carries the dispatch error reported by the node.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("chain: call rejected (%d): %s", e.Code, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// IsUnavailable reports whether err should be retried later with the same arguments.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInclusionTimeout)
}

// IsRejected reports whether the node refused the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// ErrorClass labels an error for metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrInclusionTimeout):
		return "inclusion_timeout"
	default:
		return "unavailable"
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func malformed(op string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrMalformed, fmt.Sprintf(format, args...))
}
