// Package types holds the JSON shapes shared by every HTTP response.
package types

// SuccessEnvelope is the body of every 2xx response: {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public face of a typed error. Retryable tells clients the
// same request may succeed later (chain or dependency outage).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// ErrorEnvelope is the body of every non-2xx response. RequestID repeats the
// X-Request-Id header.
type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"requestId,omitempty"`
}
