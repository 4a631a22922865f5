package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures into the stable categories the
// engine's retry policy acts on.
type ErrorKind string

const (
	KindAuth           ErrorKind = "AUTH"
	KindRateLimit      ErrorKind = "RATE_LIMIT"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	KindModelError     ErrorKind = "MODEL_ERROR"
	KindNetwork        ErrorKind = "NETWORK"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindResponseError  ErrorKind = "RESPONSE_ERROR"
	KindUnknown        ErrorKind = "UNKNOWN"
)

// Retryable reports whether the failure may succeed on retry without
// changing the request.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindNetwork, KindTimeout, KindModelError:
		return true
	}
	return false
}

// ProviderError describes a failure returned by a model provider. It crosses
// package boundaries so the engine can surface stable, structured
// information without knowing provider SDKs.
type ProviderError struct {
	provider string
	kind     ErrorKind
	http     int
	message  string
	cause    error
}

// NewProviderError constructs a ProviderError. provider and kind are
// required; cause may be nil but is recommended to preserve the chain.
func NewProviderError(provider string, kind ErrorKind, httpStatus int, message string, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{provider: provider, kind: kind, http: httpStatus, message: message, cause: cause}
}

// Provider returns the provider identifier (for example, "openai").
func (e *ProviderError) Provider() string { return e.provider }

// Kind returns the coarse-grained classification.
func (e *ProviderError) Kind() ErrorKind { return e.kind }

// HTTPStatus returns the provider HTTP status when available, otherwise 0.
func (e *ProviderError) HTTPStatus() int { return e.http }

// Retryable reports whether retrying the call may succeed.
func (e *ProviderError) Retryable() bool { return e.kind.Retryable() }

func (e *ProviderError) Error() string {
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	if e.http > 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.provider, e.kind, e.http, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.provider, e.kind, msg)
}

// Unwrap preserves the original error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyHTTP maps an HTTP status to an ErrorKind using the shared
// provider conventions: 401/403 auth, 408 timeout, 429 rate limit, other
// 4xx invalid request, 5xx model error.
func ClassifyHTTP(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindRateLimit
	case status >= 400 && status < 500:
		return KindInvalidRequest
	case status >= 500:
		return KindModelError
	}
	return KindUnknown
}
