package execution

import (
	"errors"
	"fmt"
)

// ErrorKind classifies node and execution failures. The set is stable across
// persistence so stored records remain interpretable.
type ErrorKind string

const (
	// Transient node failures, eligible for per-node retry.
	KindNetwork     ErrorKind = "NETWORK"
	KindTimeout     ErrorKind = "TIMEOUT"
	KindRateLimit   ErrorKind = "RATE_LIMIT"
	KindProvider5xx ErrorKind = "PROVIDER_5XX"
	KindModelError  ErrorKind = "MODEL_ERROR"
	KindUnknown     ErrorKind = "UNKNOWN"

	// Permanent node failures.
	KindAuth           ErrorKind = "AUTH"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	KindHTTP4xx        ErrorKind = "HTTP_4XX"
	KindResponseError  ErrorKind = "RESPONSE_ERROR"

	// Edge and layer specific failures.
	KindConversionError   ErrorKind = "CONVERSION_ERROR"
	KindHILTimeout        ErrorKind = "HIL_TIMEOUT"
	KindResumeStale       ErrorKind = "RESUME_STALE"
	KindResumeBusy        ErrorKind = "RESUME_BUSY"
	KindSchedulerDeadlock ErrorKind = "SCHEDULER_DEADLOCK"
	KindTimeoutWorkflow   ErrorKind = "TIMEOUT_WORKFLOW"
	KindTimeoutNode       ErrorKind = "TIMEOUT_NODE"
	KindCanceled          ErrorKind = "CANCELED"
)

// Retryable reports whether a node failure of this kind may succeed on
// retry without changing the request.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindProvider5xx, KindModelError, KindUnknown:
		return true
	}
	return false
}

// Error is the structured failure recorded on executions and node attempts.
// Context carries kind-specific detail (edge id for conversion failures,
// HTTP status for request failures).
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError constructs a structured execution error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithContext returns a copy of the error carrying an extra context entry.
func (e *Error) WithContext(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Context: ctx}
}

// AsError returns the first *Error in err's chain. When err carries no
// structured error, a KindUnknown wrapper is returned so callers always have
// a kind to act on.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}
	return &Error{Kind: KindUnknown, Message: err.Error()}
}
