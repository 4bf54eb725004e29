// Package errs provides structured error types shared across the litebridge connector.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category used to pick the retry policy at the call site.
type Code string

const (
	// CodeNetwork indicates a transient transport failure (timeout, connection drop).
	CodeNetwork Code = "network"
	// CodeExchange indicates the exchange rejected the request (non-2xx).
	CodeExchange Code = "exchange_error"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeSequenceGap indicates a protocol inconsistency in a delta stream.
	CodeSequenceGap Code = "sequence_gap"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates the component is shut down or not ready.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the connector.
type E struct {
	Op      string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{Op: strings.TrimSpace(op), Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw exchange error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the category from an error produced by this package,
// unwrapping as needed. Returns an empty code for foreign errors.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the error category is safe to retry blindly.
// Exchange rejections are not: the exchange may have applied the request
// despite a client-side failure.
func IsRetryable(err error) bool {
	code := CodeOf(err)
	return code == CodeNetwork || code == CodeUnavailable
}
