// Package errs provides structured error types and helpers for strategyd services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category produced by the runtime.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeTimeout indicates a bounded-wait request exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeUnavailable indicates the collaborator is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeRejected indicates an order stopped by the risk chain.
	CodeRejected Code = "rejected"
	// CodePersistence indicates a storage-side failure.
	CodePersistence Code = "persistence"
)

// E captures structured error information produced across the strategyd stack.
type E struct {
	Op       string
	Code     Code
	Message  string
	Strategy string
	Symbol   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:       strings.TrimSpace(op),
		Code:     code,
		Message:  "",
		Strategy: "",
		Symbol:   "",
		cause:    nil,
	}
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

// WithStrategy records the strategy identifier associated with the failure.
func WithStrategy(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.Strategy = trimmed
	}
}

// WithSymbol records the instrument symbol associated with the failure.
func WithSymbol(symbol string) Option {
	trimmed := strings.TrimSpace(symbol)
	return func(e *E) {
		e.Symbol = trimmed
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

	if e.Strategy != "" {
		parts = append(parts, "strategy="+e.Strategy)
	}
	if e.Symbol != "" {
		parts = append(parts, "symbol="+e.Symbol)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	e, ok := err.(*E)
	return ok && e != nil && e.Code == code
}
