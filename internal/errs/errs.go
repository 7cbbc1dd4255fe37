// Package errs provides structured error types for the stream supervisor.
package errs

import (
	"strconv"
	"strings"
)

// Category classifies a failure along the propagation policy described
// for the supervisor: construction and caller errors are returned to the
// caller, transient and unrepairable errors only ever surface through a
// stream's status, signals, and query surface.
type Category string

const (
	// CategoryConstruction covers failures raised while building a Manager
	// (unknown exchange, invalid license).
	CategoryConstruction Category = "construction"
	// CategoryCaller covers caller mistakes (missing endpoint, rejected
	// unsubscribe, exceeding a subscription cap).
	CategoryCaller Category = "caller"
	// CategoryTransient covers recoverable network failures that trigger a
	// restart.
	CategoryTransient Category = "transient"
	// CategoryUnrepairable covers failures that terminate a stream.
	CategoryUnrepairable Category = "unrepairable"
)

// Code identifies a narrower error family within a Category.
type Code string

const (
	CodeUnknownExchange     Code = "unknown_exchange"
	CodeInvalidLicense      Code = "invalid_license"
	CodeMissingEndpoint     Code = "missing_endpoint"
	CodeUnsupportedOp       Code = "unsupported_operation"
	CodeSubscriptionCapExceeded Code = "subscription_cap_exceeded"
	CodeNetwork             Code = "network"
	CodeUpgradeRejected     Code = "upgrade_rejected"
	CodeProtocol            Code = "protocol"
)

// E is the structured error envelope used across the module.
type E struct {
	Category Category
	Code     Code
	Message  string
	Stream   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error of the given category/code.
func New(category Category, code Code, opts ...Option) *E {
	e := &E{Category: category, Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithStream records which stream id the error pertains to.
func WithStream(streamID string) Option {
	return func(e *E) { e.Stream = streamID }
}

// WithCause sets the underlying cause.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 5)
	parts = append(parts, "category="+string(e.Category))
	if e.Code != "" {
		parts = append(parts, "code="+string(e.Code))
	}
	if e.Stream != "" {
		parts = append(parts, "stream="+e.Stream)
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

// Is supports errors.Is comparisons by category+code, ignoring message/cause.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok || other == nil || e == nil {
		return false
	}
	return e.Category == other.Category && e.Code == other.Code
}

// UnknownExchange builds the fatal construction error for an unrecognized
// exchange name.
func UnknownExchange(name string) *E {
	return New(CategoryConstruction, CodeUnknownExchange, WithMessage("unknown exchange: "+name))
}

// MissingEndpoint builds the caller error for CreateStream without an
// endpoint.
func MissingEndpoint() *E {
	return New(CategoryCaller, CodeMissingEndpoint, WithMessage("endpoint is required"))
}

// UnsupportedUnsubscribe builds the caller error returned by
// UnsubscribeFromStream (see SPEC_FULL.md §9, Open Question 1).
func UnsupportedUnsubscribe() *E {
	return New(CategoryCaller, CodeUnsupportedOp, WithMessage("unsubscribe is not implemented at the wire level"))
}

// SubscriptionCapExceeded builds the caller error returned when a merge
// would exceed the configured per-family subscription cap.
func SubscriptionCapExceeded(streamID string, limit, requested int) *E {
	return New(CategoryCaller, CodeSubscriptionCapExceeded,
		WithStream(streamID),
		WithMessage("subscription cap exceeded: limit="+strconv.Itoa(limit)+" requested="+strconv.Itoa(requested)))
}
