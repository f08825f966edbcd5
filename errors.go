package stablepay

import (
	"errors"
	"fmt"
)

// Kind classifies a payment-domain error. Transport layers map kinds to
// status codes; the resilience layer uses KindTransient for circuit-breaker
// accounting.
type Kind string

const (
	// KindValidation is bad caller input. Never retried.
	KindValidation Kind = "validation"
	// KindTransient is a network or HTTP failure talking to an upstream.
	// Eligible for circuit-breaker accounting; retry policy is the caller's.
	KindTransient Kind = "transient"
	// KindUpstream is a logical rejection by the provider API (flag != 1).
	KindUpstream Kind = "upstream"
	// KindInsufficientFunds is a withdrawal exceeding the wallet balance.
	KindInsufficientFunds Kind = "insufficient_funds"
	// KindWebhookAuth is a webhook delivery that failed signature
	// verification. Rejected before any state mutation.
	KindWebhookAuth Kind = "webhook_auth"
	// KindNotFound is a reference to an unknown invoice. Acknowledged, not
	// escalated.
	KindNotFound Kind = "not_found"
	// KindUnavailable is a fail-fast rejection while a circuit is open.
	KindUnavailable Kind = "unavailable"
)

// Error is the structured payment-domain error carried across component
// boundaries.
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is matches errors of the same kind, so callers can compare against the
// kind sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// NewError creates a domain error of the given kind.
func NewError(kind Kind, message string, fields map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Fields: fields}
}

// WrapError creates a domain error that wraps an underlying cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, wrapped: cause}
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrTransient         = &Error{Kind: KindTransient}
	ErrUpstream          = &Error{Kind: KindUpstream}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrWebhookAuth       = &Error{Kind: KindWebhookAuth}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
)

// KindOf extracts the domain kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
