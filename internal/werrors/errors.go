// Package werrors defines the tagged error kinds used across the delivery
// engine. Core code returns these; the HTTP layer maps them to status codes.
package werrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP mapping.
type Kind string

const (
	KindNotFound               Kind = "resource_not_found"
	KindAlreadyExists          Kind = "resource_already_exists"
	KindInvalidSignature       Kind = "invalid_signature"
	KindMissingSignature       Kind = "missing_signature"
	KindInvalidSignatureFormat Kind = "invalid_signature_format"
	KindSignatureInternal      Kind = "signature_internal"
	KindProcessing             Kind = "webhook_processing"
	KindTransportUnavailable   Kind = "transport_unavailable"
	KindPublishTimeout         Kind = "publish_timeout"
	KindStorageConflict        Kind = "storage_conflict"
	KindPermanentDelivery      Kind = "permanent_delivery_failure"
	KindRetriableDelivery      Kind = "retriable_delivery_failure"
	KindConfiguration          Kind = "configuration"
	KindInvalidPayload         Kind = "invalid_payload"
)

// Phase names the processing stage an error occurred in.
type Phase string

const (
	PhaseReception        Phase = "reception"
	PhaseValidation       Phase = "validation"
	PhaseSignature        Phase = "signature"
	PhasePreparation      Phase = "preparation"
	PhaseDelivery         Phase = "delivery"
	PhaseResponseHandling Phase = "response_handling"
	PhaseRetryScheduling  Phase = "retry_scheduling"
	PhaseCleanup          Phase = "cleanup"
)

// Error carries a kind, the processing phase, and optional entity references.
// Sensitive details (secrets, expected signatures) must never be placed in
// Msg; they belong in logs at debug level only.
type Error struct {
	Kind        Kind
	Phase       Phase
	WebhookName string
	MessageID   string
	Msg         string
	Err         error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Phase != "" {
		s += " [" + string(e.Phase) + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an Error with the given kind and message.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef constructs an Error with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error around a cause.
func Wrap(kind Kind, phase Phase, msg string, cause error) *Error {
	return &Error{Kind: kind, Phase: phase, Msg: msg, Err: cause}
}

// WithMessage returns a copy tagged with the message id.
func (e *Error) WithMessage(id string) *Error {
	c := *e
	c.MessageID = id
	return &c
}

// WithWebhook returns a copy tagged with the webhook name.
func (e *Error) WithWebhook(name string) *Error {
	c := *e
	c.WebhookName = name
	return &c
}

// KindOf extracts the kind from any error in the chain, or "" if none.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
