// Package errors implements the error taxonomy of the ETL core: a closed
// set of kinds (not Go types) that every stage classifies its failures
// into before deciding whether to retry locally, nack for redelivery, or
// surface the failure to the orchestrator.
//
// The calling convention (sentinel.WithCause(err)) mirrors the teacher's
// domainerrors package as used from application/service call sites
// (e.g. ai_generation_service.go's domainerrors.ErrInternal.WithCause(err));
// that package's own source was not present in the retrieved slice, so its
// shape is reconstructed here from its call sites.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for propagation-policy decisions (spec §7).
type Kind string

const (
	// KindRateLimited is not a failure; it drives the rate-limit
	// completion-message path instead of retry/failure handling.
	KindRateLimited Kind = "rate_limited"
	// KindTransient covers network errors, 5xx, and broker visibility
	// timeouts. Recovered locally with bounded retry and back-off.
	KindTransient Kind = "transient"
	// KindPermanent covers 4xx (other than auth) and payloads that fail
	// to parse. Acked and skipped with a warning.
	KindPermanent Kind = "permanent"
	// KindAuthFailure is a 401/403 from a provider. Fails the job.
	KindAuthFailure Kind = "auth_failure"
	// KindDataIntegrity is a database constraint violation surviving
	// upsert conflict resolution. Fails the job for operator triage.
	KindDataIntegrity Kind = "data_integrity"
	// KindInternal is a programmer error. Fails the job; redelivery is
	// expected to reproduce it.
	KindInternal Kind = "internal"
)

// Error is the taxonomy's concrete type. Stages type-assert to
// *Error (via As) to read Kind and decide how to propagate.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Resource and ResetAt are populated for KindRateLimited.
	Resource string
	ResetAt  int64 // unix seconds; 0 if unknown
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// WithCause returns a copy of the sentinel error with Cause set. This is
// the idiom used throughout the application/service layer:
// domainerrors.ErrJobNotFound.WithCause(err).
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.Cause = cause
	return &clone
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// RateLimited builds a KindRateLimited error carrying the resource class
// and provider-reported reset time, as required by the extract stage's
// checkpoint-and-complete path (spec §4.2).
func RateLimited(resource string, resetAt int64) *Error {
	return &Error{
		Kind:     KindRateLimited,
		Message:  fmt.Sprintf("rate limit reached for resource %q", resource),
		Resource: resource,
		ResetAt:  resetAt,
	}
}

func Transient(cause error) *Error {
	return &Error{Kind: KindTransient, Message: "transient failure", Cause: cause}
}

func Permanent(cause error) *Error {
	return &Error{Kind: KindPermanent, Message: "permanent failure, skipping", Cause: cause}
}

// Sentinel errors for common, named failure cases across the domain.
var (
	ErrTenantNotFound      = New(KindPermanent, "tenant not found")
	ErrIntegrationNotFound = New(KindPermanent, "integration not found")
	ErrJobNotFound         = New(KindPermanent, "job not found")
	ErrJobAlreadyRunning   = New(KindPermanent, "another job is already running for this tenant")
	ErrJobLockLost         = New(KindPermanent, "lost the compare-and-set lock on job status")
	ErrAuthFailure         = New(KindAuthFailure, "provider rejected credentials")
	ErrDataIntegrity       = New(KindDataIntegrity, "data integrity violation")
	ErrInternal            = New(KindInternal, "internal error")
	ErrParentRowMissing    = New(KindPermanent, "parent row not found for nested payload")
)

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that were never classified (programmer errors, nil derefs, bad casts).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRateLimited reports whether err (or any error it wraps) is a
// rate-limit signal.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}
