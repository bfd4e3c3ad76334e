package core

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by JobStore lookups for unknown fingerprints.
var ErrJobNotFound = errors.New("job record not found")

// ErrorKind classifies failures so callers can pick the right policy:
// retry, abort, degrade or absorb.
type ErrorKind string

const (
	// KindTransientIO marks connector/network timeouts. Retried with backoff
	// at the connector layer; within a still-succeeding run it is invisible
	// to the user.
	KindTransientIO ErrorKind = "transient_io"
	// KindInputInvalid marks unparseable documents or malformed queries.
	// Surfaced to the user, run aborted without retry.
	KindInputInvalid ErrorKind = "input_invalid"
	// KindStoreUnavailable marks cache/persistence being down. Run-level
	// fatal; must never be silently treated as "no results".
	KindStoreUnavailable ErrorKind = "store_unavailable"
	// KindExternalExpired marks an origin posting that no longer resolves.
	// Drives sweeper status transitions; never surfaced to the user.
	KindExternalExpired ErrorKind = "external_expired"
)

// DomainError wraps an underlying error with a taxonomy kind and the failing
// operation. It supports errors.Is / errors.As chains.
type DomainError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *DomainError) Unwrap() error { return e.Err }

// TransientIO wraps err as a transient I/O failure of op.
func TransientIO(op string, err error) error {
	return &DomainError{Kind: KindTransientIO, Op: op, Err: err}
}

// InputInvalid wraps err as an invalid-input failure of op.
func InputInvalid(op string, err error) error {
	return &DomainError{Kind: KindInputInvalid, Op: op, Err: err}
}

// StoreUnavailable wraps err as a storage outage observed by op.
func StoreUnavailable(op string, err error) error {
	return &DomainError{Kind: KindStoreUnavailable, Op: op, Err: err}
}

// ExternalExpired wraps err as an origin resource that no longer resolves.
func ExternalExpired(op string, err error) error {
	return &DomainError{Kind: KindExternalExpired, Op: op, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain, or "" when the error
// carries no classification.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTransient reports whether err is classified as TransientIO.
func IsTransient(err error) bool { return KindOf(err) == KindTransientIO }

// IsInputInvalid reports whether err is classified as InputInvalid.
func IsInputInvalid(err error) bool { return KindOf(err) == KindInputInvalid }

// IsStoreUnavailable reports whether err is classified as StoreUnavailable.
func IsStoreUnavailable(err error) bool { return KindOf(err) == KindStoreUnavailable }

// IsExternalExpired reports whether err is classified as ExternalExpired.
func IsExternalExpired(err error) bool { return KindOf(err) == KindExternalExpired }
