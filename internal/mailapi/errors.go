package mailapi

import (
	"errors"
	"fmt"
)

// AuthError indicates that authentication failed and the one allowed token
// refresh did not recover it.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth expired: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RateLimitError indicates the rate-limit retry budget was exhausted.
type RateLimitError struct {
	Retries int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry budget (%d) exhausted", e.Retries)
}

// IsRateLimitError reports whether err is a RateLimitError.
func IsRateLimitError(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}

// TransportError indicates a network-level failure, after retries where
// retries apply. Mutating calls surface it immediately.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

// ProtocolError indicates the server returned something the client cannot
// accept: an unexpected status, a malformed payload, a pagination cycle, or
// more pages than the configured ceiling.
type ProtocolError struct {
	Message string

	err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.err }

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pErr *ProtocolError
	return errors.As(err, &pErr)
}

// DeltaExpiredError is the sentinel returned when the server reports a delta
// cursor as gone. Callers fall back to a full fetch and re-baseline; it is
// never a user-visible failure.
type DeltaExpiredError struct {
	FolderID string
}

func (e *DeltaExpiredError) Error() string {
	return fmt.Sprintf("delta cursor expired for folder %s", e.FolderID)
}

// IsDeltaExpired reports whether err is a DeltaExpiredError.
func IsDeltaExpired(err error) bool {
	var dErr *DeltaExpiredError
	return errors.As(err, &dErr)
}
