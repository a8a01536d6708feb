package pos

import (
	"errors"
	"fmt"
)

// AuthError means the POS refused our credentials, even after one re-authentication.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("pos %s: authentication failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError is a definite failure: the POS answered with an error status or
// a payload we could not use. StatusCode is 0 when no response was received.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("pos %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("pos %s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// TimeoutError means the outcome of the call is unknown. For order submission
// the POS may or may not have accepted the order.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pos %s: outcome unknown: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

var (
	errMalformed  = errors.New("malformed response")
	errNoProducts = errors.New("nomenclature contains no products")
)

func isAuthStatus(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && (ue.StatusCode == 401 || ue.StatusCode == 403)
}

// isTransient reports failures worth one more attempt: timeouts, dropped
// connections and 5xx answers.
func isTransient(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var ue *UpstreamError
	return errors.As(err, &ue) && (ue.StatusCode == 0 || ue.StatusCode >= 500)
}
