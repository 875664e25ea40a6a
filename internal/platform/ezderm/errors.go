package ezderm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an upstream failure. The gateway only classifies;
// retry policy belongs to the caller (the queue runtime retries Transient
// failures with backoff, everything else fails the attempt outright).
type ErrorKind int

const (
	// KindUnauthorized means the access token was rejected. The gateway
	// performs exactly one refresh-and-retry cycle per call before
	// surfacing this.
	KindUnauthorized ErrorKind = iota
	// KindNotFound means the resource does not exist upstream.
	KindNotFound
	// KindTransient covers timeouts, connection failures, 429 and 5xx.
	KindTransient
	// KindFatal covers everything else (malformed request, 4xx).
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// APIError is the typed error returned by every gateway operation.
type APIError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ezderm %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ezderm %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status code to an ErrorKind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthorized
	case status == 404:
		return KindNotFound
	case status == 408 || status == 429 || status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// IsUnauthorized reports whether err is a gateway error with KindUnauthorized.
func IsUnauthorized(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnauthorized
}

// IsNotFound reports whether err is a gateway error with KindNotFound.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsTransient reports whether err is a gateway error with KindTransient.
// Transient failures should be re-attempted by the queue's backoff schedule.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsFatal reports whether err is a gateway error with KindFatal.
func IsFatal(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindFatal
}
