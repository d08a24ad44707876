package api

import (
	"errors"
	"fmt"
)

// ErrUnauthorized signals that the backend rejected the bearer token on an
// authenticated endpoint, i.e. the access token is expired or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError reports a required field that is missing or malformed.
// It is raised before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// BackendError carries the backend's human-readable detail message for any
// non-401 failure status.
type BackendError struct {
	Status int
	Detail string
}

func (e *BackendError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Detail)
}

// NetworkError wraps a transport-level failure (connection refused, DNS,
// timeout). The flow does not advance on these.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
