package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure so the transport layer can map it onto an
// HTTP status without inspecting error strings.
type Kind string

const (
	// KindValidation marks rejected caller input.
	KindValidation Kind = "validation"
	// KindNotFound marks a lookup that matched no row.
	KindNotFound Kind = "not_found"
	// KindConflict marks a uniqueness collision with existing data.
	KindConflict Kind = "conflict"
	// KindStore marks a persistence or encoding failure.
	KindStore Kind = "store"
)

var (
	// ErrRunNotFound indicates that no route run exists for the identifier.
	ErrRunNotFound = errors.New("dispatch: route run not found")
	// ErrDriverNotFound indicates that no driver exists for the identifier.
	ErrDriverNotFound = errors.New("dispatch: driver not found")
	// ErrStopNotFound indicates that no stop exists for the identifier.
	ErrStopNotFound = errors.New("dispatch: stop not found")
	// ErrProtectedDriver indicates an attempt to renumber the reserved unassigned bucket.
	ErrProtectedDriver = errors.New("dispatch: driver 0 cannot be renamed")
	// ErrDuplicateDriverNumber indicates that another driver on the same day already holds the number.
	ErrDuplicateDriverNumber = errors.New("dispatch: driver number already in use")
	// ErrInvalidDriverCount indicates a non-positive requested driver count.
	ErrInvalidDriverCount = errors.New("dispatch: driver count must be at least one")
	// ErrInvalidDriverNumber indicates a negative requested driver number.
	ErrInvalidDriverNumber = errors.New("dispatch: driver number must not be negative")
	// ErrInvalidPosition indicates a negative route position.
	ErrInvalidPosition = errors.New("dispatch: position must not be negative")
	// ErrInvalidSnapshot indicates that a stored snapshot payload cannot be decoded.
	ErrInvalidSnapshot = errors.New("dispatch: invalid snapshot payload")
)

// ServiceError carries the failure kind plus an operation-scoped code such as
// dispatch.apply_run.run_not_found.
type ServiceError struct {
	kind   Kind
	code   string
	reason string
	err    error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation-scoped failure code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *ServiceError) Kind() Kind {
	return e.kind
}

// Reason returns the short failure reason without the operation prefix.
func (e *ServiceError) Reason() string {
	return e.reason
}

func newServiceError(kind Kind, operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{kind: kind, code: code, reason: reason, err: cause}
}

func newValidationError(operation, reason string, cause error) error {
	return newServiceError(KindValidation, operation, reason, cause)
}

func newNotFoundError(operation, reason string, cause error) error {
	return newServiceError(KindNotFound, operation, reason, cause)
}

func newConflictError(operation, reason string, cause error) error {
	return newServiceError(KindConflict, operation, reason, cause)
}

func newStoreError(operation, reason string, cause error) error {
	return newServiceError(KindStore, operation, reason, cause)
}

// KindOf extracts the failure classification from err; unclassified errors
// report KindStore.
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind()
	}
	return KindStore
}

// CodeOf extracts the operation-scoped code from err, or the empty string.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

// ReasonOf extracts the short failure reason from err, or the empty string.
func ReasonOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Reason()
	}
	return ""
}
