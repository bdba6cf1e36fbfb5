package repositories

import (
	"errors"
	"fmt"
)

// DecisionErrorCode enumerates conditional-write failures for decision operations.
type DecisionErrorCode string

const (
	// DecisionErrorActiveExists indicates the collection already has an active decision.
	DecisionErrorActiveExists DecisionErrorCode = "active_decision_exists"
	// DecisionErrorStatusMismatch indicates the stored status differs from the expected status.
	DecisionErrorStatusMismatch DecisionErrorCode = "status_mismatch"
)

// DecisionError reports a rejected conditional write together with the state that caused it.
type DecisionError struct {
	Op       string
	Code     DecisionErrorCode
	Message  string
	Observed string
	Err      error
}

// Error implements the error interface.
func (e *DecisionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *DecisionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *DecisionError) IsNotFound() bool { return false }

// IsConflict implements RepositoryError. Every decision error is a state conflict.
func (e *DecisionError) IsConflict() bool { return e != nil }

// IsUnavailable implements RepositoryError.
func (e *DecisionError) IsUnavailable() bool { return false }

// NewDecisionError constructs a typed decision error.
func NewDecisionError(op string, code DecisionErrorCode, message string) *DecisionError {
	if message == "" {
		message = string(code)
	}
	return &DecisionError{
		Op:      op,
		Code:    code,
		Message: message,
	}
}

// StatusMismatch builds the error returned when a compare-status-then-set finds another status.
func StatusMismatch(op, decisionID, observed string) *DecisionError {
	err := NewDecisionError(op, DecisionErrorStatusMismatch, fmt.Sprintf("decision %s is %s", decisionID, observed))
	err.Observed = observed
	return err
}

// DecisionErrorCodeOf extracts the decision error code, if err carries one.
func DecisionErrorCodeOf(err error) (DecisionErrorCode, bool) {
	var decisionErr *DecisionError
	if errors.As(err, &decisionErr) && decisionErr != nil {
		return decisionErr.Code, true
	}
	return "", false
}

// StoreError implements RepositoryError for stores that are not backed by gRPC status codes.
type StoreError struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing record.
func (e *StoreError) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *StoreError) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.unavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op string, err error) *StoreError {
	return &StoreError{op: op, err: err, notFound: true}
}

// NewConflictError reports a conflicting write.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{op: op, err: err, conflict: true}
}

// NewUnavailableError reports a transient backend outage.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{op: op, err: err, unavailable: true}
}

// IsNotFound reports whether err is a repository error classified as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsUnavailable reports whether err is a repository error classified as unavailable.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
