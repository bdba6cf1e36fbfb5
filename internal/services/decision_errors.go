package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/forkcast/api/internal/repositories"
)

var (
	// ErrDecisionNotFound indicates a collection, group or decision could not be located.
	ErrDecisionNotFound = errors.New("decision: not found")
	// ErrDecisionInvalidInput indicates malformed input or an unsupported type/method combination.
	ErrDecisionInvalidInput = errors.New("decision: invalid input")
	// ErrDecisionConflict indicates the stored decision is not in a state that allows the operation.
	ErrDecisionConflict = errors.New("decision: state conflict")
	// ErrDecisionUnauthorized indicates the actor may not perform the operation.
	ErrDecisionUnauthorized = errors.New("decision: unauthorized")
	// ErrDecisionUnavailable indicates a transient store failure. Callers may retry with backoff.
	ErrDecisionUnavailable = errors.New("decision: store unavailable")
)

// DecisionFailure is a specific failure reason. It matches its class sentinel with errors.Is and
// carries a stable code for transport layers.
type DecisionFailure struct {
	code    string
	class   error
	message string
}

func newDecisionFailure(code string, class error, message string) *DecisionFailure {
	return &DecisionFailure{code: code, class: class, message: message}
}

func (e *DecisionFailure) Error() string { return e.message }

func (e *DecisionFailure) Unwrap() error { return e.class }

// Code returns the machine readable reason.
func (e *DecisionFailure) Code() string { return e.code }

var (
	ErrCollectionNotFound   = newDecisionFailure("collection_not_found", ErrDecisionNotFound, "decision: collection not found")
	ErrGroupNotFound        = newDecisionFailure("group_not_found", ErrDecisionNotFound, "decision: group not found")
	ErrDecisionMissing      = newDecisionFailure("decision_not_found", ErrDecisionNotFound, "decision: decision not found")
	ErrActiveDecisionExists = newDecisionFailure("active_decision_exists", ErrDecisionConflict, "decision: collection already has an active decision")
	ErrDecisionNotActive    = newDecisionFailure("decision_not_active", ErrDecisionConflict, "decision: decision is no longer active")
	ErrNoVotes              = newDecisionFailure("no_votes", ErrDecisionConflict, "decision: no votes have been submitted")
	ErrUnsupportedMethod    = newDecisionFailure("unsupported_method", ErrDecisionInvalidInput, "decision: method not supported for this decision type")
	ErrWrongMethod          = newDecisionFailure("wrong_method", ErrDecisionInvalidInput, "decision: operation does not apply to this decision method")
	ErrInvalidRanking       = newDecisionFailure("invalid_ranking", ErrDecisionInvalidInput, "decision: invalid ranking")
	ErrEmptyCollection      = newDecisionFailure("empty_collection", ErrDecisionInvalidInput, "decision: collection has no restaurants")
	ErrNotAParticipant      = newDecisionFailure("not_a_participant", ErrDecisionUnauthorized, "decision: user is not a participant")
	ErrNotAuthorized        = newDecisionFailure("not_authorized", ErrDecisionUnauthorized, "decision: user is not authorized")
	ErrStoreUnavailable     = newDecisionFailure("store_unavailable", ErrDecisionUnavailable, "decision: store unavailable")
)

// DecisionErrorCode returns the reason code carried by err, falling back to a code for its class.
func DecisionErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var failure *DecisionFailure
	if errors.As(err, &failure) {
		return failure.code
	}
	switch {
	case errors.Is(err, ErrDecisionNotFound):
		return "not_found"
	case errors.Is(err, ErrDecisionInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDecisionConflict):
		return "conflict"
	case errors.Is(err, ErrDecisionUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrDecisionUnavailable):
		return "store_unavailable"
	}
	return "internal"
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDecisionInvalidInput}, args...)...)
}

// mapStoreError translates repository classifications into the service taxonomy. notFound is the
// reason reported when the store says the record is missing.
func mapStoreError(err error, notFound *DecisionFailure) error {
	if err == nil {
		return nil
	}
	var failure *DecisionFailure
	if errors.As(err, &failure) {
		return err
	}
	if code, ok := repositories.DecisionErrorCodeOf(err); ok {
		switch code {
		case repositories.DecisionErrorActiveExists:
			return fmt.Errorf("%w: %v", ErrActiveDecisionExists, err)
		case repositories.DecisionErrorStatusMismatch:
			return fmt.Errorf("%w: %v", ErrDecisionNotActive, err)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			if notFound == nil {
				notFound = ErrDecisionMissing
			}
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrDecisionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
