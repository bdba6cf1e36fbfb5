package repositories

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	domain "github.com/forkcast/api/internal/domain"
)

// BreakerSettings configures the circuit breaker guarding the decision store.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
	Interval         time.Duration
	OnStateChange    func(name string, from, to string)
}

// ResilientDecisionRepository fails fast with an unavailable error once the wrapped store keeps
// reporting outages. Only unavailable errors count as failures; not-found and conflict outcomes
// are normal answers from a healthy store.
type ResilientDecisionRepository struct {
	next    DecisionRepository
	breaker *gobreaker.CircuitBreaker[any]
}

var _ DecisionRepository = (*ResilientDecisionRepository)(nil)

// NewResilientDecisionRepository wraps next with a circuit breaker.
func NewResilientDecisionRepository(next DecisionRepository, settings BreakerSettings) (*ResilientDecisionRepository, error) {
	if next == nil {
		return nil, errors.New("resilient decision repository: repository is required")
	}
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	name := settings.Name
	if name == "" {
		name = "decision-store"
	}
	halfOpen := settings.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpen,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if settings.OnStateChange != nil {
				settings.OnStateChange(name, from.String(), to.String())
			}
		},
	})

	return &ResilientDecisionRepository{next: next, breaker: cb}, nil
}

// State reports the breaker position: "closed", "half-open" or "open".
func (r *ResilientDecisionRepository) State() string {
	return r.breaker.State().String()
}

func guarded[T any](cb *gobreaker.CircuitBreaker[any], op string, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, NewUnavailableError(op, err)
		}
		if out == nil {
			return zero, err
		}
		value, _ := out.(T)
		return value, err
	}
	value, _ := out.(T)
	return value, nil
}

func (r *ResilientDecisionRepository) Insert(ctx context.Context, decision domain.Decision) (domain.Decision, error) {
	return guarded(r.breaker, "decisions.insert", func() (domain.Decision, error) {
		return r.next.Insert(ctx, decision)
	})
}

func (r *ResilientDecisionRepository) FindByID(ctx context.Context, decisionID string) (domain.Decision, error) {
	return guarded(r.breaker, "decisions.get", func() (domain.Decision, error) {
		return r.next.FindByID(ctx, decisionID)
	})
}

func (r *ResilientDecisionRepository) TransitionStatus(ctx context.Context, decisionID string, expected domain.DecisionStatus, mutate DecisionMutator) (domain.Decision, error) {
	return guarded(r.breaker, "decisions.transition", func() (domain.Decision, error) {
		return r.next.TransitionStatus(ctx, decisionID, expected, mutate)
	})
}

func (r *ResilientDecisionRepository) UpsertVote(ctx context.Context, decisionID string, vote domain.Vote, updatedAt time.Time) (domain.Decision, error) {
	return guarded(r.breaker, "decisions.vote", func() (domain.Decision, error) {
		return r.next.UpsertVote(ctx, decisionID, vote, updatedAt)
	})
}

func (r *ResilientDecisionRepository) Query(ctx context.Context, query DecisionQuery) ([]domain.Decision, error) {
	return guarded(r.breaker, "decisions.query", func() ([]domain.Decision, error) {
		return r.next.Query(ctx, query)
	})
}

func (r *ResilientDecisionRepository) ListCompletedByCollection(ctx context.Context, collectionID string) ([]domain.Decision, error) {
	return guarded(r.breaker, "decisions.completed", func() ([]domain.Decision, error) {
		return r.next.ListCompletedByCollection(ctx, collectionID)
	})
}

func (r *ResilientDecisionRepository) ListExpiredActive(ctx context.Context, before time.Time, limit int) ([]domain.Decision, error) {
	return guarded(r.breaker, "decisions.expired", func() ([]domain.Decision, error) {
		return r.next.ListExpiredActive(ctx, before, limit)
	})
}
