package repositories

import (
	"context"
	"time"

	domain "github.com/forkcast/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Collections() CollectionRepository
	Groups() GroupRepository
	Decisions() DecisionRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CollectionRepository reads restaurant collections owned by users or groups.
type CollectionRepository interface {
	FindCollection(ctx context.Context, collectionID string) (domain.Collection, error)
	ListRestaurantIDs(ctx context.Context, collectionID string) ([]string, error)
	RestaurantNames(ctx context.Context, restaurantIDs []string) (map[string]string, error)
}

// GroupRepository resolves group membership. Membership itself is owned outside the engine.
type GroupRepository interface {
	Membership(ctx context.Context, groupID string) (domain.GroupMembership, error)
	IsAdmin(ctx context.Context, groupID string, userID string) (bool, error)
}

// DecisionMutator edits a decision inside a conditional update. Returning an error aborts the write.
type DecisionMutator func(decision *domain.Decision) error

// DecisionRepository persists decisions. Every mutation is atomic: either it applies in full or the
// stored decision is left untouched.
type DecisionRepository interface {
	// Insert stores a new decision unless its collection already has an active decision.
	Insert(ctx context.Context, decision domain.Decision) (domain.Decision, error)
	FindByID(ctx context.Context, decisionID string) (domain.Decision, error)
	// TransitionStatus applies mutate only when the stored status equals expected.
	TransitionStatus(ctx context.Context, decisionID string, expected domain.DecisionStatus, mutate DecisionMutator) (domain.Decision, error)
	// UpsertVote replaces the caller's vote while the decision is active.
	UpsertVote(ctx context.Context, decisionID string, vote domain.Vote, updatedAt time.Time) (domain.Decision, error)
	Query(ctx context.Context, query DecisionQuery) ([]domain.Decision, error)
	ListCompletedByCollection(ctx context.Context, collectionID string) ([]domain.Decision, error)
	ListExpiredActive(ctx context.Context, before time.Time, limit int) ([]domain.Decision, error)
}

// HealthRepository aggregates dependency health information for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// DecisionQuery filters decision history. Zero values disable a filter. Results are ordered by
// visitDate then createdAt, newest first.
type DecisionQuery struct {
	CollectionID  string
	GroupID       string
	Type          domain.DecisionType
	Status        domain.DecisionStatus
	RestaurantID  string
	ParticipantID string
	VisitDate     domain.RangeQuery[time.Time]
	Limit         int
	Offset        int
}

// Matches reports whether the decision satisfies every filter in the query.
func (q DecisionQuery) Matches(decision domain.Decision) bool {
	if q.CollectionID != "" && decision.CollectionID != q.CollectionID {
		return false
	}
	if q.GroupID != "" && decision.GroupID != q.GroupID {
		return false
	}
	if q.Type != "" && decision.Type != q.Type {
		return false
	}
	if q.Status != "" && decision.Status != q.Status {
		return false
	}
	if q.RestaurantID != "" {
		if decision.Result == nil || decision.Result.RestaurantID != q.RestaurantID {
			return false
		}
	}
	if q.ParticipantID != "" && !decision.IsParticipant(q.ParticipantID) && decision.CreatedBy != q.ParticipantID {
		return false
	}
	if from := q.VisitDate.From; from != nil && decision.VisitDate.Before(*from) {
		return false
	}
	if to := q.VisitDate.To; to != nil && decision.VisitDate.After(*to) {
		return false
	}
	return true
}

// NewestFirst orders decisions by visit date then creation time, most recent first.
func NewestFirst(a, b domain.Decision) int {
	if !a.VisitDate.Equal(b.VisitDate) {
		if a.VisitDate.After(b.VisitDate) {
			return -1
		}
		return 1
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}
