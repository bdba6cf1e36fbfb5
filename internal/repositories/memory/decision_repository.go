package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/repositories"
)

// DecisionRepository keeps decisions in process memory. A single mutex serialises writes so the
// conditional operations behave like the Firestore transactions they stand in for.
type DecisionRepository struct {
	mu        sync.Mutex
	decisions map[string]domain.Decision
	active    map[string]string
}

var _ repositories.DecisionRepository = (*DecisionRepository)(nil)

// NewDecisionRepository constructs an empty repository seeded with the optional decisions.
func NewDecisionRepository(seed ...domain.Decision) *DecisionRepository {
	repo := &DecisionRepository{
		decisions: make(map[string]domain.Decision),
		active:    make(map[string]string),
	}
	for _, decision := range seed {
		repo.decisions[decision.ID] = decision.Clone()
		if decision.Status == domain.DecisionStatusActive {
			repo.active[decision.CollectionID] = decision.ID
		}
	}
	return repo
}

func (r *DecisionRepository) Insert(ctx context.Context, decision domain.Decision) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}
	id := strings.TrimSpace(decision.ID)
	if id == "" {
		return domain.Decision{}, errors.New("memory decisions: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decisions[id]; exists {
		return domain.Decision{}, repositories.NewConflictError("decisions.insert", fmt.Errorf("decision %s already exists", id))
	}
	if holder, ok := r.active[decision.CollectionID]; ok {
		err := repositories.NewDecisionError("decisions.insert", repositories.DecisionErrorActiveExists,
			fmt.Sprintf("collection %s already has active decision %s", decision.CollectionID, holder))
		return domain.Decision{}, err
	}

	stored := decision.Clone()
	r.decisions[id] = stored
	if stored.Status == domain.DecisionStatusActive {
		r.active[stored.CollectionID] = id
	}
	return stored.Clone(), nil
}

func (r *DecisionRepository) FindByID(ctx context.Context, decisionID string) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	decision, ok := r.decisions[decisionID]
	if !ok {
		return domain.Decision{}, repositories.NewNotFoundError("decisions.get", fmt.Errorf("decision %s not found", decisionID))
	}
	return decision.Clone(), nil
}

func (r *DecisionRepository) TransitionStatus(ctx context.Context, decisionID string, expected domain.DecisionStatus, mutate repositories.DecisionMutator) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.decisions[decisionID]
	if !ok {
		return domain.Decision{}, repositories.NewNotFoundError("decisions.transition", fmt.Errorf("decision %s not found", decisionID))
	}
	if current.Status != expected {
		return domain.Decision{}, repositories.StatusMismatch("decisions.transition", decisionID, string(current.Status))
	}

	next := current.Clone()
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return domain.Decision{}, err
		}
	}
	next.ID = current.ID
	next.CollectionID = current.CollectionID

	r.decisions[decisionID] = next
	if next.Status.IsTerminal() && r.active[next.CollectionID] == decisionID {
		delete(r.active, next.CollectionID)
	}
	return next.Clone(), nil
}

func (r *DecisionRepository) UpsertVote(ctx context.Context, decisionID string, vote domain.Vote, updatedAt time.Time) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.decisions[decisionID]
	if !ok {
		return domain.Decision{}, repositories.NewNotFoundError("decisions.vote", fmt.Errorf("decision %s not found", decisionID))
	}
	if current.Status != domain.DecisionStatusActive {
		return domain.Decision{}, repositories.StatusMismatch("decisions.vote", decisionID, string(current.Status))
	}

	next := current.Clone()
	if next.Votes == nil {
		next.Votes = make(map[string]domain.Vote)
	}
	next.Votes[vote.UserID] = vote.Clone()
	next.UpdatedAt = updatedAt
	r.decisions[decisionID] = next
	return next.Clone(), nil
}

func (r *DecisionRepository) Query(ctx context.Context, query repositories.DecisionQuery) ([]domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	matches := make([]domain.Decision, 0)
	for _, decision := range r.decisions {
		if query.Matches(decision) {
			matches = append(matches, decision.Clone())
		}
	}
	r.mu.Unlock()

	slices.SortFunc(matches, repositories.NewestFirst)
	return window(matches, query.Offset, query.Limit), nil
}

func (r *DecisionRepository) ListCompletedByCollection(ctx context.Context, collectionID string) ([]domain.Decision, error) {
	return r.Query(ctx, repositories.DecisionQuery{
		CollectionID: collectionID,
		Status:       domain.DecisionStatusCompleted,
	})
}

func (r *DecisionRepository) ListExpiredActive(ctx context.Context, before time.Time, limit int) ([]domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	expired := make([]domain.Decision, 0)
	for _, decision := range r.decisions {
		if decision.Status == domain.DecisionStatusActive && decision.Deadline.Before(before) {
			expired = append(expired, decision.Clone())
		}
	}
	r.mu.Unlock()

	slices.SortFunc(expired, func(a, b domain.Decision) int {
		return a.Deadline.Compare(b.Deadline)
	})
	return window(expired, 0, limit), nil
}

func window(items []domain.Decision, offset, limit int) []domain.Decision {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []domain.Decision{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
