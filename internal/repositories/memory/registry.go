// Package memory provides in-process repository implementations for local runs and tests.
package memory

import (
	"context"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/repositories"
)

// Registry bundles the in-memory repositories behind repositories.Registry.
type Registry struct {
	collections *CollectionRepository
	groups      *GroupRepository
	decisions   *DecisionRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() (*Registry, error) {
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: func(ctx context.Context) error { return ctx.Err() }},
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		collections: NewCollectionRepository(),
		groups:      NewGroupRepository(),
		decisions:   NewDecisionRepository(),
		health:      health,
	}, nil
}

// Seed loads fixtures into the registry.
func (r *Registry) Seed(collections []domain.Collection, groups []domain.GroupMembership, names map[string]string) {
	for _, collection := range collections {
		r.collections.PutCollection(collection)
	}
	for _, group := range groups {
		r.groups.PutGroup(group)
	}
	for id, name := range names {
		r.collections.PutRestaurantName(id, name)
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Collections() repositories.CollectionRepository { return r.collections }

func (r *Registry) Groups() repositories.GroupRepository { return r.groups }

func (r *Registry) Decisions() repositories.DecisionRepository { return r.decisions }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
