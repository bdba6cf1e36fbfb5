// Package firestore implements the decision engine stores on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/forkcast/api/internal/platform/firestore"
	"github.com/forkcast/api/internal/repositories"
)

// Registry exposes the Firestore-backed repositories. Additional dependency checks (Pub/Sub,
// Redis, Secret Manager) are probed alongside Firestore on readiness.
type Registry struct {
	provider    *pfirestore.Provider
	collections *CollectionRepository
	groups      *GroupRepository
	decisions   *DecisionRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

func NewRegistry(provider *pfirestore.Provider, checks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	collections, err := NewCollectionRepository(provider)
	if err != nil {
		return nil, err
	}
	groups, err := NewGroupRepository(provider)
	if err != nil {
		return nil, err
	}
	decisions, err := NewDecisionRepository(provider)
	if err != nil {
		return nil, err
	}

	all := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   provider.Ping,
	}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		collections: collections,
		groups:      groups,
		decisions:   decisions,
		health:      health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Collections() repositories.CollectionRepository { return r.collections }

func (r *Registry) Groups() repositories.GroupRepository { return r.groups }

func (r *Registry) Decisions() repositories.DecisionRepository { return r.decisions }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
