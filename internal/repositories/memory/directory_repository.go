package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/repositories"
)

// CollectionRepository serves collections and restaurant names from memory.
type CollectionRepository struct {
	mu          sync.RWMutex
	collections map[string]domain.Collection
	names       map[string]string
}

var _ repositories.CollectionRepository = (*CollectionRepository)(nil)

// NewCollectionRepository constructs a repository seeded with the provided collections.
func NewCollectionRepository(collections ...domain.Collection) *CollectionRepository {
	repo := &CollectionRepository{
		collections: make(map[string]domain.Collection, len(collections)),
		names:       make(map[string]string),
	}
	for _, collection := range collections {
		repo.PutCollection(collection)
	}
	return repo
}

// PutCollection stores or replaces a collection.
func (r *CollectionRepository) PutCollection(collection domain.Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	collection.RestaurantIDs = slices.Clone(collection.RestaurantIDs)
	r.collections[collection.ID] = collection
}

// PutRestaurantName records the display name of a restaurant.
func (r *CollectionRepository) PutRestaurantName(restaurantID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[restaurantID] = name
}

func (r *CollectionRepository) FindCollection(ctx context.Context, collectionID string) (domain.Collection, error) {
	if err := ctx.Err(); err != nil {
		return domain.Collection{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	collection, ok := r.collections[collectionID]
	if !ok {
		return domain.Collection{}, repositories.NewNotFoundError("collections.get", fmt.Errorf("collection %s not found", collectionID))
	}
	collection.RestaurantIDs = slices.Clone(collection.RestaurantIDs)
	return collection, nil
}

func (r *CollectionRepository) ListRestaurantIDs(ctx context.Context, collectionID string) ([]string, error) {
	collection, err := r.FindCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return collection.RestaurantIDs, nil
}

func (r *CollectionRepository) RestaurantNames(ctx context.Context, restaurantIDs []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(restaurantIDs))
	for _, id := range restaurantIDs {
		if name, ok := r.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// GroupRepository serves group membership from memory.
type GroupRepository struct {
	mu     sync.RWMutex
	groups map[string]domain.GroupMembership
}

var _ repositories.GroupRepository = (*GroupRepository)(nil)

// NewGroupRepository constructs a repository seeded with the provided memberships.
func NewGroupRepository(groups ...domain.GroupMembership) *GroupRepository {
	repo := &GroupRepository{groups: make(map[string]domain.GroupMembership, len(groups))}
	for _, group := range groups {
		repo.PutGroup(group)
	}
	return repo
}

// PutGroup stores or replaces a group's membership.
func (r *GroupRepository) PutGroup(group domain.GroupMembership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group.AdminIDs = slices.Clone(group.AdminIDs)
	group.MemberIDs = slices.Clone(group.MemberIDs)
	r.groups[group.GroupID] = group
}

func (r *GroupRepository) Membership(ctx context.Context, groupID string) (domain.GroupMembership, error) {
	if err := ctx.Err(); err != nil {
		return domain.GroupMembership{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.groups[groupID]
	if !ok {
		return domain.GroupMembership{}, repositories.NewNotFoundError("groups.get", fmt.Errorf("group %s not found", groupID))
	}
	group.AdminIDs = slices.Clone(group.AdminIDs)
	group.MemberIDs = slices.Clone(group.MemberIDs)
	return group, nil
}

func (r *GroupRepository) IsAdmin(ctx context.Context, groupID string, userID string) (bool, error) {
	group, err := r.Membership(ctx, groupID)
	if err != nil {
		return false, err
	}
	return slices.Contains(group.AdminIDs, userID), nil
}
