package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"

	domain "github.com/forkcast/api/internal/domain"
	pfirestore "github.com/forkcast/api/internal/platform/firestore"
	"github.com/forkcast/api/internal/repositories"
)

const (
	collectionsCollection = "collections"
	restaurantsCollection = "restaurants"
	groupsCollection      = "groups"
)

// CollectionRepository reads collection documents maintained by the collections service.
type CollectionRepository struct {
	collections *pfirestore.TypedCollection[collectionDocument]
	restaurants *pfirestore.TypedCollection[restaurantDocument]
}

var _ repositories.CollectionRepository = (*CollectionRepository)(nil)

func NewCollectionRepository(provider *pfirestore.Provider) (*CollectionRepository, error) {
	if provider == nil {
		return nil, errors.New("collection repository requires firestore provider")
	}
	return &CollectionRepository{
		collections: pfirestore.NewTypedCollection[collectionDocument](provider, collectionsCollection),
		restaurants: pfirestore.NewTypedCollection[restaurantDocument](provider, restaurantsCollection),
	}, nil
}

func (r *CollectionRepository) FindCollection(ctx context.Context, collectionID string) (domain.Collection, error) {
	doc, err := r.collections.Get(ctx, strings.TrimSpace(collectionID))
	if err != nil {
		return domain.Collection{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CollectionRepository) ListRestaurantIDs(ctx context.Context, collectionID string) ([]string, error) {
	collection, err := r.FindCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return collection.RestaurantIDs, nil
}

// RestaurantNames resolves display names. Unknown restaurants are absent from the result.
func (r *CollectionRepository) RestaurantNames(ctx context.Context, restaurantIDs []string) (map[string]string, error) {
	docs, err := r.restaurants.GetAll(ctx, restaurantIDs)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(docs))
	for _, doc := range docs {
		names[doc.ID] = doc.Data.Name
	}
	return names, nil
}

// GroupRepository reads group membership documents.
type GroupRepository struct {
	groups *pfirestore.TypedCollection[groupDocument]
}

var _ repositories.GroupRepository = (*GroupRepository)(nil)

func NewGroupRepository(provider *pfirestore.Provider) (*GroupRepository, error) {
	if provider == nil {
		return nil, errors.New("group repository requires firestore provider")
	}
	return &GroupRepository{
		groups: pfirestore.NewTypedCollection[groupDocument](provider, groupsCollection),
	}, nil
}

func (r *GroupRepository) Membership(ctx context.Context, groupID string) (domain.GroupMembership, error) {
	doc, err := r.groups.Get(ctx, strings.TrimSpace(groupID))
	if err != nil {
		return domain.GroupMembership{}, err
	}
	return domain.GroupMembership{
		GroupID:   doc.ID,
		AdminIDs:  append([]string(nil), doc.Data.AdminIDs...),
		MemberIDs: append([]string(nil), doc.Data.MemberIDs...),
	}, nil
}

func (r *GroupRepository) IsAdmin(ctx context.Context, groupID string, userID string) (bool, error) {
	membership, err := r.Membership(ctx, groupID)
	if err != nil {
		return false, err
	}
	return slices.Contains(membership.AdminIDs, strings.TrimSpace(userID)), nil
}

type collectionDocument struct {
	Name          string   `firestore:"name"`
	OwnerID       string   `firestore:"ownerId"`
	GroupID       string   `firestore:"groupId,omitempty"`
	RestaurantIDs []string `firestore:"restaurantIds"`
}

func (d collectionDocument) toDomain(id string) domain.Collection {
	return domain.Collection{
		ID:            id,
		Name:          d.Name,
		OwnerID:       d.OwnerID,
		GroupID:       d.GroupID,
		RestaurantIDs: append([]string(nil), d.RestaurantIDs...),
	}
}

type restaurantDocument struct {
	Name string `firestore:"name"`
}

type groupDocument struct {
	Name      string   `firestore:"name"`
	AdminIDs  []string `firestore:"adminIds"`
	MemberIDs []string `firestore:"memberIds"`
}
