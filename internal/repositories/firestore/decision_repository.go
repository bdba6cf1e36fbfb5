package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/forkcast/api/internal/domain"
	pfirestore "github.com/forkcast/api/internal/platform/firestore"
	"github.com/forkcast/api/internal/repositories"
)

const (
	decisionsCollection       = "decisions"
	activeDecisionsCollection = "activeDecisions"
)

// DecisionRepository stores decisions in Firestore. Each collection with an Active decision owns a
// slot document in activeDecisions/{collectionId}; transactions read the slot before writing so at
// most one Active decision exists per collection.
type DecisionRepository struct {
	provider  *pfirestore.Provider
	decisions *pfirestore.TypedCollection[decisionDocument]
	slots     *pfirestore.TypedCollection[activeSlotDocument]
}

var _ repositories.DecisionRepository = (*DecisionRepository)(nil)

func NewDecisionRepository(provider *pfirestore.Provider) (*DecisionRepository, error) {
	if provider == nil {
		return nil, errors.New("decision repository requires firestore provider")
	}
	return &DecisionRepository{
		provider:  provider,
		decisions: pfirestore.NewTypedCollection[decisionDocument](provider, decisionsCollection),
		slots:     pfirestore.NewTypedCollection[activeSlotDocument](provider, activeDecisionsCollection),
	}, nil
}

func (r *DecisionRepository) Insert(ctx context.Context, decision domain.Decision) (domain.Decision, error) {
	if r == nil || r.provider == nil {
		return domain.Decision{}, errors.New("decision repository not initialised")
	}
	decisionID := strings.TrimSpace(decision.ID)
	if decisionID == "" {
		return domain.Decision{}, errors.New("decision insert: id is required")
	}
	collectionID := strings.TrimSpace(decision.CollectionID)
	if collectionID == "" {
		return domain.Decision{}, errors.New("decision insert: collection id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		slotRef, err := r.slots.Ref(ctx, collectionID)
		if err != nil {
			return err
		}
		slot, occupied, err := r.slots.TxGet(tx, slotRef)
		if err != nil {
			return err
		}
		if occupied {
			return repositories.NewDecisionError("decisions.insert", repositories.DecisionErrorActiveExists,
				fmt.Sprintf("collection %s already has active decision %s", collectionID, slot.DecisionID))
		}

		ref, err := r.decisions.Ref(ctx, decisionID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newDecisionDocument(decision)); err != nil {
			return err
		}
		if decision.Status == domain.DecisionStatusActive {
			return tx.Create(slotRef, activeSlotDocument{DecisionID: decisionID, CreatedAt: decision.CreatedAt.UTC()})
		}
		return nil
	})
	if err != nil {
		return domain.Decision{}, wrapDecisionError("decisions.insert", err)
	}
	return decision.Clone(), nil
}

func (r *DecisionRepository) FindByID(ctx context.Context, decisionID string) (domain.Decision, error) {
	if r == nil || r.provider == nil {
		return domain.Decision{}, errors.New("decision repository not initialised")
	}
	doc, err := r.decisions.Get(ctx, strings.TrimSpace(decisionID))
	if err != nil {
		return domain.Decision{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *DecisionRepository) TransitionStatus(ctx context.Context, decisionID string, expected domain.DecisionStatus, mutate repositories.DecisionMutator) (domain.Decision, error) {
	if r == nil || r.provider == nil {
		return domain.Decision{}, errors.New("decision repository not initialised")
	}
	decisionID = strings.TrimSpace(decisionID)

	var result domain.Decision
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.decisions.Ref(ctx, decisionID)
		if err != nil {
			return err
		}
		current, err := r.getDecision(tx, ref)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return repositories.StatusMismatch("decisions.transition", decisionID, string(current.Status))
		}

		// Reads must precede writes in a Firestore transaction.
		var slotRef *firestore.DocumentRef
		releaseSlot := false
		if current.Status == domain.DecisionStatusActive {
			slotRef, err = r.slots.Ref(ctx, current.CollectionID)
			if err != nil {
				return err
			}
			slot, occupied, err := r.slots.TxGet(tx, slotRef)
			if err != nil {
				return err
			}
			releaseSlot = occupied && slot.DecisionID == decisionID
		}

		next := current.Clone()
		if mutate != nil {
			if err := mutate(&next); err != nil {
				return err
			}
		}
		next.ID = decisionID
		if err := tx.Set(ref, newDecisionDocument(next)); err != nil {
			return err
		}
		if releaseSlot && next.Status.IsTerminal() {
			if err := tx.Delete(slotRef); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return domain.Decision{}, wrapDecisionError("decisions.transition", err)
	}
	return result, nil
}

func (r *DecisionRepository) UpsertVote(ctx context.Context, decisionID string, vote domain.Vote, updatedAt time.Time) (domain.Decision, error) {
	if r == nil || r.provider == nil {
		return domain.Decision{}, errors.New("decision repository not initialised")
	}
	decisionID = strings.TrimSpace(decisionID)
	userID := strings.TrimSpace(vote.UserID)
	if userID == "" {
		return domain.Decision{}, errors.New("decision vote: user id is required")
	}

	var result domain.Decision
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.decisions.Ref(ctx, decisionID)
		if err != nil {
			return err
		}
		current, err := r.getDecision(tx, ref)
		if err != nil {
			return err
		}
		if current.Status != domain.DecisionStatusActive {
			return repositories.StatusMismatch("decisions.vote", decisionID, string(current.Status))
		}

		updatedAt = updatedAt.UTC()
		updates := []firestore.Update{
			{FieldPath: firestore.FieldPath{"votes", userID}, Value: newVoteDocument(vote)},
			{Path: "updatedAt", Value: updatedAt},
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		if current.Votes == nil {
			current.Votes = make(map[string]domain.Vote, 1)
		}
		current.Votes[userID] = vote.Clone()
		current.UpdatedAt = updatedAt
		result = current
		return nil
	})
	if err != nil {
		return domain.Decision{}, wrapDecisionError("decisions.vote", err)
	}
	return result, nil
}

// Query maps ParticipantID onto the denormalised viewers field (creator plus participants) so
// personal decisions match their creator.
func (r *DecisionRepository) Query(ctx context.Context, query repositories.DecisionQuery) ([]domain.Decision, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("decision repository not initialised")
	}
	docs, err := r.decisions.Query(ctx, func(q firestore.Query) firestore.Query {
		if query.CollectionID != "" {
			q = q.Where("collectionId", "==", query.CollectionID)
		}
		if query.GroupID != "" {
			q = q.Where("groupId", "==", query.GroupID)
		}
		if query.Type != "" {
			q = q.Where("type", "==", string(query.Type))
		}
		if query.Status != "" {
			q = q.Where("status", "==", string(query.Status))
		}
		if query.RestaurantID != "" {
			q = q.Where("restaurantId", "==", query.RestaurantID)
		}
		if query.ParticipantID != "" {
			q = q.Where("viewers", "array-contains", query.ParticipantID)
		}
		if from := query.VisitDate.From; from != nil {
			q = q.Where("visitDate", ">=", from.UTC())
		}
		if to := query.VisitDate.To; to != nil {
			q = q.Where("visitDate", "<=", to.UTC())
		}
		q = q.OrderBy("visitDate", firestore.Desc).OrderBy("createdAt", firestore.Desc)
		if query.Offset > 0 {
			q = q.Offset(query.Offset)
		}
		if query.Limit > 0 {
			q = q.Limit(query.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decisionsFromDocuments(docs), nil
}

func (r *DecisionRepository) ListCompletedByCollection(ctx context.Context, collectionID string) ([]domain.Decision, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("decision repository not initialised")
	}
	docs, err := r.decisions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("collectionId", "==", collectionID).
			Where("status", "==", string(domain.DecisionStatusCompleted))
	})
	if err != nil {
		return nil, err
	}
	return decisionsFromDocuments(docs), nil
}

func (r *DecisionRepository) ListExpiredActive(ctx context.Context, before time.Time, limit int) ([]domain.Decision, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("decision repository not initialised")
	}
	docs, err := r.decisions.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.DecisionStatusActive)).
			Where("deadline", "<", before.UTC()).
			OrderBy("deadline", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decisionsFromDocuments(docs), nil
}

func (r *DecisionRepository) getDecision(tx *firestore.Transaction, ref *firestore.DocumentRef) (domain.Decision, error) {
	doc, ok, err := r.decisions.TxGet(tx, ref)
	if err != nil {
		return domain.Decision{}, err
	}
	if !ok {
		return domain.Decision{}, repositories.NewNotFoundError("decisions.get", fmt.Errorf("decision %s not found", ref.ID))
	}
	return doc.toDomain(ref.ID), nil
}

func decisionsFromDocuments(docs []pfirestore.Document[decisionDocument]) []domain.Decision {
	out := make([]domain.Decision, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out
}

func wrapDecisionError(op string, err error) error {
	if err == nil {
		return nil
	}
	var decisionErr *repositories.DecisionError
	if errors.As(err, &decisionErr) {
		if decisionErr.Op == "" {
			decisionErr.Op = op
		}
		return decisionErr
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return pfirestore.WrapError(op, err)
}

type activeSlotDocument struct {
	DecisionID string    `firestore:"decisionId"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

type decisionDocument struct {
	Type         string                  `firestore:"type"`
	CollectionID string                  `firestore:"collectionId"`
	GroupID      string                  `firestore:"groupId,omitempty"`
	Method       string                  `firestore:"method"`
	Status       string                  `firestore:"status"`
	CreatedBy    string                  `firestore:"createdBy"`
	Deadline     time.Time               `firestore:"deadline"`
	VisitDate    time.Time               `firestore:"visitDate"`
	Participants []string                `firestore:"participants"`
	Viewers      []string                `firestore:"viewers"`
	Votes        map[string]voteDocument `firestore:"votes"`
	Result       *resultDocument         `firestore:"result,omitempty"`
	RestaurantID string                  `firestore:"restaurantId,omitempty"`
	ClosedBy     string                  `firestore:"closedBy,omitempty"`
	ClosedAt     *time.Time              `firestore:"closedAt,omitempty"`
	CreatedAt    time.Time               `firestore:"createdAt"`
	UpdatedAt    time.Time               `firestore:"updatedAt"`
}

type voteDocument struct {
	Rankings    []string  `firestore:"rankings"`
	SubmittedAt time.Time `firestore:"submittedAt"`
}

type resultDocument struct {
	RestaurantID string             `firestore:"restaurantId"`
	SelectedAt   time.Time          `firestore:"selectedAt"`
	Reasoning    string             `firestore:"reasoning"`
	Weights      map[string]float64 `firestore:"weights,omitempty"`
}

func newVoteDocument(vote domain.Vote) voteDocument {
	return voteDocument{
		Rankings:    append([]string{}, vote.Rankings...),
		SubmittedAt: vote.SubmittedAt.UTC(),
	}
}

func newDecisionDocument(d domain.Decision) decisionDocument {
	doc := decisionDocument{
		Type:         string(d.Type),
		CollectionID: d.CollectionID,
		GroupID:      d.GroupID,
		Method:       string(d.Method),
		Status:       string(d.Status),
		CreatedBy:    d.CreatedBy,
		Deadline:     d.Deadline.UTC(),
		VisitDate:    d.VisitDate.UTC(),
		Participants: append([]string{}, d.Participants...),
		Viewers:      viewersOf(d),
		Votes:        make(map[string]voteDocument, len(d.Votes)),
		ClosedBy:     d.ClosedBy,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	for userID, vote := range d.Votes {
		doc.Votes[userID] = newVoteDocument(vote)
	}
	if d.Result != nil {
		doc.Result = &resultDocument{
			RestaurantID: d.Result.RestaurantID,
			SelectedAt:   d.Result.SelectedAt.UTC(),
			Reasoning:    d.Result.Reasoning,
			Weights:      d.Result.Clone().Weights,
		}
		doc.RestaurantID = d.Result.RestaurantID
	}
	if d.ClosedAt != nil {
		closedAt := d.ClosedAt.UTC()
		doc.ClosedAt = &closedAt
	}
	return doc
}

func viewersOf(d domain.Decision) []string {
	viewers := make([]string, 0, len(d.Participants)+1)
	if d.CreatedBy != "" {
		viewers = append(viewers, d.CreatedBy)
	}
	for _, id := range d.Participants {
		if id != d.CreatedBy {
			viewers = append(viewers, id)
		}
	}
	return viewers
}

func (d decisionDocument) toDomain(id string) domain.Decision {
	decision := domain.Decision{
		ID:           id,
		Type:         domain.DecisionType(d.Type),
		CollectionID: d.CollectionID,
		GroupID:      d.GroupID,
		Method:       domain.DecisionMethod(d.Method),
		Status:       domain.DecisionStatus(d.Status),
		CreatedBy:    d.CreatedBy,
		Deadline:     d.Deadline.UTC(),
		VisitDate:    d.VisitDate.UTC(),
		Participants: append([]string(nil), d.Participants...),
		ClosedBy:     d.ClosedBy,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if len(d.Votes) > 0 {
		decision.Votes = make(map[string]domain.Vote, len(d.Votes))
		for userID, vote := range d.Votes {
			decision.Votes[userID] = domain.Vote{
				UserID:      userID,
				Rankings:    append([]string(nil), vote.Rankings...),
				SubmittedAt: vote.SubmittedAt.UTC(),
			}
		}
	}
	if d.Result != nil {
		result := domain.DecisionResult{
			RestaurantID: d.Result.RestaurantID,
			SelectedAt:   d.Result.SelectedAt.UTC(),
			Reasoning:    d.Result.Reasoning,
			Weights:      d.Result.Weights,
		}
		decision.Result = &result
	}
	if d.ClosedAt != nil {
		closedAt := d.ClosedAt.UTC()
		decision.ClosedAt = &closedAt
	}
	return decision
}
