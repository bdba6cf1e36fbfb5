package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/platform/textutil"
	"github.com/forkcast/api/internal/repositories"
)

const (
	decisionIDPrefix = "dec_"
	systemActorID    = "system"

	decisionEventCreated        = "decision.created"
	decisionEventVoteRecorded   = "decision.vote.recorded"
	decisionEventCompleted      = "decision.completed"
	decisionEventClosed         = "decision.closed"
	decisionEventNotifyFailed   = "decision.notify.failed"
	decisionEventStoreUnhealthy = "decision.store.unavailable"

	defaultDecisionDeadline = 24 * time.Hour
	maxDecisionDeadline     = 14 * 24 * time.Hour
	defaultHistoryScanLimit = 500
	defaultHistoryPageSize  = 20
	maxHistoryPageSize      = 100
	defaultExpiredLimit     = 100
	notifyTimeout           = 10 * time.Second
)

// DecisionSettings carries tunables for the decision engine.
type DecisionSettings struct {
	Weighting        WeightingParams
	Tabulation       TabulationMethod
	DefaultDeadline  time.Duration
	MaxDeadline      time.Duration
	HistoryScanLimit int
	DefaultPageSize  int
	MaxPageSize      int
}

// DecisionServiceDeps bundles collaborators required to construct a DecisionService.
type DecisionServiceDeps struct {
	Collections repositories.CollectionRepository
	Groups      repositories.GroupRepository
	Decisions   repositories.DecisionRepository
	Notifier    DecisionNotifier
	Random      RandomSource
	Clock       func() time.Time
	IDGenerator func() string
	Settings    DecisionSettings
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Tracer      trace.Tracer
	Meter       metric.Meter
}

type decisionService struct {
	collections repositories.CollectionRepository
	groups      repositories.GroupRepository
	decisions   repositories.DecisionRepository
	notifier    DecisionNotifier
	selector    RandomSelector
	tabulator   RankedChoiceTabulator
	weighting   WeightingParams
	settings    DecisionSettings
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
	telemetry   decisionTelemetry
}

var _ DecisionService = (*decisionService)(nil)

// NewDecisionService wires dependencies into a concrete DecisionService implementation.
func NewDecisionService(deps DecisionServiceDeps) (DecisionService, error) {
	if deps.Collections == nil {
		return nil, errors.New("decision service: collection repository is required")
	}
	if deps.Groups == nil {
		return nil, errors.New("decision service: group repository is required")
	}
	if deps.Decisions == nil {
		return nil, errors.New("decision service: decision repository is required")
	}

	settings := normalizeDecisionSettings(deps.Settings)
	if err := settings.Weighting.Validate(); err != nil {
		return nil, fmt.Errorf("decision service: %w", err)
	}
	if settings.DefaultDeadline > settings.MaxDeadline {
		return nil, errors.New("decision service: default deadline exceeds max deadline")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return decisionIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	telemetry, err := newDecisionTelemetry(deps.Tracer, deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("decision service: register metrics: %w", err)
	}

	return &decisionService{
		collections: deps.Collections,
		groups:      deps.Groups,
		decisions:   deps.Decisions,
		notifier:    deps.Notifier,
		selector:    NewRandomSelector(settings.Weighting, deps.Random),
		tabulator:   NewRankedChoiceTabulator(settings.Tabulation, settings.Weighting),
		weighting:   settings.Weighting,
		settings:    settings,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		telemetry: telemetry,
	}, nil
}

func normalizeDecisionSettings(settings DecisionSettings) DecisionSettings {
	if settings.Weighting == (WeightingParams{}) {
		settings.Weighting = DefaultWeightingParams()
	}
	if !settings.Tabulation.Valid() {
		settings.Tabulation = TabulationBorda
	}
	if settings.DefaultDeadline <= 0 {
		settings.DefaultDeadline = defaultDecisionDeadline
	}
	if settings.MaxDeadline <= 0 {
		settings.MaxDeadline = maxDecisionDeadline
	}
	if settings.HistoryScanLimit <= 0 {
		settings.HistoryScanLimit = defaultHistoryScanLimit
	}
	if settings.MaxPageSize <= 0 {
		settings.MaxPageSize = maxHistoryPageSize
	}
	if settings.DefaultPageSize <= 0 || settings.DefaultPageSize > settings.MaxPageSize {
		settings.DefaultPageSize = min(defaultHistoryPageSize, settings.MaxPageSize)
	}
	return settings
}

func (s *decisionService) CreatePersonalDecision(ctx context.Context, cmd CreatePersonalDecisionCommand) (_ Decision, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.create_personal", attribute.String("collection.id", cmd.CollectionID))
	defer func() { endSpan(span, err) }()

	collectionID := strings.TrimSpace(cmd.CollectionID)
	userID := strings.TrimSpace(cmd.UserID)
	if collectionID == "" {
		return Decision{}, invalidInput("collection id is required")
	}
	if userID == "" {
		return Decision{}, invalidInput("user id is required")
	}
	switch cmd.Method {
	case domain.DecisionMethodRandom:
	case domain.DecisionMethodTiered:
		return Decision{}, fmt.Errorf("%w: tiered voting requires a group", ErrUnsupportedMethod)
	default:
		return Decision{}, invalidInput("unknown method %q", cmd.Method)
	}

	snapshot, err := s.loadCollection(ctx, collectionID, true)
	if err != nil {
		return Decision{}, err
	}

	now := s.now()
	selection, err := s.selector.Select(snapshot.restaurantIDs, snapshot.stats, now)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		ID:           s.newID(),
		Type:         domain.DecisionTypePersonal,
		CollectionID: collectionID,
		Method:       domain.DecisionMethodRandom,
		Status:       domain.DecisionStatusCompleted,
		CreatedBy:    userID,
		Deadline:     now,
		VisitDate:    visitDateOrNow(cmd.VisitDate, now),
		Result: &DecisionResult{
			RestaurantID: selection.RestaurantID,
			SelectedAt:   now,
			Reasoning:    selection.Reasoning(),
			Weights:      selection.Probabilities,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.decisions.Insert(ctx, decision)
	if err != nil {
		return Decision{}, s.storeFailure(ctx, "insert", err, ErrCollectionNotFound)
	}

	s.recordCreated(ctx, created)
	s.recordCompleted(ctx, created)
	return created, nil
}

func (s *decisionService) CreateGroupDecision(ctx context.Context, cmd CreateGroupDecisionCommand) (_ Decision, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.create_group",
		attribute.String("collection.id", cmd.CollectionID),
		attribute.String("group.id", cmd.GroupID),
	)
	defer func() { endSpan(span, err) }()

	collectionID := strings.TrimSpace(cmd.CollectionID)
	groupID := strings.TrimSpace(cmd.GroupID)
	creator := strings.TrimSpace(cmd.CreatedBy)
	switch {
	case collectionID == "":
		return Decision{}, invalidInput("collection id is required")
	case groupID == "":
		return Decision{}, invalidInput("group id is required")
	case creator == "":
		return Decision{}, invalidInput("creator id is required")
	case !cmd.Method.Valid():
		return Decision{}, invalidInput("unknown method %q", cmd.Method)
	}

	participants := textutil.NormalizeIDs(cmd.Participants)
	if len(participants) == 0 {
		return Decision{}, invalidInput("participants are required")
	}
	if !containsID(participants, creator) {
		return Decision{}, fmt.Errorf("%w: creator must be a participant", ErrNotAParticipant)
	}

	deadline := s.settings.DefaultDeadline
	if cmd.DeadlineHours > 0 {
		// Compare in hours; converting first overflows for huge inputs.
		maxHours := int64(s.settings.MaxDeadline / time.Hour)
		if int64(cmd.DeadlineHours) > maxHours {
			return Decision{}, invalidInput("deadline may not exceed %d hours", maxHours)
		}
		deadline = time.Duration(cmd.DeadlineHours) * time.Hour
	}

	snapshot, err := s.loadCollection(ctx, collectionID, cmd.Method == domain.DecisionMethodRandom)
	if err != nil {
		return Decision{}, err
	}
	if snapshot.collection.IsGroupOwned() && snapshot.collection.GroupID != groupID {
		return Decision{}, fmt.Errorf("%w: collection belongs to another group", ErrNotAuthorized)
	}

	now := s.now()
	decision := Decision{
		ID:           s.newID(),
		Type:         domain.DecisionTypeGroup,
		CollectionID: collectionID,
		GroupID:      groupID,
		Method:       cmd.Method,
		Status:       domain.DecisionStatusActive,
		CreatedBy:    creator,
		Deadline:     now.Add(deadline),
		VisitDate:    visitDateOrNow(cmd.VisitDate, now),
		Participants: participants,
		Votes:        map[string]Vote{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if cmd.Method == domain.DecisionMethodRandom {
		selection, err := s.selector.Select(snapshot.restaurantIDs, snapshot.stats, now)
		if err != nil {
			return Decision{}, err
		}
		decision.Status = domain.DecisionStatusCompleted
		decision.Result = &DecisionResult{
			RestaurantID: selection.RestaurantID,
			SelectedAt:   now,
			Reasoning:    fmt.Sprintf("%s; group decision for %d participants", selection.Reasoning(), len(participants)),
			Weights:      selection.Probabilities,
		}
	}

	created, err := s.decisions.Insert(ctx, decision)
	if err != nil {
		return Decision{}, s.storeFailure(ctx, "insert", err, ErrCollectionNotFound)
	}

	s.recordCreated(ctx, created)
	if created.Status == domain.DecisionStatusCompleted {
		s.recordCompleted(ctx, created)
	}
	return created, nil
}

func (s *decisionService) SubmitGroupVote(ctx context.Context, cmd SubmitGroupVoteCommand) (_ VoteReceipt, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.submit_vote", attribute.String("decision.id", cmd.DecisionID))
	defer func() { endSpan(span, err) }()

	decisionID := strings.TrimSpace(cmd.DecisionID)
	userID := strings.TrimSpace(cmd.UserID)
	if decisionID == "" {
		return VoteReceipt{}, invalidInput("decision id is required")
	}
	if userID == "" {
		return VoteReceipt{}, invalidInput("user id is required")
	}

	decision, err := s.decisions.FindByID(ctx, decisionID)
	if err != nil {
		return VoteReceipt{}, s.storeFailure(ctx, "get", err, ErrDecisionMissing)
	}
	if !decision.IsParticipant(userID) {
		return VoteReceipt{}, ErrNotAParticipant
	}
	if decision.Status != domain.DecisionStatusActive {
		return VoteReceipt{}, ErrDecisionNotActive
	}
	if decision.Method != domain.DecisionMethodTiered {
		return VoteReceipt{}, fmt.Errorf("%w: votes apply to tiered decisions only", ErrWrongMethod)
	}

	restaurantIDs, err := s.collections.ListRestaurantIDs(ctx, decision.CollectionID)
	if err != nil {
		return VoteReceipt{}, s.storeFailure(ctx, "restaurants", err, ErrCollectionNotFound)
	}
	rankings, err := validateRankings(cmd.Rankings, restaurantIDs)
	if err != nil {
		return VoteReceipt{}, err
	}

	now := s.now()
	_, replaced := decision.Votes[userID]
	updated, err := s.decisions.UpsertVote(ctx, decisionID, Vote{
		UserID:      userID,
		Rankings:    rankings,
		SubmittedAt: now,
	}, now)
	if err != nil {
		return VoteReceipt{}, s.storeFailure(ctx, "vote", err, ErrDecisionMissing)
	}

	s.telemetry.count(ctx, s.telemetry.votes, updated)
	s.logger(ctx, decisionEventVoteRecorded, map[string]any{
		"decisionId": decisionID,
		"userId":     userID,
		"replaced":   replaced,
		"votes":      len(updated.Votes),
	})

	message := "vote recorded"
	if replaced {
		message = "vote updated"
	}
	return VoteReceipt{
		DecisionID:  decisionID,
		UserID:      userID,
		SubmittedAt: now,
		Replaced:    replaced,
		VotesCount:  len(updated.Votes),
		Message:     message,
	}, nil
}

func (s *decisionService) CompleteTieredGroupDecision(ctx context.Context, cmd CompleteDecisionCommand) (_ DecisionResult, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.complete", attribute.String("decision.id", cmd.DecisionID))
	defer func() { endSpan(span, err) }()

	decisionID := strings.TrimSpace(cmd.DecisionID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if decisionID == "" {
		return DecisionResult{}, invalidInput("decision id is required")
	}
	if !cmd.System && actorID == "" {
		return DecisionResult{}, invalidInput("actor id is required")
	}

	decision, err := s.decisions.FindByID(ctx, decisionID)
	if err != nil {
		return DecisionResult{}, s.storeFailure(ctx, "get", err, ErrDecisionMissing)
	}
	if !cmd.System && !decision.IsParticipant(actorID) && decision.CreatedBy != actorID {
		return DecisionResult{}, ErrNotAParticipant
	}
	if decision.Status != domain.DecisionStatusActive {
		return DecisionResult{}, ErrDecisionNotActive
	}
	if decision.Method != domain.DecisionMethodTiered {
		return DecisionResult{}, ErrWrongMethod
	}
	if len(decision.Votes) == 0 {
		return DecisionResult{}, ErrNoVotes
	}

	snapshot, err := s.loadCollection(ctx, decision.CollectionID, true)
	if err != nil {
		return DecisionResult{}, err
	}

	now := s.now()
	completed, err := s.decisions.TransitionStatus(ctx, decisionID, domain.DecisionStatusActive, func(d *Decision) error {
		if d.Method != domain.DecisionMethodTiered {
			return ErrWrongMethod
		}
		votes := d.VoteList()
		if len(votes) == 0 {
			return ErrNoVotes
		}
		tab, err := s.tabulator.Tabulate(snapshot.restaurantIDs, votes, len(d.Participants), snapshot.stats, now)
		if err != nil {
			return err
		}
		d.Status = domain.DecisionStatusCompleted
		d.Result = &DecisionResult{
			RestaurantID: tab.WinnerID,
			SelectedAt:   now,
			Reasoning:    tab.Reasoning,
			Weights:      tab.Scores,
		}
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return DecisionResult{}, s.storeFailure(ctx, "complete", err, ErrDecisionMissing)
	}
	if completed.Result == nil {
		return DecisionResult{}, fmt.Errorf("decision service: completed decision %s has no result", decisionID)
	}

	s.recordCompleted(ctx, completed)
	return completed.Result.Clone(), nil
}

func (s *decisionService) CloseGroupDecision(ctx context.Context, cmd CloseDecisionCommand) (_ Decision, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.close", attribute.String("decision.id", cmd.DecisionID))
	defer func() { endSpan(span, err) }()

	decisionID := strings.TrimSpace(cmd.DecisionID)
	userID := strings.TrimSpace(cmd.UserID)
	if decisionID == "" {
		return Decision{}, invalidInput("decision id is required")
	}
	if !cmd.System && userID == "" {
		return Decision{}, invalidInput("user id is required")
	}

	decision, err := s.decisions.FindByID(ctx, decisionID)
	if err != nil {
		return Decision{}, s.storeFailure(ctx, "get", err, ErrDecisionMissing)
	}
	if decision.Status != domain.DecisionStatusActive {
		return Decision{}, ErrDecisionNotActive
	}

	closedBy := systemActorID
	if !cmd.System {
		if decision.GroupID == "" {
			return Decision{}, ErrNotAuthorized
		}
		admin, err := s.groups.IsAdmin(ctx, decision.GroupID, userID)
		if err != nil {
			return Decision{}, s.storeFailure(ctx, "groups", err, ErrGroupNotFound)
		}
		if !admin {
			return Decision{}, ErrNotAuthorized
		}
		closedBy = userID
	}

	now := s.now()
	closed, err := s.decisions.TransitionStatus(ctx, decisionID, domain.DecisionStatusActive, func(d *Decision) error {
		d.Status = domain.DecisionStatusClosed
		d.ClosedBy = closedBy
		d.ClosedAt = &now
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Decision{}, s.storeFailure(ctx, "close", err, ErrDecisionMissing)
	}

	s.telemetry.count(ctx, s.telemetry.closed, closed)
	s.logger(ctx, decisionEventClosed, map[string]any{
		"decisionId":   closed.ID,
		"collectionId": closed.CollectionID,
		"closedBy":     closedBy,
	})
	return closed, nil
}

func (s *decisionService) ResolveGroupParticipants(ctx context.Context, groupID string) (_ []string, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.resolve_participants", attribute.String("group.id", groupID))
	defer func() { endSpan(span, err) }()

	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, invalidInput("group id is required")
	}
	membership, err := s.groups.Membership(ctx, groupID)
	if err != nil {
		return nil, s.storeFailure(ctx, "groups", err, ErrGroupNotFound)
	}
	return membership.Participants(), nil
}

func (s *decisionService) GetDecisionHistory(ctx context.Context, filter DecisionHistoryFilter) (_ domain.Page[Decision], err error) {
	ctx, span := s.telemetry.start(ctx, "decision.history")
	defer func() { endSpan(span, err) }()

	if filter.Type != "" && !filter.Type.Valid() {
		return domain.Page[Decision]{}, invalidInput("unknown type %q", filter.Type)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.Page[Decision]{}, invalidInput("unknown status %q", filter.Status)
	}
	from, to := filter.VisitDate.From, filter.VisitDate.To
	if from != nil && to != nil && from.After(*to) {
		return domain.Page[Decision]{}, invalidInput("visit date range is inverted")
	}
	limit, offset, err := s.window(filter.Pagination)
	if err != nil {
		return domain.Page[Decision]{}, err
	}

	query := repositories.DecisionQuery{
		CollectionID:  strings.TrimSpace(filter.CollectionID),
		GroupID:       strings.TrimSpace(filter.GroupID),
		Type:          filter.Type,
		Status:        filter.Status,
		RestaurantID:  strings.TrimSpace(filter.RestaurantID),
		ParticipantID: strings.TrimSpace(filter.ViewerID),
		VisitDate:     filter.VisitDate,
	}

	term := textutil.NormalizeSearch(filter.Search)
	if term == "" {
		query.Limit = limit + 1
		query.Offset = offset
		items, err := s.decisions.Query(ctx, query)
		if err != nil {
			return domain.Page[Decision]{}, s.storeFailure(ctx, "query", err, nil)
		}
		hasMore := len(items) > limit
		if hasMore {
			items = items[:limit]
		}
		return domain.Page[Decision]{Items: items, Limit: limit, Offset: offset, HasMore: hasMore}, nil
	}

	// Search runs over resolved restaurant names, so the store is scanned in batches of
	// HistoryScanLimit until the requested window plus one match is filled.
	need := offset + limit + 1
	var matched []Decision
	query.Limit = s.settings.HistoryScanLimit
	for query.Offset = 0; len(matched) < need; {
		batch, err := s.decisions.Query(ctx, query)
		if err != nil {
			return domain.Page[Decision]{}, s.storeFailure(ctx, "query", err, nil)
		}
		hits, err := s.matchRestaurantNames(ctx, batch, term)
		if err != nil {
			return domain.Page[Decision]{}, err
		}
		matched = append(matched, hits...)
		if len(batch) < query.Limit {
			break
		}
		query.Offset += len(batch)
	}

	page := domain.Page[Decision]{Items: []Decision{}, Limit: limit, Offset: offset}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		page.Items = matched[offset:end]
		page.HasMore = end < len(matched)
	}
	return page, nil
}

func (s *decisionService) matchRestaurantNames(ctx context.Context, decisions []Decision, term string) ([]Decision, error) {
	ids := make([]string, 0, len(decisions))
	for _, decision := range decisions {
		if decision.Result != nil {
			ids = append(ids, decision.Result.RestaurantID)
		}
	}
	ids = textutil.NormalizeIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	names, err := s.collections.RestaurantNames(ctx, ids)
	if err != nil {
		return nil, s.storeFailure(ctx, "restaurant names", err, nil)
	}

	out := make([]Decision, 0, len(decisions))
	for _, decision := range decisions {
		if decision.Result == nil {
			continue
		}
		name, ok := names[decision.Result.RestaurantID]
		if !ok {
			name = decision.Result.RestaurantID
		}
		if textutil.MatchesSearch(term, name) {
			out = append(out, decision)
		}
	}
	return out, nil
}

func (s *decisionService) GetActiveGroupDecisions(ctx context.Context, query ActiveGroupDecisionsQuery) (_ []Decision, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.active_group", attribute.String("group.id", query.GroupID))
	defer func() { endSpan(span, err) }()

	groupID := strings.TrimSpace(query.GroupID)
	if groupID == "" {
		return nil, invalidInput("group id is required")
	}
	items, err := s.decisions.Query(ctx, repositories.DecisionQuery{
		GroupID:       groupID,
		Status:        domain.DecisionStatusActive,
		ParticipantID: strings.TrimSpace(query.ViewerID),
		Limit:         s.settings.HistoryScanLimit,
	})
	if err != nil {
		return nil, s.storeFailure(ctx, "query", err, nil)
	}
	return items, nil
}

func (s *decisionService) GetGroupDecision(ctx context.Context, query GetDecisionQuery) (_ Decision, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.get", attribute.String("decision.id", query.DecisionID))
	defer func() { endSpan(span, err) }()

	decisionID := strings.TrimSpace(query.DecisionID)
	viewerID := strings.TrimSpace(query.ViewerID)
	if decisionID == "" {
		return Decision{}, invalidInput("decision id is required")
	}
	if !query.System && viewerID == "" {
		return Decision{}, invalidInput("viewer id is required")
	}

	decision, err := s.decisions.FindByID(ctx, decisionID)
	if err != nil {
		return Decision{}, s.storeFailure(ctx, "get", err, ErrDecisionMissing)
	}
	if !query.System && decision.CreatedBy != viewerID && !decision.IsParticipant(viewerID) {
		return Decision{}, ErrNotAuthorized
	}
	return decision, nil
}

func (s *decisionService) GetDecisionStatistics(ctx context.Context, collectionID string) (_ DecisionStatistics, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.statistics", attribute.String("collection.id", collectionID))
	defer func() { endSpan(span, err) }()

	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return DecisionStatistics{}, invalidInput("collection id is required")
	}

	var (
		completed []Decision
		g, gctx   = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		if _, err := s.collections.ListRestaurantIDs(gctx, collectionID); err != nil {
			return s.storeFailure(gctx, "restaurants", err, ErrCollectionNotFound)
		}
		return nil
	})
	g.Go(func() error {
		items, err := s.decisions.ListCompletedByCollection(gctx, collectionID)
		if err != nil {
			return s.storeFailure(gctx, "history", err, nil)
		}
		completed = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return DecisionStatistics{}, err
	}

	now := s.now()
	return DecisionStatistics{
		CollectionID:   collectionID,
		TotalDecisions: len(completed),
		Restaurants:    rankStatistics(selectionStatistics(completed), now, s.weighting),
		GeneratedAt:    now,
	}, nil
}

func (s *decisionService) ListExpiredDecisions(ctx context.Context, before time.Time, limit int) (_ []Decision, err error) {
	ctx, span := s.telemetry.start(ctx, "decision.list_expired")
	defer func() { endSpan(span, err) }()

	if before.IsZero() {
		before = s.now()
	}
	if limit <= 0 {
		limit = defaultExpiredLimit
	}
	limit = min(limit, s.settings.HistoryScanLimit)

	items, err := s.decisions.ListExpiredActive(ctx, before.UTC(), limit)
	if err != nil {
		return nil, s.storeFailure(ctx, "expired", err, nil)
	}
	return items, nil
}

type collectionSnapshot struct {
	collection    domain.Collection
	restaurantIDs []string
	stats         map[string]SelectionStatistic
}

// loadCollection fetches the collection and, when requested, its completed decision history in
// parallel.
func (s *decisionService) loadCollection(ctx context.Context, collectionID string, withHistory bool) (collectionSnapshot, error) {
	var (
		snapshot collectionSnapshot
		g, gctx  = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		collection, err := s.collections.FindCollection(gctx, collectionID)
		if err != nil {
			return s.storeFailure(gctx, "collection", err, ErrCollectionNotFound)
		}
		snapshot.collection = collection
		return nil
	})
	g.Go(func() error {
		ids, err := s.collections.ListRestaurantIDs(gctx, collectionID)
		if err != nil {
			return s.storeFailure(gctx, "restaurants", err, ErrCollectionNotFound)
		}
		snapshot.restaurantIDs = textutil.NormalizeIDs(ids)
		return nil
	})
	if withHistory {
		g.Go(func() error {
			completed, err := s.decisions.ListCompletedByCollection(gctx, collectionID)
			if err != nil {
				return s.storeFailure(gctx, "history", err, nil)
			}
			snapshot.stats = selectionStatistics(completed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return collectionSnapshot{}, err
	}
	if len(snapshot.restaurantIDs) == 0 {
		return collectionSnapshot{}, ErrEmptyCollection
	}
	return snapshot, nil
}

func (s *decisionService) window(p Pagination) (int, int, error) {
	if p.Offset < 0 {
		return 0, 0, invalidInput("offset must be >= 0")
	}
	if p.Limit < 0 {
		return 0, 0, invalidInput("limit must be >= 0")
	}
	limit := p.Limit
	if limit == 0 {
		limit = s.settings.DefaultPageSize
	}
	return min(limit, s.settings.MaxPageSize), p.Offset, nil
}

func (s *decisionService) storeFailure(ctx context.Context, op string, err error, notFound *DecisionFailure) error {
	mapped := mapStoreError(err, notFound)
	if errors.Is(mapped, ErrDecisionUnavailable) {
		s.logger(ctx, decisionEventStoreUnhealthy, map[string]any{
			"operation": op,
			"error":     err.Error(),
		})
	}
	return mapped
}

func (s *decisionService) recordCreated(ctx context.Context, decision Decision) {
	s.telemetry.count(ctx, s.telemetry.created, decision)
	s.logger(ctx, decisionEventCreated, map[string]any{
		"decisionId":   decision.ID,
		"collectionId": decision.CollectionID,
		"groupId":      decision.GroupID,
		"type":         string(decision.Type),
		"method":       string(decision.Method),
		"status":       string(decision.Status),
	})
}

func (s *decisionService) recordCompleted(ctx context.Context, decision Decision) {
	if decision.Result == nil {
		return
	}
	s.telemetry.count(ctx, s.telemetry.completed, decision)
	s.logger(ctx, decisionEventCompleted, map[string]any{
		"decisionId":   decision.ID,
		"collectionId": decision.CollectionID,
		"restaurantId": decision.Result.RestaurantID,
		"method":       string(decision.Method),
	})
	s.notifyCompleted(ctx, decision)
}

// notifyCompleted hands the decision to the notifier without waiting for delivery.
func (s *decisionService) notifyCompleted(ctx context.Context, decision Decision) {
	if s.notifier == nil || decision.Result == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	decision = decision.Clone()
	go func() {
		notifyCtx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyDecisionCompleted(notifyCtx, decision, *decision.Result); err != nil {
			s.logger(notifyCtx, decisionEventNotifyFailed, map[string]any{
				"decisionId": decision.ID,
				"error":      err.Error(),
			})
		}
	}()
}

func (s *decisionService) now() time.Time {
	return s.clock()
}

func validateRankings(rankings []string, restaurantIDs []string) ([]string, error) {
	if len(rankings) == 0 {
		return nil, fmt.Errorf("%w: at least one restaurant must be ranked", ErrInvalidRanking)
	}
	allowed := make(map[string]struct{}, len(restaurantIDs))
	for _, id := range restaurantIDs {
		allowed[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(rankings))
	out := make([]string, 0, len(rankings))
	for _, raw := range rankings {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: ranking contains an empty restaurant id", ErrInvalidRanking)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: restaurant %s ranked more than once", ErrInvalidRanking, id)
		}
		if _, ok := allowed[id]; !ok {
			return nil, fmt.Errorf("%w: restaurant %s is not in the collection", ErrInvalidRanking, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func visitDateOrNow(visitDate, now time.Time) time.Time {
	if visitDate.IsZero() {
		return now
	}
	return visitDate.UTC()
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
