package services

import (
	"context"
	"time"

	domain "github.com/forkcast/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Decision           = domain.Decision
	DecisionResult     = domain.DecisionResult
	DecisionType       = domain.DecisionType
	DecisionMethod     = domain.DecisionMethod
	DecisionStatus     = domain.DecisionStatus
	Vote               = domain.Vote
	SelectionStatistic = domain.SelectionStatistic
	DecisionStatistics = domain.DecisionStatistics
	HealthReport       = domain.HealthReport
)

// DecisionService owns the decision lifecycle: creation, vote intake, completion, closure and the
// read-side history and statistics queries.
type DecisionService interface {
	CreatePersonalDecision(ctx context.Context, cmd CreatePersonalDecisionCommand) (Decision, error)
	CreateGroupDecision(ctx context.Context, cmd CreateGroupDecisionCommand) (Decision, error)
	SubmitGroupVote(ctx context.Context, cmd SubmitGroupVoteCommand) (VoteReceipt, error)
	CompleteTieredGroupDecision(ctx context.Context, cmd CompleteDecisionCommand) (DecisionResult, error)
	CloseGroupDecision(ctx context.Context, cmd CloseDecisionCommand) (Decision, error)
	ResolveGroupParticipants(ctx context.Context, groupID string) ([]string, error)
	GetDecisionHistory(ctx context.Context, filter DecisionHistoryFilter) (domain.Page[Decision], error)
	GetActiveGroupDecisions(ctx context.Context, query ActiveGroupDecisionsQuery) ([]Decision, error)
	GetGroupDecision(ctx context.Context, query GetDecisionQuery) (Decision, error)
	GetDecisionStatistics(ctx context.Context, collectionID string) (DecisionStatistics, error)
	ListExpiredDecisions(ctx context.Context, before time.Time, limit int) ([]Decision, error)
}

// SystemService exposes readiness information for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// DecisionNotifier is told about completed decisions. Delivery is best effort.
type DecisionNotifier interface {
	NotifyDecisionCompleted(ctx context.Context, decision Decision, result DecisionResult) error
}

// RandomSource yields uniform draws in [0, 1). Implementations must be safe for concurrent use.
type RandomSource interface {
	Float64() float64
}

type CreatePersonalDecisionCommand struct {
	CollectionID string
	UserID       string
	Method       DecisionMethod
	VisitDate    time.Time
}

type CreateGroupDecisionCommand struct {
	CollectionID  string
	GroupID       string
	CreatedBy     string
	Participants  []string
	Method        DecisionMethod
	VisitDate     time.Time
	DeadlineHours int
}

type SubmitGroupVoteCommand struct {
	DecisionID string
	UserID     string
	Rankings   []string
}

// VoteReceipt acknowledges a stored vote.
type VoteReceipt struct {
	DecisionID  string
	UserID      string
	SubmittedAt time.Time
	Replaced    bool
	VotesCount  int
	Message     string
}

// CompleteDecisionCommand completes a tiered decision. System marks calls from the deadline
// scheduler, which are not tied to a participant.
type CompleteDecisionCommand struct {
	DecisionID string
	ActorID    string
	System     bool
}

// CloseDecisionCommand closes an active decision without a result.
type CloseDecisionCommand struct {
	DecisionID string
	UserID     string
	System     bool
}

// DecisionHistoryFilter narrows decision history. Search matches resolved restaurant names.
type DecisionHistoryFilter struct {
	ViewerID     string
	CollectionID string
	GroupID      string
	Type         DecisionType
	Status       DecisionStatus
	RestaurantID string
	VisitDate    domain.RangeQuery[time.Time]
	Search       string
	Pagination   Pagination
}

type ActiveGroupDecisionsQuery struct {
	GroupID  string
	ViewerID string
}

type GetDecisionQuery struct {
	DecisionID string
	ViewerID   string
	System     bool
}
