package domain

import "time"

// DecisionType distinguishes single-user decisions from group decisions.
type DecisionType string

const (
	// DecisionTypePersonal is decided by one user on their own.
	DecisionTypePersonal DecisionType = "personal"
	// DecisionTypeGroup is decided on behalf of a group.
	DecisionTypeGroup DecisionType = "group"
)

// DecisionMethod selects how the winning restaurant is chosen.
type DecisionMethod string

const (
	// DecisionMethodRandom picks a restaurant by weighted random draw.
	DecisionMethodRandom DecisionMethod = "random"
	// DecisionMethodTiered collects ranked votes and tabulates them.
	DecisionMethodTiered DecisionMethod = "tiered"
)

// DecisionStatus enumerates lifecycle states for a decision.
type DecisionStatus string

const (
	// DecisionStatusActive accepts votes and may still be completed or closed.
	DecisionStatusActive DecisionStatus = "active"
	// DecisionStatusCompleted carries a result.
	DecisionStatusCompleted DecisionStatus = "completed"
	// DecisionStatusClosed was ended without a result.
	DecisionStatusClosed DecisionStatus = "closed"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s DecisionStatus) IsTerminal() bool {
	return s == DecisionStatusCompleted || s == DecisionStatusClosed
}

// Valid reports whether the type is a known value.
func (t DecisionType) Valid() bool {
	return t == DecisionTypePersonal || t == DecisionTypeGroup
}

// Valid reports whether the method is a known value.
func (m DecisionMethod) Valid() bool {
	return m == DecisionMethodRandom || m == DecisionMethodTiered
}

// Valid reports whether the status is a known value.
func (s DecisionStatus) Valid() bool {
	return s == DecisionStatusActive || s == DecisionStatusCompleted || s == DecisionStatusClosed
}

// Decision is the engine's record of an in-progress or resolved choice over a collection.
type Decision struct {
	ID           string
	Type         DecisionType
	CollectionID string
	GroupID      string
	Method       DecisionMethod
	Status       DecisionStatus
	CreatedBy    string
	Deadline     time.Time
	VisitDate    time.Time
	Participants []string
	Votes        map[string]Vote
	Result       *DecisionResult
	ClosedBy     string
	ClosedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsParticipant reports whether userID may vote on the decision.
func (d Decision) IsParticipant(userID string) bool {
	for _, participant := range d.Participants {
		if participant == userID {
			return true
		}
	}
	return false
}

// VoteList returns the submitted votes ordered by participant order.
func (d Decision) VoteList() []Vote {
	if len(d.Votes) == 0 {
		return nil
	}
	out := make([]Vote, 0, len(d.Votes))
	seen := make(map[string]struct{}, len(d.Votes))
	for _, participant := range d.Participants {
		if vote, ok := d.Votes[participant]; ok {
			out = append(out, vote)
			seen[participant] = struct{}{}
		}
	}
	for userID, vote := range d.Votes {
		if _, ok := seen[userID]; !ok {
			out = append(out, vote)
		}
	}
	return out
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (d Decision) Clone() Decision {
	out := d
	if d.Participants != nil {
		out.Participants = append([]string(nil), d.Participants...)
	}
	if d.Votes != nil {
		out.Votes = make(map[string]Vote, len(d.Votes))
		for userID, vote := range d.Votes {
			out.Votes[userID] = vote.Clone()
		}
	}
	if d.Result != nil {
		result := d.Result.Clone()
		out.Result = &result
	}
	if d.ClosedAt != nil {
		closedAt := *d.ClosedAt
		out.ClosedAt = &closedAt
	}
	return out
}

// Vote is one participant's ranking, most preferred restaurant first.
type Vote struct {
	UserID      string
	Rankings    []string
	SubmittedAt time.Time
}

// Clone returns a deep copy of the vote.
func (v Vote) Clone() Vote {
	out := v
	if v.Rankings != nil {
		out.Rankings = append([]string(nil), v.Rankings...)
	}
	return out
}

// DecisionResult captures the outcome of a completed decision.
type DecisionResult struct {
	RestaurantID string
	SelectedAt   time.Time
	Reasoning    string
	Weights      map[string]float64
}

// Clone returns a deep copy of the result.
func (r DecisionResult) Clone() DecisionResult {
	out := r
	if r.Weights != nil {
		out.Weights = make(map[string]float64, len(r.Weights))
		for id, weight := range r.Weights {
			out.Weights[id] = weight
		}
	}
	return out
}

// SelectionStatistic summarises how often a restaurant has won in a collection.
type SelectionStatistic struct {
	RestaurantID   string
	SelectionCount int
	LastSelected   *time.Time
	CurrentWeight  float64
}

// DecisionStatistics aggregates per-restaurant selection statistics for a collection.
type DecisionStatistics struct {
	CollectionID   string
	TotalDecisions int
	Restaurants    []SelectionStatistic
	GeneratedAt    time.Time
}
