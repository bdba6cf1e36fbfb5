package handlers

import (
	"github.com/forkcast/api/internal/services"
)

type decisionResponse struct {
	Decision decisionPayload `json:"decision"`
}

type decisionListResponse struct {
	Items      []decisionPayload `json:"items"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	HasMore    bool              `json:"has_more"`
	NextOffset *int              `json:"next_offset,omitempty"`
}

type decisionPayload struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	CollectionID string         `json:"collection_id"`
	GroupID      string         `json:"group_id,omitempty"`
	Method       string         `json:"method"`
	Status       string         `json:"status"`
	CreatedBy    string         `json:"created_by"`
	Deadline     string         `json:"deadline"`
	VisitDate    string         `json:"visit_date"`
	Participants []string       `json:"participants"`
	Votes        []votePayload  `json:"votes"`
	Result       *resultPayload `json:"result,omitempty"`
	ClosedBy     string         `json:"closed_by,omitempty"`
	ClosedAt     string         `json:"closed_at,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

type votePayload struct {
	UserID      string   `json:"user_id"`
	Rankings    []string `json:"rankings"`
	SubmittedAt string   `json:"submitted_at"`
}

type resultPayload struct {
	RestaurantID string             `json:"restaurant_id"`
	SelectedAt   string             `json:"selected_at"`
	Reasoning    string             `json:"reasoning"`
	Weights      map[string]float64 `json:"weights,omitempty"`
}

type completeDecisionResponse struct {
	DecisionID string        `json:"decision_id"`
	Result     resultPayload `json:"result"`
}

type voteReceiptPayload struct {
	DecisionID  string `json:"decision_id"`
	UserID      string `json:"user_id"`
	SubmittedAt string `json:"submitted_at"`
	Replaced    bool   `json:"replaced"`
	VotesCount  int    `json:"votes_count"`
	Message     string `json:"message"`
}

type statisticsPayload struct {
	CollectionID   string                      `json:"collection_id"`
	TotalDecisions int                         `json:"total_decisions"`
	GeneratedAt    string                      `json:"generated_at"`
	Restaurants    []selectionStatisticPayload `json:"restaurants"`
}

type selectionStatisticPayload struct {
	RestaurantID   string  `json:"restaurant_id"`
	SelectionCount int     `json:"selection_count"`
	LastSelected   string  `json:"last_selected,omitempty"`
	CurrentWeight  float64 `json:"current_weight"`
}

func buildDecisionPayload(decision services.Decision) decisionPayload {
	payload := decisionPayload{
		ID:           decision.ID,
		Type:         string(decision.Type),
		CollectionID: decision.CollectionID,
		GroupID:      decision.GroupID,
		Method:       string(decision.Method),
		Status:       string(decision.Status),
		CreatedBy:    decision.CreatedBy,
		Deadline:     formatTime(decision.Deadline),
		VisitDate:    formatTime(decision.VisitDate),
		Participants: append([]string{}, decision.Participants...),
		Votes:        []votePayload{},
		ClosedBy:     decision.ClosedBy,
		ClosedAt:     formatTimePointer(decision.ClosedAt),
		CreatedAt:    formatTime(decision.CreatedAt),
		UpdatedAt:    formatTime(decision.UpdatedAt),
	}
	for _, vote := range decision.VoteList() {
		payload.Votes = append(payload.Votes, votePayload{
			UserID:      vote.UserID,
			Rankings:    append([]string{}, vote.Rankings...),
			SubmittedAt: formatTime(vote.SubmittedAt),
		})
	}
	if decision.Result != nil {
		result := buildResultPayload(*decision.Result)
		payload.Result = &result
	}
	return payload
}

func buildResultPayload(result services.DecisionResult) resultPayload {
	return resultPayload{
		RestaurantID: result.RestaurantID,
		SelectedAt:   formatTime(result.SelectedAt),
		Reasoning:    result.Reasoning,
		Weights:      result.Clone().Weights,
	}
}
