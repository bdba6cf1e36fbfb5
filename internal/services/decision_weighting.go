package services

import (
	"fmt"
	"math"
	"slices"
	"time"
)

const (
	defaultDecayPerSelection = 0.05
	defaultRecencyWindowDays = 30
	defaultMinWeight         = 0.1
	defaultMaxWeight         = 1.0
)

// WeightingParams tunes the anti-repetition weighting. Each selection costs DecayPerSelection of
// weight; the penalty is earned back linearly over RecencyWindowDays after the last selection.
type WeightingParams struct {
	DecayPerSelection float64
	RecencyWindowDays float64
	MinWeight         float64
	MaxWeight         float64
}

// DefaultWeightingParams returns the standard weighting constants.
func DefaultWeightingParams() WeightingParams {
	return WeightingParams{
		DecayPerSelection: defaultDecayPerSelection,
		RecencyWindowDays: defaultRecencyWindowDays,
		MinWeight:         defaultMinWeight,
		MaxWeight:         defaultMaxWeight,
	}
}

// Validate ensures weights stay within (0, 1].
func (p WeightingParams) Validate() error {
	if p.DecayPerSelection < 0 || math.IsNaN(p.DecayPerSelection) {
		return fmt.Errorf("weighting: decay per selection must be >= 0")
	}
	if !(p.RecencyWindowDays > 0) {
		return fmt.Errorf("weighting: recency window must be > 0")
	}
	if !(p.MinWeight > 0) || p.MinWeight > p.MaxWeight || p.MaxWeight > 1 {
		return fmt.Errorf("weighting: require 0 < min weight <= max weight <= 1")
	}
	return nil
}

// SelectionWeight computes the selection weight for a restaurant given its history.
func SelectionWeight(stat SelectionStatistic, now time.Time, params WeightingParams) float64 {
	penalty := params.DecayPerSelection * float64(stat.SelectionCount)

	var recovered float64
	if stat.LastSelected != nil && penalty > 0 {
		days := now.Sub(*stat.LastSelected).Hours() / 24
		days = math.Max(0, math.Min(days, params.RecencyWindowDays))
		recovered = days / params.RecencyWindowDays
	}

	// 1 - penalty + recovered*penalty, arranged so a full window restores exactly 1.
	weight := 1 - penalty*(1-recovered)
	return math.Max(params.MinWeight, math.Min(params.MaxWeight, weight))
}

// selectionStatistics derives per-restaurant statistics from completed decisions.
func selectionStatistics(completed []Decision) map[string]SelectionStatistic {
	stats := make(map[string]SelectionStatistic)
	for _, decision := range completed {
		if decision.Result == nil || decision.Result.RestaurantID == "" {
			continue
		}
		id := decision.Result.RestaurantID
		stat := stats[id]
		stat.RestaurantID = id
		stat.SelectionCount++
		selectedAt := decision.Result.SelectedAt
		if stat.LastSelected == nil || selectedAt.After(*stat.LastSelected) {
			stat.LastSelected = &selectedAt
		}
		stats[id] = stat
	}
	return stats
}

func statisticFor(stats map[string]SelectionStatistic, restaurantID string) SelectionStatistic {
	if stat, ok := stats[restaurantID]; ok {
		return stat
	}
	return SelectionStatistic{RestaurantID: restaurantID}
}

// rankStatistics orders statistics by selection count, most selected first, then by id.
func rankStatistics(stats map[string]SelectionStatistic, now time.Time, params WeightingParams) []SelectionStatistic {
	out := make([]SelectionStatistic, 0, len(stats))
	for _, stat := range stats {
		stat.CurrentWeight = SelectionWeight(stat, now, params)
		out = append(out, stat)
	}
	slices.SortFunc(out, func(a, b SelectionStatistic) int {
		if a.SelectionCount != b.SelectionCount {
			return b.SelectionCount - a.SelectionCount
		}
		switch {
		case a.RestaurantID < b.RestaurantID:
			return -1
		case a.RestaurantID > b.RestaurantID:
			return 1
		}
		return 0
	})
	return out
}
