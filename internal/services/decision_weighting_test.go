package services

import (
	"testing"
	"time"
)

func statAt(count int, last *time.Time) SelectionStatistic {
	return SelectionStatistic{RestaurantID: "r1", SelectionCount: count, LastSelected: last}
}

func TestSelectionWeightNeverSelected(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	if got := SelectionWeight(statAt(0, nil), now, DefaultWeightingParams()); got != 1.0 {
		t.Fatalf("expected weight 1.0, got %v", got)
	}
}

func TestSelectionWeightBounds(t *testing.T) {
	params := DefaultWeightingParams()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	for count := 0; count <= 200; count += 7 {
		for _, elapsed := range []time.Duration{0, time.Hour, 24 * time.Hour, 15 * 24 * time.Hour, 90 * 24 * time.Hour, -time.Hour} {
			last := now.Add(-elapsed)
			weight := SelectionWeight(statAt(count, &last), now, params)
			if weight < params.MinWeight || weight > params.MaxWeight {
				t.Fatalf("count=%d elapsed=%s: weight %v out of bounds", count, elapsed, weight)
			}
		}
	}
}

func TestSelectionWeightMonotonicInCount(t *testing.T) {
	params := DefaultWeightingParams()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	last := now.Add(-5 * 24 * time.Hour)
	previous := SelectionWeight(statAt(0, &last), now, params)
	for count := 1; count <= 40; count++ {
		weight := SelectionWeight(statAt(count, &last), now, params)
		if weight > previous {
			t.Fatalf("count=%d: weight increased from %v to %v", count, previous, weight)
		}
		previous = weight
	}
}

func TestSelectionWeightRecoversOverTime(t *testing.T) {
	params := DefaultWeightingParams()
	last := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	previous := SelectionWeight(statAt(6, &last), last, params)
	if previous >= 1.0 {
		t.Fatalf("expected penalty right after selection, got %v", previous)
	}
	for day := 1; day <= 45; day++ {
		weight := SelectionWeight(statAt(6, &last), last.Add(time.Duration(day)*24*time.Hour), params)
		if weight < previous {
			t.Fatalf("day %d: weight decreased from %v to %v", day, previous, weight)
		}
		previous = weight
	}
	if 1.0-previous > 1e-9 {
		t.Fatalf("expected full recovery after the window, got %v", previous)
	}
}

func TestSelectionWeightFormula(t *testing.T) {
	params := DefaultWeightingParams()
	last := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	// penalty 0.5, ten of thirty days recovered: 1 - 0.5 + 0.5/3
	got := SelectionWeight(statAt(10, &last), last.Add(10*24*time.Hour), params)
	want := 1 - 0.5 + 0.5/3
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestWeightingParamsValidate(t *testing.T) {
	if err := DefaultWeightingParams().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	invalid := []WeightingParams{
		{DecayPerSelection: -1, RecencyWindowDays: 30, MinWeight: 0.1, MaxWeight: 1},
		{DecayPerSelection: 0.05, RecencyWindowDays: 0, MinWeight: 0.1, MaxWeight: 1},
		{DecayPerSelection: 0.05, RecencyWindowDays: 30, MinWeight: 0, MaxWeight: 1},
		{DecayPerSelection: 0.05, RecencyWindowDays: 30, MinWeight: 0.5, MaxWeight: 0.4},
		{DecayPerSelection: 0.05, RecencyWindowDays: 30, MinWeight: 0.1, MaxWeight: 1.5},
	}
	for i, params := range invalid {
		if err := params.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, params)
		}
	}
}

func TestSelectionStatisticsFromHistory(t *testing.T) {
	first := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(72 * time.Hour)
	completed := []Decision{
		{Result: &DecisionResult{RestaurantID: "a", SelectedAt: first}},
		{Result: &DecisionResult{RestaurantID: "a", SelectedAt: second}},
		{Result: &DecisionResult{RestaurantID: "b", SelectedAt: first}},
		{},
	}
	stats := selectionStatistics(completed)
	if stats["a"].SelectionCount != 2 || !stats["a"].LastSelected.Equal(second) {
		t.Fatalf("unexpected stats for a: %+v", stats["a"])
	}
	if stats["b"].SelectionCount != 1 {
		t.Fatalf("unexpected stats for b: %+v", stats["b"])
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 restaurants, got %d", len(stats))
	}
}
