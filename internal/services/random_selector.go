package services

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/forkcast/api/internal/platform/textutil"
)

type globalRandom struct{}

// Float64 draws from the runtime-seeded generator, which is safe for concurrent use.
func (globalRandom) Float64() float64 { return rand.Float64() }

// DefaultRandomSource returns the process-wide random source.
func DefaultRandomSource() RandomSource { return globalRandom{} }

// Selection is the outcome of a weighted random draw.
type Selection struct {
	RestaurantID   string
	Weight         float64
	Probability    float64
	SelectionCount int
	// Probabilities maps every candidate to its normalised selection probability.
	Probabilities map[string]float64
}

// RandomSelector picks restaurants with probability proportional to their selection weight.
type RandomSelector struct {
	params WeightingParams
	rng    RandomSource
}

// NewRandomSelector constructs a selector. A nil source falls back to DefaultRandomSource.
func NewRandomSelector(params WeightingParams, rng RandomSource) RandomSelector {
	if rng == nil {
		rng = DefaultRandomSource()
	}
	return RandomSelector{params: params, rng: rng}
}

// Select draws one restaurant from restaurantIDs using weights derived from stats.
func (s RandomSelector) Select(restaurantIDs []string, stats map[string]SelectionStatistic, now time.Time) (Selection, error) {
	candidates := textutil.NormalizeIDs(restaurantIDs)
	if len(candidates) == 0 {
		return Selection{}, ErrEmptyCollection
	}

	weights := make([]float64, len(candidates))
	var total float64
	for i, id := range candidates {
		weights[i] = SelectionWeight(statisticFor(stats, id), now, s.params)
		total += weights[i]
	}

	r := s.rng.Float64() * total
	chosen := len(candidates) - 1
	var cumulative float64
	for i, weight := range weights {
		cumulative += weight
		if cumulative > r {
			chosen = i
			break
		}
	}

	probabilities := make(map[string]float64, len(candidates))
	for i, id := range candidates {
		probabilities[id] = weights[i] / total
	}

	id := candidates[chosen]
	return Selection{
		RestaurantID:   id,
		Weight:         weights[chosen],
		Probability:    probabilities[id],
		SelectionCount: statisticFor(stats, id).SelectionCount,
		Probabilities:  probabilities,
	}, nil
}

// Reasoning describes the draw for storage on the decision result.
func (sel Selection) Reasoning() string {
	return fmt.Sprintf("Weighted random selection: weight %.2f (%.1f%% chance), previously selected %d time(s)",
		sel.Weight, sel.Probability*100, sel.SelectionCount)
}
