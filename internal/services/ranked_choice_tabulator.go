package services

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TabulationMethod selects the group-consensus counting rule for tiered decisions.
type TabulationMethod string

const (
	// TabulationBorda awards k-p+1 points to the restaurant ranked p-th on a ballot of length k.
	TabulationBorda TabulationMethod = "borda"
	// TabulationInstantRunoff repeatedly eliminates the restaurant with the fewest first preferences.
	TabulationInstantRunoff TabulationMethod = "irv"
)

// Valid reports whether m is a known method.
func (m TabulationMethod) Valid() bool {
	return m == TabulationBorda || m == TabulationInstantRunoff
}

// Tabulation is the outcome of counting a set of ballots. Scores holds the Borda points of every
// candidate under both methods; FinalRound holds the first-preference counts of the deciding
// instant-runoff round and is nil for Borda.
type Tabulation struct {
	WinnerID     string
	Scores       map[string]float64
	FinalRound   map[string]float64
	VotesCounted int
	Participants int
	TieBroken    bool
	Rounds       int
	Reasoning    string
}

// RankedChoiceTabulator turns ranked ballots into a single winning restaurant.
type RankedChoiceTabulator struct {
	method TabulationMethod
	params WeightingParams
}

// NewRankedChoiceTabulator constructs a tabulator. Unknown methods fall back to Borda.
func NewRankedChoiceTabulator(method TabulationMethod, params WeightingParams) RankedChoiceTabulator {
	if !method.Valid() {
		method = TabulationBorda
	}
	return RankedChoiceTabulator{method: method, params: params}
}

// Method reports the counting rule in use.
func (t RankedChoiceTabulator) Method() TabulationMethod { return t.method }

// Tabulate counts votes over the collection's restaurants. Ballot entries outside the collection
// are ignored. Ties on the top score go to the restaurant with the higher selection weight, then
// to the lexicographically smallest id.
func (t RankedChoiceTabulator) Tabulate(restaurantIDs []string, votes []Vote, participants int, stats map[string]SelectionStatistic, now time.Time) (Tabulation, error) {
	if len(votes) == 0 {
		return Tabulation{}, ErrNoVotes
	}
	candidates := make(map[string]struct{}, len(restaurantIDs))
	for _, id := range restaurantIDs {
		candidates[id] = struct{}{}
	}
	if len(candidates) == 0 {
		return Tabulation{}, ErrEmptyCollection
	}

	ballots := make([][]string, 0, len(votes))
	for _, vote := range votes {
		ballot := make([]string, 0, len(vote.Rankings))
		for _, id := range vote.Rankings {
			if _, ok := candidates[id]; ok && !slices.Contains(ballot, id) {
				ballot = append(ballot, id)
			}
		}
		ballots = append(ballots, ballot)
	}
	if participants < len(votes) {
		participants = len(votes)
	}

	borda := bordaScores(candidates, ballots)

	var out Tabulation
	switch t.method {
	case TabulationInstantRunoff:
		out = t.instantRunoff(candidates, ballots, borda, stats, now)
	default:
		winner, tied := t.breakTie(topScorers(borda), stats, now)
		out = Tabulation{WinnerID: winner, Scores: borda, TieBroken: tied, Rounds: 1}
	}
	out.VotesCounted = len(votes)
	out.Participants = participants
	out.Reasoning = t.reasoning(out)
	return out, nil
}

func bordaScores(candidates map[string]struct{}, ballots [][]string) map[string]float64 {
	scores := make(map[string]float64, len(candidates))
	for id := range candidates {
		scores[id] = 0
	}
	for _, ballot := range ballots {
		k := len(ballot)
		for p, id := range ballot {
			scores[id] += float64(k - p)
		}
	}
	return scores
}

func topScorers(scores map[string]float64) []string {
	var (
		best  float64
		top   []string
		first = true
	)
	for id, score := range scores {
		switch {
		case first || score > best:
			best = score
			top = []string{id}
			first = false
		case score == best:
			top = append(top, id)
		}
	}
	return top
}

// breakTie picks the highest-weight id, then the smallest id. It reports whether a tie existed.
func (t RankedChoiceTabulator) breakTie(tied []string, stats map[string]SelectionStatistic, now time.Time) (string, bool) {
	slices.Sort(tied)
	winner := tied[0]
	bestWeight := SelectionWeight(statisticFor(stats, winner), now, t.params)
	for _, id := range tied[1:] {
		if weight := SelectionWeight(statisticFor(stats, id), now, t.params); weight > bestWeight {
			winner = id
			bestWeight = weight
		}
	}
	return winner, len(tied) > 1
}

func (t RankedChoiceTabulator) instantRunoff(candidates map[string]struct{}, ballots [][]string, borda map[string]float64, stats map[string]SelectionStatistic, now time.Time) Tabulation {
	remaining := make(map[string]struct{}, len(candidates))
	for id := range candidates {
		remaining[id] = struct{}{}
	}

	for round := 1; ; round++ {
		tally := make(map[string]float64, len(remaining))
		for id := range remaining {
			tally[id] = 0
		}
		active := 0
		for _, ballot := range ballots {
			for _, id := range ballot {
				if _, ok := remaining[id]; ok {
					tally[id]++
					active++
					break
				}
			}
		}

		leaders := topScorers(tally)
		if len(remaining) == 1 || (active > 0 && tally[leaders[0]]*2 > float64(active)) {
			winner, tied := t.breakTie(leaders, stats, now)
			return Tabulation{WinnerID: winner, Scores: borda, FinalRound: tally, TieBroken: tied, Rounds: round}
		}

		trailing := bottomScorers(tally)
		if len(trailing) == len(remaining) {
			// Every remaining restaurant has the same first-preference count.
			winner, tied := t.breakTie(topScorers(restrict(borda, remaining)), stats, now)
			return Tabulation{WinnerID: winner, Scores: borda, FinalRound: tally, TieBroken: tied, Rounds: round}
		}
		delete(remaining, eliminationTarget(trailing, borda))
	}
}

func bottomScorers(scores map[string]float64) []string {
	var (
		worst  float64
		bottom []string
		first  = true
	)
	for id, score := range scores {
		switch {
		case first || score < worst:
			worst = score
			bottom = []string{id}
			first = false
		case score == worst:
			bottom = append(bottom, id)
		}
	}
	return bottom
}

// eliminationTarget drops the lowest Borda score among trailing restaurants, then the largest id.
func eliminationTarget(trailing []string, borda map[string]float64) string {
	slices.Sort(trailing)
	target := trailing[len(trailing)-1]
	for i := len(trailing) - 2; i >= 0; i-- {
		if borda[trailing[i]] < borda[target] {
			target = trailing[i]
		}
	}
	return target
}

func restrict(scores map[string]float64, keep map[string]struct{}) map[string]float64 {
	out := make(map[string]float64, len(keep))
	for id := range keep {
		out[id] = scores[id]
	}
	return out
}

func (t RankedChoiceTabulator) reasoning(tab Tabulation) string {
	var b strings.Builder
	switch t.method {
	case TabulationInstantRunoff:
		fmt.Fprintf(&b, "Instant-runoff winner with %s first-preference votes after %d round(s)",
			formatScore(tab.FinalRound[tab.WinnerID]), tab.Rounds)
	default:
		fmt.Fprintf(&b, "Borda count winner with %s points", formatScore(tab.Scores[tab.WinnerID]))
	}
	fmt.Fprintf(&b, "; %d of %d eligible participants voted", tab.VotesCounted, tab.Participants)
	if tab.TieBroken {
		b.WriteString("; tie broken by selection weight")
	}
	return b.String()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
