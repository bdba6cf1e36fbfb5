package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/repositories"
	"github.com/forkcast/api/internal/repositories/memory"
)

type decisionFixture struct {
	svc         DecisionService
	collections *memory.CollectionRepository
	groups      *memory.GroupRepository
	decisions   *memory.DecisionRepository
	notifier    *recordingNotifier
	now         time.Time
	clock       *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed chan Decision
	err       error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{completed: make(chan Decision, 16)}
}

func (n *recordingNotifier) NotifyDecisionCompleted(ctx context.Context, decision Decision, result DecisionResult) error {
	n.mu.Lock()
	err := n.err
	n.mu.Unlock()
	n.completed <- decision
	return err
}

func (n *recordingNotifier) wait(t *testing.T) Decision {
	t.Helper()
	select {
	case decision := <-n.completed:
		return decision
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion notification")
	}
	return Decision{}
}

func newDecisionFixture(t *testing.T, opts ...func(*DecisionServiceDeps)) *decisionFixture {
	t.Helper()

	now := time.Date(2025, time.June, 1, 18, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	collections := memory.NewCollectionRepository(
		domain.Collection{ID: "col_1", OwnerID: "u1", RestaurantIDs: []string{"A", "B", "C"}},
		domain.Collection{ID: "col_group", GroupID: "grp_1", RestaurantIDs: []string{"A", "B", "C"}},
		domain.Collection{ID: "col_other_group", GroupID: "grp_2", RestaurantIDs: []string{"A"}},
		domain.Collection{ID: "col_empty", OwnerID: "u1"},
	)
	collections.PutRestaurantName("A", "Alpha Noodle Bar")
	collections.PutRestaurantName("B", "Bravo Tacos")
	collections.PutRestaurantName("C", "Charlie Pizza")
	groups := memory.NewGroupRepository(domain.GroupMembership{
		GroupID:   "grp_1",
		AdminIDs:  []string{"u1"},
		MemberIDs: []string{"u2", "u3", "u1"},
	})
	decisions := memory.NewDecisionRepository()
	notifier := newRecordingNotifier()

	var seq int
	var seqMu sync.Mutex
	deps := DecisionServiceDeps{
		Collections: collections,
		Groups:      groups,
		Decisions:   decisions,
		Notifier:    notifier,
		Random:      &sequenceRandom{values: []float64{0.1}},
		Clock:       clock.Now,
		IDGenerator: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("dec_%03d", seq)
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewDecisionService(deps)
	if err != nil {
		t.Fatalf("NewDecisionService: %v", err)
	}
	return &decisionFixture{
		svc:         svc,
		collections: collections,
		groups:      groups,
		decisions:   decisions,
		notifier:    notifier,
		now:         now,
		clock:       clock,
	}
}

func (f *decisionFixture) tieredGroupDecision(t *testing.T) Decision {
	t.Helper()
	decision, err := f.svc.CreateGroupDecision(context.Background(), CreateGroupDecisionCommand{
		CollectionID:  "col_group",
		GroupID:       "grp_1",
		CreatedBy:     "u1",
		Participants:  []string{"u1", "u2", "u3"},
		Method:        domain.DecisionMethodTiered,
		VisitDate:     f.now.Add(24 * time.Hour),
		DeadlineHours: 6,
	})
	if err != nil {
		t.Fatalf("CreateGroupDecision: %v", err)
	}
	return decision
}

func TestNewDecisionServiceValidatesDeps(t *testing.T) {
	if _, err := NewDecisionService(DecisionServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing repositories")
	}
	_, err := NewDecisionService(DecisionServiceDeps{
		Collections: memory.NewCollectionRepository(),
		Groups:      memory.NewGroupRepository(),
		Decisions:   memory.NewDecisionRepository(),
		Settings: DecisionSettings{
			Weighting: WeightingParams{DecayPerSelection: 0.05, RecencyWindowDays: 30, MinWeight: 0.9, MaxWeight: 0.5},
		},
	})
	if err == nil {
		t.Fatalf("expected invalid weighting to be rejected")
	}
}

func TestCreatePersonalDecisionRandomCompletesImmediately(t *testing.T) {
	f := newDecisionFixture(t)

	decision, err := f.svc.CreatePersonalDecision(context.Background(), CreatePersonalDecisionCommand{
		CollectionID: "col_1",
		UserID:       "u1",
		Method:       domain.DecisionMethodRandom,
	})
	if err != nil {
		t.Fatalf("CreatePersonalDecision: %v", err)
	}
	if decision.Status != domain.DecisionStatusCompleted || decision.Type != domain.DecisionTypePersonal {
		t.Fatalf("expected completed personal decision, got %+v", decision)
	}
	if decision.Result == nil || decision.Result.RestaurantID != "A" {
		t.Fatalf("expected draw 0.1 to pick A, got %+v", decision.Result)
	}
	if len(decision.Participants) != 0 || len(decision.Votes) != 0 {
		t.Fatalf("expected personal decision without participants or votes")
	}
	if got := decision.Result.Weights["A"]; got < 0.333 || got > 0.334 {
		t.Fatalf("expected equal probabilities, got %v", decision.Result.Weights)
	}
	if !decision.Deadline.Equal(f.now) || !decision.VisitDate.Equal(f.now) {
		t.Fatalf("expected deadline and visit date to default to now, got %s %s", decision.Deadline, decision.VisitDate)
	}

	notified := f.notifier.wait(t)
	if notified.ID != decision.ID {
		t.Fatalf("expected notification for %s, got %s", decision.ID, notified.ID)
	}

	// Completed personal decisions hold no active slot.
	if _, err := f.svc.CreatePersonalDecision(context.Background(), CreatePersonalDecisionCommand{
		CollectionID: "col_1",
		UserID:       "u1",
		Method:       domain.DecisionMethodRandom,
	}); err != nil {
		t.Fatalf("expected a second random decision to succeed, got %v", err)
	}
}

func TestCreatePersonalDecisionRejectsTiered(t *testing.T) {
	f := newDecisionFixture(t)
	_, err := f.svc.CreatePersonalDecision(context.Background(), CreatePersonalDecisionCommand{
		CollectionID: "col_1",
		UserID:       "u1",
		Method:       domain.DecisionMethodTiered,
	})
	if !errors.Is(err, ErrUnsupportedMethod) || !errors.Is(err, ErrDecisionInvalidInput) {
		t.Fatalf("expected unsupported method, got %v", err)
	}
}

func TestCreatePersonalDecisionCollectionErrors(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePersonalDecision(ctx, CreatePersonalDecisionCommand{CollectionID: "missing", UserID: "u1", Method: domain.DecisionMethodRandom})
	if !errors.Is(err, ErrCollectionNotFound) || !errors.Is(err, ErrDecisionNotFound) {
		t.Fatalf("expected collection not found, got %v", err)
	}
	_, err = f.svc.CreatePersonalDecision(ctx, CreatePersonalDecisionCommand{CollectionID: "col_empty", UserID: "u1", Method: domain.DecisionMethodRandom})
	if !errors.Is(err, ErrEmptyCollection) {
		t.Fatalf("expected empty collection, got %v", err)
	}
}

func TestCreateDecisionRejectsSecondActive(t *testing.T) {
	f := newDecisionFixture(t)
	f.tieredGroupDecision(t)

	_, err := f.svc.CreateGroupDecision(context.Background(), CreateGroupDecisionCommand{
		CollectionID: "col_group",
		GroupID:      "grp_1",
		CreatedBy:    "u2",
		Participants: []string{"u2"},
		Method:       domain.DecisionMethodTiered,
	})
	if !errors.Is(err, ErrActiveDecisionExists) || !errors.Is(err, ErrDecisionConflict) {
		t.Fatalf("expected active decision conflict, got %v", err)
	}

	_, err = f.svc.CreatePersonalDecision(context.Background(), CreatePersonalDecisionCommand{
		CollectionID: "col_group",
		UserID:       "u2",
		Method:       domain.DecisionMethodRandom,
	})
	if !errors.Is(err, ErrDecisionConflict) {
		t.Fatalf("expected random decision to be blocked by the active one, got %v", err)
	}
}

func TestCreateGroupDecisionValidation(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()
	base := CreateGroupDecisionCommand{
		CollectionID: "col_group",
		GroupID:      "grp_1",
		CreatedBy:    "u1",
		Participants: []string{"u1", "u2"},
		Method:       domain.DecisionMethodTiered,
	}

	cases := []struct {
		name   string
		mutate func(*CreateGroupDecisionCommand)
		want   error
	}{
		{name: "creator not participant", mutate: func(c *CreateGroupDecisionCommand) { c.CreatedBy = "u9" }, want: ErrNotAParticipant},
		{name: "no participants", mutate: func(c *CreateGroupDecisionCommand) { c.Participants = []string{" "} }, want: ErrDecisionInvalidInput},
		{name: "deadline too long", mutate: func(c *CreateGroupDecisionCommand) { c.DeadlineHours = 24*14 + 1 }, want: ErrDecisionInvalidInput},
		{name: "deadline overflowing duration", mutate: func(c *CreateGroupDecisionCommand) { c.DeadlineHours = 3_000_000 }, want: ErrDecisionInvalidInput},
		{name: "unknown method", mutate: func(c *CreateGroupDecisionCommand) { c.Method = "coin" }, want: ErrDecisionInvalidInput},
		{name: "collection of another group", mutate: func(c *CreateGroupDecisionCommand) { c.CollectionID = "col_other_group" }, want: ErrNotAuthorized},
		{name: "missing collection", mutate: func(c *CreateGroupDecisionCommand) { c.CollectionID = "nope" }, want: ErrCollectionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			cmd.Participants = append([]string(nil), base.Participants...)
			tc.mutate(&cmd)
			if _, err := f.svc.CreateGroupDecision(ctx, cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateGroupDecisionDefaultsAndDedupes(t *testing.T) {
	f := newDecisionFixture(t)
	decision, err := f.svc.CreateGroupDecision(context.Background(), CreateGroupDecisionCommand{
		CollectionID: "col_group",
		GroupID:      "grp_1",
		CreatedBy:    "u1",
		Participants: []string{"u1", "u2", "u1", " u2 "},
		Method:       domain.DecisionMethodTiered,
	})
	if err != nil {
		t.Fatalf("CreateGroupDecision: %v", err)
	}
	if decision.Status != domain.DecisionStatusActive {
		t.Fatalf("expected active decision, got %s", decision.Status)
	}
	if len(decision.Participants) != 2 {
		t.Fatalf("expected deduplicated participants, got %v", decision.Participants)
	}
	if want := f.now.Add(24 * time.Hour); !decision.Deadline.Equal(want) {
		t.Fatalf("expected default deadline %s, got %s", want, decision.Deadline)
	}
}

func TestCreateGroupDecisionRandomRecordsGroupReasoning(t *testing.T) {
	f := newDecisionFixture(t)
	decision, err := f.svc.CreateGroupDecision(context.Background(), CreateGroupDecisionCommand{
		CollectionID: "col_group",
		GroupID:      "grp_1",
		CreatedBy:    "u1",
		Participants: []string{"u1", "u2", "u3"},
		Method:       domain.DecisionMethodRandom,
	})
	if err != nil {
		t.Fatalf("CreateGroupDecision: %v", err)
	}
	if decision.Status != domain.DecisionStatusCompleted || decision.Result == nil {
		t.Fatalf("expected completed random group decision, got %+v", decision)
	}
	if want := "group decision for 3 participants"; !strings.Contains(decision.Result.Reasoning, want) {
		t.Fatalf("expected reasoning to mention %q, got %q", want, decision.Result.Reasoning)
	}
	f.notifier.wait(t)
}

func TestSubmitGroupVoteIsIdempotentPerUser(t *testing.T) {
	f := newDecisionFixture(t)
	decision := f.tieredGroupDecision(t)
	ctx := context.Background()

	first, err := f.svc.SubmitGroupVote(ctx, SubmitGroupVoteCommand{DecisionID: decision.ID, UserID: "u2", Rankings: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("SubmitGroupVote: %v", err)
	}
	if first.Replaced || first.VotesCount != 1 || first.Message != "vote recorded" {
		t.Fatalf("unexpected first receipt %+v", first)
	}

	f.clock.Advance(time.Minute)
	second, err := f.svc.SubmitGroupVote(ctx, SubmitGroupVoteCommand{DecisionID: decision.ID, UserID: "u2", Rankings: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("SubmitGroupVote: %v", err)
	}
	if !second.Replaced || second.VotesCount != 1 || second.Message != "vote updated" {
		t.Fatalf("unexpected second receipt %+v", second)
	}

	stored, err := f.decisions.FindByID(ctx, decision.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(stored.Votes) != 1 {
		t.Fatalf("expected one vote, got %d", len(stored.Votes))
	}
	if got := stored.Votes["u2"].SubmittedAt; !got.Equal(f.now.Add(time.Minute)) {
		t.Fatalf("expected later submittedAt, got %s", got)
	}
	if stored.Status != domain.DecisionStatusActive {
		t.Fatalf("expected vote not to change status, got %s", stored.Status)
	}
}

func TestSubmitGroupVoteNonParticipantAlwaysUnauthorized(t *testing.T) {
	f := newDecisionFixture(t)
	decision := f.tieredGroupDecision(t)

	for _, rankings := range [][]string{{"A"}, nil, {"A", "A"}, {"Z"}} {
		_, err := f.svc.SubmitGroupVote(context.Background(), SubmitGroupVoteCommand{
			DecisionID: decision.ID,
			UserID:     "stranger",
			Rankings:   rankings,
		})
		if !errors.Is(err, ErrNotAParticipant) || !errors.Is(err, ErrDecisionUnauthorized) {
			t.Fatalf("rankings %v: expected authorization error, got %v", rankings, err)
		}
	}
}

func TestSubmitGroupVoteRejectsInvalidRankings(t *testing.T) {
	f := newDecisionFixture(t)
	decision := f.tieredGroupDecision(t)

	for _, rankings := range [][]string{nil, {"A", "A"}, {"A", "Z"}, {""}} {
		_, err := f.svc.SubmitGroupVote(context.Background(), SubmitGroupVoteCommand{
			DecisionID: decision.ID,
			UserID:     "u2",
			Rankings:   rankings,
		})
		if !errors.Is(err, ErrInvalidRanking) || !errors.Is(err, ErrDecisionInvalidInput) {
			t.Fatalf("rankings %v: expected invalid ranking, got %v", rankings, err)
		}
	}
}

func TestSubmitGroupVoteMissingAndInactive(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitGroupVote(ctx, SubmitGroupVoteCommand{DecisionID: "dec_missing", UserID: "u1", Rankings: []string{"A"}})
	if !errors.Is(err, ErrDecisionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	decision := f.tieredGroupDecision(t)
	if _, err := f.svc.CloseGroupDecision(ctx, CloseDecisionCommand{DecisionID: decision.ID, UserID: "u1"}); err != nil {
		t.Fatalf("CloseGroupDecision: %v", err)
	}
	_, err = f.svc.SubmitGroupVote(ctx, SubmitGroupVoteCommand{DecisionID: decision.ID, UserID: "u2", Rankings: []string{"A"}})
	if !errors.Is(err, ErrDecisionNotActive) || !errors.Is(err, ErrDecisionConflict) {
		t.Fatalf("expected decision not active, got %v", err)
	}
}

func TestCompleteTieredGroupDecisionBorda(t *testing.T) {
	f := newDecisionFixture(t)
	decision := f.tieredGroupDecision(t)
	ctx := context.Background()

	votes := map[string][]string{
		"u1": {"A", "B", "C"},
		"u2": {"B", "A", "C"},
		"u3": {"A", "C", "B"},
	}
	for user, rankings := range votes {
		if _, err := f.svc.SubmitGroupVote(ctx, SubmitGroupVoteCommand{DecisionID: decision.ID, UserID: user, Rankings: rankings}); err != nil {
			t.Fatalf("SubmitGroupVote(%s): %v", user, err)
		}
	}

	result, err := f.svc.CompleteTieredGroupDecision(ctx, CompleteDecisionCommand{DecisionID: decision.ID, ActorID: "u2"})
	if err != nil {
		t.Fatalf("CompleteTieredGroupDecision: %v", err)
	}
	if result.RestaurantID != "A" || result.Weights["A"] != 8 || result.Weights["B"] != 6 || result.Weights["C"] != 4 {
		t.Fatalf("unexpected result %+v", result)
	}

	stored, err := f.decisions.FindByID(ctx, decision.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.DecisionStatusCompleted || stored.Result == nil {
		t.Fatalf("expected stored completed decision, got %+v", stored)
	}
	f.notifier.wait(t)

	_, err = f.svc.CompleteTieredGroupDecision(ctx, CompleteDecisionCommand{DecisionID: decision.ID, ActorID: "u2"})
	if !errors.Is(err, ErrDecisionNotActive) {
		t.Fatalf("expected second completion to fail, got %v", err)
	}
}

func TestCompleteTieredGroupDecisionFailures(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()
	decision := f.tieredGroupDecision(t)

	if _, err := f.svc.CompleteTieredGroupDecision(ctx, CompleteDecisionCommand{DecisionID: decision.ID, ActorID: "u1"}); !errors.Is(err, ErrNoVotes) {
		t.Fatalf("expected no votes, got %v", err)
	}
	if _, err := f.svc.CompleteTieredGroupDecision(ctx, CompleteDecisionCommand{DecisionID: decision.ID, ActorID: "stranger"}); !errors.Is(err, ErrDecisionUnauthorized) {
		t.Fatalf("expected stranger to be rejected, got %v", err)
	}
	if _, err := f.svc.CompleteTieredGroupDecision(ctx, CompleteDecisionCommand{DecisionID: "missing", System: true}); !errors.Is(err, ErrDecisionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	random, err := f.svc.CreateGroupDecision(ctx, CreateGroupDecisionCommand{
		CollectionID: "col_1",
		GroupID:      "grp_1",
		CreatedBy:    "u1",
		Participants: []string{"u1"},
		Method:       domain.DecisionMethodRandom,
	})
	if err != nil {
		t.Fatalf("CreateGroupDecision: %v", err)
	}
	if _, err := f.svc.CompleteTieredGroupDecision(ctx, CompleteDecisionCommand{DecisionID: random.ID, System: true}); !errors.Is(err, ErrDecisionNotActive) {
		t.Fatalf("expected completed random decision to be inactive, got %v", err)
	}
}

func TestCompleteTieredGroupDecisionRaceHasSingleWinner(t *testing.T) {
	f := newDecisionFixture(t)
	decision := f.tieredGroupDecision(t)
	ctx := context.Background()
	if _, err := f.svc.SubmitGroupVote(ctx, SubmitGroupVoteCommand{DecisionID: decision.ID, UserID: "u1", Rankings: []string{"B"}}); err != nil {
		t.Fatalf("SubmitGroupVote: %v", err)
	}

	const racers = 8
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		results  = make(chan error, racers)
		winnerMu sync.Mutex
		winners  []DecisionResult
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := f.svc.CompleteTieredGroupDecision(ctx, CompleteDecisionCommand{DecisionID: decision.ID, System: true})
			if err == nil {
				winnerMu.Lock()
				winners = append(winners, result)
				winnerMu.Unlock()
			}
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var conflicts int
	for err := range results {
		if err != nil {
			if !errors.Is(err, ErrDecisionConflict) {
				t.Fatalf("expected state conflict for losers, got %v", err)
			}
			conflicts++
		}
	}
	if len(winners) != 1 || conflicts != racers-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d conflicts", len(winners), conflicts)
	}
	if winners[0].RestaurantID != "B" {
		t.Fatalf("expected B, got %s", winners[0].RestaurantID)
	}
	stored, err := f.decisions.FindByID(ctx, decision.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.DecisionStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
}

func TestCloseGroupDecision(t *testing.T) {
	f := newDecisionFixture(t)
	decision := f.tieredGroupDecision(t)
	ctx := context.Background()

	if _, err := f.svc.CloseGroupDecision(ctx, CloseDecisionCommand{DecisionID: decision.ID, UserID: "u2"}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected non-admin to be rejected, got %v", err)
	}

	closed, err := f.svc.CloseGroupDecision(ctx, CloseDecisionCommand{DecisionID: decision.ID, UserID: "u1"})
	if err != nil {
		t.Fatalf("CloseGroupDecision: %v", err)
	}
	if closed.Status != domain.DecisionStatusClosed || closed.Result != nil || closed.ClosedBy != "u1" || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed decision %+v", closed)
	}

	if _, err := f.svc.CloseGroupDecision(ctx, CloseDecisionCommand{DecisionID: decision.ID, UserID: "u1"}); !errors.Is(err, ErrDecisionNotActive) {
		t.Fatalf("expected second close to fail, got %v", err)
	}

	// The collection is free again.
	next := f.tieredGroupDecision(t)
	systemClosed, err := f.svc.CloseGroupDecision(ctx, CloseDecisionCommand{DecisionID: next.ID, System: true})
	if err != nil {
		t.Fatalf("CloseGroupDecision(system): %v", err)
	}
	if systemClosed.ClosedBy != systemActorID {
		t.Fatalf("expected system actor, got %s", systemClosed.ClosedBy)
	}
}

func TestResolveGroupParticipants(t *testing.T) {
	f := newDecisionFixture(t)
	participants, err := f.svc.ResolveGroupParticipants(context.Background(), "grp_1")
	if err != nil {
		t.Fatalf("ResolveGroupParticipants: %v", err)
	}
	want := []string{"u1", "u2", "u3"}
	if fmt.Sprint(participants) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, participants)
	}
	if _, err := f.svc.ResolveGroupParticipants(context.Background(), "grp_missing"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected group not found, got %v", err)
	}
}

func TestDecisionHistoryFilterRoundTrip(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		if _, err := f.svc.CreatePersonalDecision(ctx, CreatePersonalDecisionCommand{
			CollectionID: "col_1",
			UserID:       "u1",
			Method:       domain.DecisionMethodRandom,
		}); err != nil {
			t.Fatalf("CreatePersonalDecision: %v", err)
		}
	}
	f.tieredGroupDecision(t)

	page, err := f.svc.GetDecisionHistory(ctx, DecisionHistoryFilter{
		CollectionID: "col_1",
		Type:         domain.DecisionTypePersonal,
		Pagination:   Pagination{Limit: 2},
	})
	if err != nil {
		t.Fatalf("GetDecisionHistory: %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore || page.NextOffset() != 2 {
		t.Fatalf("unexpected first page %+v", page)
	}
	if !page.Items[0].CreatedAt.After(page.Items[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	rest, err := f.svc.GetDecisionHistory(ctx, DecisionHistoryFilter{
		CollectionID: "col_1",
		Type:         domain.DecisionTypePersonal,
		Pagination:   Pagination{Limit: 2, Offset: 2},
	})
	if err != nil {
		t.Fatalf("GetDecisionHistory: %v", err)
	}
	if len(rest.Items) != 1 || rest.HasMore {
		t.Fatalf("unexpected second page %+v", rest)
	}

	empty, err := f.svc.GetDecisionHistory(ctx, DecisionHistoryFilter{
		CollectionID: "col_1",
		GroupID:      "grp_unknown",
	})
	if err != nil {
		t.Fatalf("GetDecisionHistory: %v", err)
	}
	if len(empty.Items) != 0 || empty.HasMore {
		t.Fatalf("expected empty page, got %+v", empty)
	}

	if _, err := f.svc.GetDecisionHistory(ctx, DecisionHistoryFilter{Type: "potluck"}); !errors.Is(err, ErrDecisionInvalidInput) {
		t.Fatalf("expected invalid type error, got %v", err)
	}
}

func TestDecisionHistorySearchMatchesRestaurantName(t *testing.T) {
	f := newDecisionFixture(t, func(deps *DecisionServiceDeps) {
		deps.Random = &sequenceRandom{values: []float64{0.1, 0.5, 0.9}}
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		if _, err := f.svc.CreatePersonalDecision(ctx, CreatePersonalDecisionCommand{
			CollectionID: "col_1",
			UserID:       "u1",
			Method:       domain.DecisionMethodRandom,
		}); err != nil {
			t.Fatalf("CreatePersonalDecision: %v", err)
		}
	}

	page, err := f.svc.GetDecisionHistory(ctx, DecisionHistoryFilter{CollectionID: "col_1", Search: "  NOODLE "})
	if err != nil {
		t.Fatalf("GetDecisionHistory: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Result.RestaurantID != "A" {
		t.Fatalf("expected only the Alpha Noodle Bar decision, got %+v", page.Items)
	}
}

func TestDecisionHistorySearchScansPastFirstBatch(t *testing.T) {
	f := newDecisionFixture(t, func(deps *DecisionServiceDeps) {
		deps.Settings.HistoryScanLimit = 2
	})
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		restaurant := "B"
		if i%2 == 0 {
			restaurant = "A"
		}
		at := f.now.Add(time.Duration(i) * time.Hour)
		if _, err := f.decisions.Insert(ctx, domain.Decision{
			ID:           fmt.Sprintf("dec_hist_%d", i),
			Type:         domain.DecisionTypePersonal,
			CollectionID: "col_1",
			Method:       domain.DecisionMethodRandom,
			Status:       domain.DecisionStatusCompleted,
			CreatedBy:    "u1",
			VisitDate:    at,
			Result:       &DecisionResult{RestaurantID: restaurant, SelectedAt: at},
			CreatedAt:    at,
			UpdatedAt:    at,
		}); err != nil {
			t.Fatalf("seed decision %d: %v", i, err)
		}
	}

	cases := []struct {
		name    string
		page    Pagination
		want    []string
		hasMore bool
	}{
		{name: "first page", page: Pagination{Limit: 2}, want: []string{"dec_hist_6", "dec_hist_4"}, hasMore: true},
		{name: "second page", page: Pagination{Limit: 2, Offset: 2}, want: []string{"dec_hist_2", "dec_hist_0"}},
		{name: "past the end", page: Pagination{Limit: 2, Offset: 4}, want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := f.svc.GetDecisionHistory(ctx, DecisionHistoryFilter{CollectionID: "col_1", Search: "alpha", Pagination: tc.page})
			if err != nil {
				t.Fatalf("GetDecisionHistory: %v", err)
			}
			if len(page.Items) != len(tc.want) {
				t.Fatalf("expected %d items, got %+v", len(tc.want), page.Items)
			}
			for i, id := range tc.want {
				if page.Items[i].ID != id {
					t.Fatalf("expected item %d to be %s, got %s", i, id, page.Items[i].ID)
				}
			}
			if page.HasMore != tc.hasMore {
				t.Fatalf("expected hasMore=%v, got %v", tc.hasMore, page.HasMore)
			}
		})
	}
}

func TestGetActiveGroupDecisionsAndGetGroupDecision(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()
	decision := f.tieredGroupDecision(t)

	active, err := f.svc.GetActiveGroupDecisions(ctx, ActiveGroupDecisionsQuery{GroupID: "grp_1", ViewerID: "u2"})
	if err != nil {
		t.Fatalf("GetActiveGroupDecisions: %v", err)
	}
	if len(active) != 1 || active[0].ID != decision.ID {
		t.Fatalf("expected active decision %s, got %+v", decision.ID, active)
	}

	if _, err := f.svc.GetGroupDecision(ctx, GetDecisionQuery{DecisionID: decision.ID, ViewerID: "u3"}); err != nil {
		t.Fatalf("expected participant to read decision, got %v", err)
	}
	if _, err := f.svc.GetGroupDecision(ctx, GetDecisionQuery{DecisionID: decision.ID, ViewerID: "stranger"}); !errors.Is(err, ErrDecisionUnauthorized) {
		t.Fatalf("expected stranger to be rejected, got %v", err)
	}
	if _, err := f.svc.GetGroupDecision(ctx, GetDecisionQuery{DecisionID: "missing", ViewerID: "u1"}); !errors.Is(err, ErrDecisionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetDecisionStatistics(t *testing.T) {
	f := newDecisionFixture(t, func(deps *DecisionServiceDeps) {
		deps.Random = &sequenceRandom{values: []float64{0.0}}
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		f.clock.Advance(24 * time.Hour)
		if _, err := f.svc.CreatePersonalDecision(ctx, CreatePersonalDecisionCommand{
			CollectionID: "col_1",
			UserID:       "u1",
			Method:       domain.DecisionMethodRandom,
		}); err != nil {
			t.Fatalf("CreatePersonalDecision: %v", err)
		}
	}

	stats, err := f.svc.GetDecisionStatistics(ctx, "col_1")
	if err != nil {
		t.Fatalf("GetDecisionStatistics: %v", err)
	}
	if stats.TotalDecisions != 2 || len(stats.Restaurants) != 1 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
	stat := stats.Restaurants[0]
	if stat.RestaurantID != "A" || stat.SelectionCount != 2 {
		t.Fatalf("unexpected restaurant statistic %+v", stat)
	}
	if stat.LastSelected == nil || !stat.LastSelected.Equal(f.now.Add(48*time.Hour)) {
		t.Fatalf("unexpected last selected %v", stat.LastSelected)
	}
	if stat.CurrentWeight != 0.9 {
		t.Fatalf("expected weight 0.9 right after the second selection, got %v", stat.CurrentWeight)
	}

	if _, err := f.svc.GetDecisionStatistics(ctx, "missing"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected collection not found, got %v", err)
	}
}

func TestListExpiredDecisions(t *testing.T) {
	f := newDecisionFixture(t)
	decision := f.tieredGroupDecision(t)

	expired, err := f.svc.ListExpiredDecisions(context.Background(), f.now.Add(7*time.Hour), 0)
	if err != nil {
		t.Fatalf("ListExpiredDecisions: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != decision.ID {
		t.Fatalf("expected %s to be expired, got %+v", decision.ID, expired)
	}

	pending, err := f.svc.ListExpiredDecisions(context.Background(), f.now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListExpiredDecisions: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected nothing expired yet, got %d", len(pending))
	}
}

type unavailableDecisions struct {
	repositories.DecisionRepository
}

func (unavailableDecisions) FindByID(context.Context, string) (domain.Decision, error) {
	return domain.Decision{}, repositories.NewUnavailableError("decisions.get", context.DeadlineExceeded)
}

func TestStoreUnavailableIsSurfaced(t *testing.T) {
	var events []string
	var mu sync.Mutex
	f := newDecisionFixture(t, func(deps *DecisionServiceDeps) {
		deps.Decisions = unavailableDecisions{DecisionRepository: memory.NewDecisionRepository()}
		deps.Logger = func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		}
	})

	_, err := f.svc.SubmitGroupVote(context.Background(), SubmitGroupVoteCommand{DecisionID: "dec_1", UserID: "u1", Rankings: []string{"A"}})
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, ErrDecisionUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if DecisionErrorCode(err) != "store_unavailable" {
		t.Fatalf("unexpected error code %q", DecisionErrorCode(err))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != decisionEventStoreUnhealthy {
		t.Fatalf("expected store unavailable log, got %v", events)
	}
}

func TestNotifierFailureDoesNotFailCompletion(t *testing.T) {
	logged := make(chan string, 4)
	f := newDecisionFixture(t, func(deps *DecisionServiceDeps) {
		deps.Logger = func(_ context.Context, event string, _ map[string]any) {
			if event == decisionEventNotifyFailed {
				logged <- event
			}
		}
	})
	f.notifier.err = errors.New("pubsub down")

	if _, err := f.svc.CreatePersonalDecision(context.Background(), CreatePersonalDecisionCommand{
		CollectionID: "col_1",
		UserID:       "u1",
		Method:       domain.DecisionMethodRandom,
	}); err != nil {
		t.Fatalf("expected creation to succeed despite notifier failure, got %v", err)
	}
	f.notifier.wait(t)
	select {
	case <-logged:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected notifier failure to be logged")
	}
}

func TestDecisionErrorCode(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("%w: detail", ErrInvalidRanking): "invalid_ranking",
		ErrActiveDecisionExists:                     "active_decision_exists",
		ErrDecisionConflict:                         "conflict",
		errors.New("boom"):                          "internal",
		nil:                                         "",
	}
	for err, want := range cases {
		if got := DecisionErrorCode(err); got != want {
			t.Fatalf("DecisionErrorCode(%v): expected %q, got %q", err, want, got)
		}
	}
}
