// internal/tournament/orchestrator_test.go
package tournament

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddlearena/arena/internal/models"
)

// fakeStore is an in-memory Store handing out sequential ids.
type fakeStore struct {
	mu sync.Mutex

	nextTournamentID int64
	nextBracketID    int64

	participants map[int64][]int64 // tournament -> user ids
	matchWinners map[int64]int64   // bracket match -> winner
	champions    map[int64]int64   // tournament -> winner
	deleted      []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextBracketID: 100,
		participants:  make(map[int64][]int64),
		matchWinners:  make(map[int64]int64),
		champions:     make(map[int64]int64),
	}
}

func (s *fakeStore) InsertTournament(ctx context.Context, hostID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTournamentID++
	return s.nextTournamentID, nil
}

func (s *fakeStore) InsertTournamentParticipant(ctx context.Context, tournamentID, userID int64, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[tournamentID] = append(s.participants[tournamentID], userID)
	return nil
}

func (s *fakeStore) DeleteTournamentParticipant(ctx context.Context, tournamentID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.participants[tournamentID][:0]
	for _, id := range s.participants[tournamentID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	s.participants[tournamentID] = kept
	return nil
}

func (s *fakeStore) InsertTournamentMatch(ctx context.Context, tournamentID int64, round string, p1, p2 int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBracketID++
	return s.nextBracketID, nil
}

func (s *fakeStore) UpdateTournamentMatchWinner(ctx context.Context, tournamentMatchID, winnerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchWinners[tournamentMatchID] = winnerID
	return nil
}

func (s *fakeStore) SetTournamentWinner(ctx context.Context, tournamentID, winnerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.champions[tournamentID] = winnerID
	return nil
}

func (s *fakeStore) DeleteTournament(ctx context.Context, tournamentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, tournamentID)
	return nil
}

// fakeMatches records every engine match the orchestrator requests.
type fakeMatches struct {
	mu        sync.Mutex
	nextID    int64
	created   []createdMatch
	cancelled []int64

	// failAfter, when > 0, fails CreateMatch once that many have succeeded.
	failAfter int
}

type createdMatch struct {
	p1, p2            int64
	kind              models.GameKind
	tournamentMatchID int64
}

func (f *fakeMatches) CreateMatch(ctx context.Context, p1, p2 int64, kind models.GameKind, tournamentMatchID int64, difficulty models.Difficulty) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.created) >= f.failAfter {
		return 0, errors.New("engine unavailable")
	}
	f.nextID++
	f.created = append(f.created, createdMatch{p1, p2, kind, tournamentMatchID})
	return f.nextID, nil
}

func (f *fakeMatches) CancelMatch(matchID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, matchID)
}

// fakePusher collects every message per user.
type fakePusher struct {
	mu         sync.Mutex
	sent       map[int64][]map[string]interface{}
	errors     map[int64][]string
	broadcasts []map[string]interface{}
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		sent:   make(map[int64][]map[string]interface{}),
		errors: make(map[int64][]string),
	}
}

func (p *fakePusher) SendToUser(userID int64, msg map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[userID] = append(p.sent[userID], msg)
}

func (p *fakePusher) SendError(userID int64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors[userID] = append(p.errors[userID], message)
}

func (p *fakePusher) BroadcastToAll(msg map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, msg)
}

func (p *fakePusher) messagesOfType(userID int64, msgType string) []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range p.sent[userID] {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func newTestOrchestrator() (*Orchestrator, *fakeStore, *fakeMatches, *fakePusher) {
	store := newFakeStore()
	matches := &fakeMatches{}
	pusher := newFakePusher()
	return NewOrchestrator(store, matches, pusher), store, matches, pusher
}

// fullBracket creates a tournament with entrants 1..4 all ready, which starts
// the semifinals.
func fullBracket(t *testing.T, o *Orchestrator) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := o.CreateTournament(ctx, 1, "alpha")
	require.NoError(t, err)
	o.JoinTournament(ctx, id, 2, "bravo")
	o.JoinTournament(ctx, id, 3, "charlie")
	o.JoinTournament(ctx, id, 4, "delta")
	for _, uid := range []int64{1, 2, 3, 4} {
		o.ToggleReady(ctx, id, uid, true)
	}
	return id
}

func TestCreateTournamentSeedsHost(t *testing.T) {
	o, store, _, pusher := newTestOrchestrator()

	id, err := o.CreateTournament(context.Background(), 1, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, o.LiveCount())

	tour, ok := o.GetTournament(id)
	require.True(t, ok)
	tour.Mu.Lock()
	assert.Equal(t, models.PhaseWaiting, tour.Phase)
	require.Len(t, tour.Players, 1)
	assert.Equal(t, int64(1), tour.Players[0].UserID)
	assert.False(t, tour.Players[0].Ready, "the host starts not ready")
	tour.Mu.Unlock()

	assert.Equal(t, []int64{1}, store.participants[id])
	assert.Len(t, pusher.messagesOfType(1, "tournament_created"), 1)
}

func TestJoinValidation(t *testing.T) {
	o, _, _, pusher := newTestOrchestrator()
	ctx := context.Background()

	id, _ := o.CreateTournament(ctx, 1, "alpha")

	// Double join is rejected.
	o.JoinTournament(ctx, id, 1, "again")
	assert.Len(t, pusher.errors[1], 1)

	o.JoinTournament(ctx, id, 2, "bravo")
	o.JoinTournament(ctx, id, 3, "charlie")
	o.JoinTournament(ctx, id, 4, "delta")

	// Fifth entrant bounces off the full bracket.
	o.JoinTournament(ctx, id, 5, "echo")
	assert.Len(t, pusher.errors[5], 1)

	// Unknown tournament is ignored without an error push.
	o.JoinTournament(ctx, 999, 6, "foxtrot")
	assert.Empty(t, pusher.errors[6])
}

func TestFourthReadyStartsSemifinalsPairedByJoinOrder(t *testing.T) {
	o, _, matches, pusher := newTestOrchestrator()

	id := fullBracket(t, o)

	tour, _ := o.GetTournament(id)
	tour.Mu.Lock()
	assert.Equal(t, models.PhaseSemifinals, tour.Phase)
	require.NotNil(t, tour.Semis[0])
	require.NotNil(t, tour.Semis[1])
	assert.Equal(t, int64(1), tour.Semis[0].Player1)
	assert.Equal(t, int64(2), tour.Semis[0].Player2)
	assert.Equal(t, int64(3), tour.Semis[1].Player1)
	assert.Equal(t, int64(4), tour.Semis[1].Player2)
	tour.Mu.Unlock()

	require.Len(t, matches.created, 2)
	for _, cm := range matches.created {
		assert.Equal(t, models.GameKindTournament, cm.kind)
		assert.NotZero(t, cm.tournamentMatchID)
	}

	// Every entrant gets a personalized match start naming their opponent.
	for uid, opponent := range map[int64]int64{1: 2, 2: 1, 3: 4, 4: 3} {
		starts := pusher.messagesOfType(uid, "tournament_match_start")
		require.Len(t, starts, 1, "user %d", uid)
		assert.Equal(t, opponent, starts[0]["opponentId"])
		assert.Equal(t, RoundSemifinal, starts[0]["round"])
	}
}

func TestBracketStartsExactlyOnce(t *testing.T) {
	o, _, matches, _ := newTestOrchestrator()

	id := fullBracket(t, o)

	// Toggling after the start cannot launch a second bracket.
	o.ToggleReady(context.Background(), id, 1, true)
	o.ToggleReady(context.Background(), id, 1, false)
	assert.Len(t, matches.created, 2)
}

func TestFailedSemifinalStartCancelsTheOtherMatch(t *testing.T) {
	o, _, matches, pusher := newTestOrchestrator()
	matches.failAfter = 1 // semifinal 2 cannot be created
	ctx := context.Background()

	id, _ := o.CreateTournament(ctx, 1, "alpha")
	o.JoinTournament(ctx, id, 2, "bravo")
	o.JoinTournament(ctx, id, 3, "charlie")
	o.JoinTournament(ctx, id, 4, "delta")
	for _, uid := range []int64{1, 2, 3, 4} {
		o.ToggleReady(ctx, id, uid, true)
	}

	// The first semifinal went live before the failure; it must not be leaked.
	require.Len(t, matches.created, 1)
	assert.Equal(t, []int64{1}, matches.cancelled)

	tour, _ := o.GetTournament(id)
	tour.Mu.Lock()
	assert.Equal(t, models.PhaseWaiting, tour.Phase)
	assert.Nil(t, tour.Semis[0])
	assert.Nil(t, tour.Semis[1])
	tour.Mu.Unlock()
	for _, uid := range []int64{1, 2, 3, 4} {
		assert.NotEmpty(t, pusher.messagesOfType(uid, "error"), "user %d", uid)
	}

	// With the engine back, another ready toggle restarts the bracket.
	matches.mu.Lock()
	matches.failAfter = 0
	matches.mu.Unlock()
	o.ToggleReady(ctx, id, 1, true)

	tour.Mu.Lock()
	assert.Equal(t, models.PhaseSemifinals, tour.Phase)
	tour.Mu.Unlock()
	assert.Len(t, matches.created, 3)
}

func TestFinalCreatedOnlyWhenBothSemisDecided(t *testing.T) {
	o, store, matches, pusher := newTestOrchestrator()

	id := fullBracket(t, o)
	tour, _ := o.GetTournament(id)
	tour.Mu.Lock()
	semi1, semi2 := tour.Semis[0].ID, tour.Semis[1].ID
	tour.Mu.Unlock()

	o.HandleMatchComplete(semi1, 1)

	tour.Mu.Lock()
	assert.Equal(t, models.PhaseSemifinals, tour.Phase, "one semifinal does not advance the bracket")
	assert.Nil(t, tour.Final)
	tour.Mu.Unlock()
	assert.Len(t, matches.created, 2)

	o.HandleMatchComplete(semi2, 4)

	tour.Mu.Lock()
	assert.Equal(t, models.PhaseFinal, tour.Phase)
	require.NotNil(t, tour.Final)
	assert.Equal(t, int64(1), tour.Final.Player1)
	assert.Equal(t, int64(4), tour.Final.Player2)
	tour.Mu.Unlock()

	require.Len(t, matches.created, 3)
	assert.Equal(t, int64(1), matches.created[2].p1)
	assert.Equal(t, int64(4), matches.created[2].p2)

	assert.Equal(t, int64(1), store.matchWinners[semi1])
	assert.Equal(t, int64(4), store.matchWinners[semi2])

	// Only the finalists get the final's match start.
	assert.Len(t, pusher.messagesOfType(1, "tournament_match_start"), 2)
	assert.Len(t, pusher.messagesOfType(2, "tournament_match_start"), 1)
}

func TestFinalCompletionProducesPodium(t *testing.T) {
	o, store, _, pusher := newTestOrchestrator()

	id := fullBracket(t, o)
	tour, _ := o.GetTournament(id)
	tour.Mu.Lock()
	semi1, semi2 := tour.Semis[0].ID, tour.Semis[1].ID
	tour.Mu.Unlock()

	o.HandleMatchComplete(semi1, 2)
	o.HandleMatchComplete(semi2, 3)
	tour.Mu.Lock()
	finalID := tour.Final.ID
	tour.Mu.Unlock()

	o.HandleMatchComplete(finalID, 3)

	assert.Equal(t, int64(3), store.champions[id])
	assert.Zero(t, o.LiveCount(), "completed tournaments leave the live set")

	done := pusher.messagesOfType(1, "tournament_completed")
	require.Len(t, done, 1)
	assert.Equal(t, int64(3), done[0]["winnerId"])

	podium, ok := done[0]["podium"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, podium, 4)
	// Champion, runner-up, then semifinal losers in bracket order.
	assert.Equal(t, int64(3), podium[0]["userId"])
	assert.Equal(t, int64(2), podium[1]["userId"])
	assert.Equal(t, int64(1), podium[2]["userId"])
	assert.Equal(t, int64(4), podium[3]["userId"])
}

func TestStaleCompletionsAreIgnored(t *testing.T) {
	o, _, matches, _ := newTestOrchestrator()

	id := fullBracket(t, o)
	tour, _ := o.GetTournament(id)
	tour.Mu.Lock()
	semi1 := tour.Semis[0].ID
	tour.Mu.Unlock()

	o.HandleMatchComplete(semi1, 1)
	// A duplicate result for the same bracket slot changes nothing.
	o.HandleMatchComplete(semi1, 2)

	tour.Mu.Lock()
	assert.Equal(t, int64(1), tour.Semis[0].WinnerID)
	tour.Mu.Unlock()
	assert.Len(t, matches.created, 2)

	// Completions for unknown bracket matches are ignored.
	o.HandleMatchComplete(99999, 1)
}

func TestLeaveWaitingTournament(t *testing.T) {
	o, store, _, pusher := newTestOrchestrator()
	ctx := context.Background()

	id, _ := o.CreateTournament(ctx, 1, "alpha")
	o.JoinTournament(ctx, id, 2, "bravo")

	o.LeaveTournament(ctx, id, 2)

	tour, _ := o.GetTournament(id)
	tour.Mu.Lock()
	assert.Len(t, tour.Players, 1)
	tour.Mu.Unlock()
	assert.Equal(t, []int64{1}, store.participants[id])

	// The last entrant leaving deletes the tournament entirely.
	o.LeaveTournament(ctx, id, 1)
	assert.Zero(t, o.LiveCount())
	assert.Contains(t, store.deleted, id)
	require.Len(t, pusher.broadcasts, 1)
	assert.Equal(t, "tournament_deleted", pusher.broadcasts[0]["type"])
}

func TestLeaveRunningTournamentRejected(t *testing.T) {
	o, _, _, pusher := newTestOrchestrator()

	id := fullBracket(t, o)
	o.LeaveTournament(context.Background(), id, 1)

	assert.Len(t, pusher.errors[1], 1)
	tour, _ := o.GetTournament(id)
	tour.Mu.Lock()
	assert.Len(t, tour.Players, 4)
	tour.Mu.Unlock()
}
