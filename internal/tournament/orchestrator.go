// internal/tournament/orchestrator.go
package tournament

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/paddlearena/arena/internal/cache"
	"github.com/paddlearena/arena/internal/models"
)

// Store is the persistence collaborator for tournaments, participants, and
// bracket matches.
type Store interface {
	InsertTournament(ctx context.Context, hostID int64) (int64, error)
	InsertTournamentParticipant(ctx context.Context, tournamentID, userID int64, alias string) error
	DeleteTournamentParticipant(ctx context.Context, tournamentID, userID int64) error
	InsertTournamentMatch(ctx context.Context, tournamentID int64, round string, p1, p2 int64) (int64, error)
	UpdateTournamentMatchWinner(ctx context.Context, tournamentMatchID, winnerID int64) error
	SetTournamentWinner(ctx context.Context, tournamentID, winnerID int64) error
	DeleteTournament(ctx context.Context, tournamentID int64) error
}

// MatchCreator is the slice of the match engine the orchestrator drives. The
// orchestrator only references match ids it created; it never touches a
// match's live state.
type MatchCreator interface {
	CreateMatch(ctx context.Context, p1, p2 int64, kind models.GameKind, tournamentMatchID int64, difficulty models.Difficulty) (int64, error)
	CancelMatch(matchID int64)
}

// Pusher delivers push messages; session.Registry implements it.
type Pusher interface {
	SendToUser(userID int64, msg map[string]interface{})
	SendError(userID int64, message string)
	BroadcastToAll(msg map[string]interface{})
}

// Bracket round tags persisted with each tournament match row.
const (
	RoundSemifinal = "semifinal"
	RoundFinal     = "final"
)

// Orchestrator owns the live tournament set and the bracket state machine:
// lobby, two concurrent semifinals, one final, podium. Match completion flows
// back in exclusively through HandleMatchComplete.
type Orchestrator struct {
	mu          sync.Mutex
	tournaments map[int64]*Tournament

	store   Store
	matches MatchCreator
	pusher  Pusher
}

// NewOrchestrator builds an Orchestrator around its collaborators. Wire the
// engine's OnMatchComplete to HandleMatchComplete after construction.
func NewOrchestrator(store Store, matches MatchCreator, pusher Pusher) *Orchestrator {
	return &Orchestrator{
		tournaments: make(map[int64]*Tournament),
		store:       store,
		matches:     matches,
		pusher:      pusher,
	}
}

// GetTournament returns a live tournament by id.
func (o *Orchestrator) GetTournament(id int64) (*Tournament, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tournaments[id]
	return t, ok
}

// LiveCount returns the number of live tournaments.
func (o *Orchestrator) LiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tournaments)
}

// CreateTournament persists a tournament row, seeds the live record with the
// host (not ready), and pushes tournament_created plus the initial roster to
// the host. Returns the tournament id.
func (o *Orchestrator) CreateTournament(ctx context.Context, hostID int64, alias string) (int64, error) {
	id, err := o.store.InsertTournament(ctx, hostID)
	if err != nil {
		return 0, err
	}
	if alias == "" {
		alias = fmt.Sprintf("player-%d", hostID)
	}
	if err := o.store.InsertTournamentParticipant(ctx, id, hostID, alias); err != nil {
		log.Printf("tournament: failed to persist host participant for tournament %d: %v", id, err)
	}

	t := &Tournament{
		ID:      id,
		HostID:  hostID,
		Phase:   models.PhaseWaiting,
		Players: []models.TournamentPlayer{{UserID: hostID, Alias: alias}},
	}
	o.mu.Lock()
	o.tournaments[id] = t
	o.mu.Unlock()

	log.Printf("tournament: %d created by user %d", id, hostID)

	o.pusher.SendToUser(hostID, map[string]interface{}{
		"type":         "tournament_created",
		"tournamentId": id,
	})
	t.Mu.Lock()
	state := t.statePayloadLocked()
	t.Mu.Unlock()
	o.pusher.SendToUser(hostID, state)
	return id, nil
}

// JoinTournament validates and applies a join request. Rejections (wrong
// phase, already joined, bracket full) go to the requester only; a stale
// tournament id is logged and ignored.
func (o *Orchestrator) JoinTournament(ctx context.Context, tournamentID, userID int64, alias string) {
	t, ok := o.GetTournament(tournamentID)
	if !ok {
		log.Printf("tournament: join for unknown tournament %d from user %d, ignoring", tournamentID, userID)
		return
	}

	t.Mu.Lock()
	if t.Phase != models.PhaseWaiting {
		t.Mu.Unlock()
		o.pusher.SendError(userID, "tournament has already started")
		return
	}
	if t.playerLocked(userID) != nil {
		t.Mu.Unlock()
		o.pusher.SendError(userID, "you already joined this tournament")
		return
	}
	if len(t.Players) >= TournamentSize {
		t.Mu.Unlock()
		o.pusher.SendError(userID, "tournament is full")
		return
	}
	if alias == "" {
		alias = fmt.Sprintf("player-%d", userID)
	}
	t.Players = append(t.Players, models.TournamentPlayer{UserID: userID, Alias: alias})
	state := t.statePayloadLocked()
	players := t.playerIDsLocked()
	t.Mu.Unlock()

	if err := o.store.InsertTournamentParticipant(ctx, tournamentID, userID, alias); err != nil {
		log.Printf("tournament: failed to persist participant %d for tournament %d: %v", userID, tournamentID, err)
	}
	log.Printf("tournament: user %d joined tournament %d as %q", userID, tournamentID, alias)
	o.pushToPlayers(players, state)
}

// ToggleReady updates the entrant's ready flag and broadcasts the roster.
// When the fourth ready flag lands the bracket starts automatically, exactly
// once per tournament.
func (o *Orchestrator) ToggleReady(ctx context.Context, tournamentID, userID int64, ready bool) {
	t, ok := o.GetTournament(tournamentID)
	if !ok {
		log.Printf("tournament: toggle_ready for unknown tournament %d from user %d, ignoring", tournamentID, userID)
		return
	}

	t.Mu.Lock()
	if t.Phase != models.PhaseWaiting {
		t.Mu.Unlock()
		o.pusher.SendError(userID, "tournament has already started")
		return
	}
	player := t.playerLocked(userID)
	if player == nil {
		t.Mu.Unlock()
		o.pusher.SendError(userID, "you are not in this tournament")
		return
	}
	player.Ready = ready
	state := t.statePayloadLocked()
	players := t.playerIDsLocked()
	shouldStart := t.allReadyLocked() && !t.started
	if shouldStart {
		t.started = true
	}
	t.Mu.Unlock()

	o.pushToPlayers(players, state)

	if shouldStart {
		o.startTournament(ctx, t)
	}
}

// startTournament pairs entrants by join order (1v2, 3v4) into two semifinal
// matches, persists the bracket rows, spins up an engine match for each, and
// sends every entrant a personalized match-start notification naming their
// opponent. Each recipient is framed as "player one" of their own match; that
// is presentation, not data-model truth.
func (o *Orchestrator) startTournament(ctx context.Context, t *Tournament) {
	t.Mu.Lock()
	defer t.Mu.Unlock()

	if t.Phase != models.PhaseWaiting {
		return
	}
	log.Printf("tournament: %d starting semifinals", t.ID)

	pairs := [2][2]int64{
		{t.Players[0].UserID, t.Players[1].UserID},
		{t.Players[2].UserID, t.Players[3].UserID},
	}
	for i, pair := range pairs {
		bracketID, err := o.store.InsertTournamentMatch(ctx, t.ID, RoundSemifinal, pair[0], pair[1])
		if err != nil {
			log.Printf("tournament: failed to persist semifinal %d of tournament %d: %v", i+1, t.ID, err)
			o.abortStartLocked(t)
			return
		}
		matchID, err := o.matches.CreateMatch(ctx, pair[0], pair[1], models.GameKindTournament, bracketID, "")
		if err != nil {
			log.Printf("tournament: failed to create semifinal match for tournament %d: %v", t.ID, err)
			o.abortStartLocked(t)
			return
		}
		t.Semis[i] = &models.BracketMatch{
			ID:      bracketID,
			MatchID: matchID,
			Player1: pair[0],
			Player2: pair[1],
		}
	}

	t.Phase = models.PhaseSemifinals

	o.pushToPlayers(t.playerIDsLocked(), t.statePayloadLocked())
	for _, semi := range t.Semis {
		o.notifyMatchStartLocked(t, semi, RoundSemifinal)
	}
}

// abortStartLocked unwinds a partially started bracket: semifinal matches
// already handed to the engine are cancelled, the slots cleared, and the
// tournament reverts to waiting so a later ready toggle can retry. Assumes
// the tournament lock is held.
func (o *Orchestrator) abortStartLocked(t *Tournament) {
	for i, bm := range t.Semis {
		if bm != nil {
			o.matches.CancelMatch(bm.MatchID)
			t.Semis[i] = nil
		}
	}
	t.started = false
	o.pushToPlayers(t.playerIDsLocked(), map[string]interface{}{
		"type":    "error",
		"message": "failed to start tournament",
	})
}

// notifyMatchStartLocked sends both participants of a bracket match their
// personalized tournament_match_start event. Assumes the tournament lock is
// held.
func (o *Orchestrator) notifyMatchStartLocked(t *Tournament, bm *models.BracketMatch, round string) {
	for _, uid := range []int64{bm.Player1, bm.Player2} {
		opponent := bm.Player1
		if opponent == uid {
			opponent = bm.Player2
		}
		o.pusher.SendToUser(uid, map[string]interface{}{
			"type":          "tournament_match_start",
			"tournamentId":  t.ID,
			"matchId":       bm.MatchID,
			"round":         round,
			"opponentId":    opponent,
			"opponentAlias": t.aliasLocked(opponent),
		})
	}
}

// HandleMatchComplete is the single entry point by which match results reach
// the bracket; the engine invokes it, clients never do. It records the
// winner, advances semifinals into the final once both are decided, and on
// the final's completion computes the podium, persists the champion, and
// retires the tournament.
func (o *Orchestrator) HandleMatchComplete(tournamentMatchID, winnerID int64) {
	t := o.findByBracketMatch(tournamentMatchID)
	if t == nil {
		log.Printf("tournament: completion for unknown bracket match %d, ignoring", tournamentMatchID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Mu.Lock()
	bm := t.bracketMatchLocked(tournamentMatchID)
	if bm == nil || bm.WinnerID != 0 {
		t.Mu.Unlock()
		return
	}
	bm.WinnerID = winnerID

	if err := o.store.UpdateTournamentMatchWinner(ctx, tournamentMatchID, winnerID); err != nil {
		log.Printf("tournament: failed to persist winner of bracket match %d: %v", tournamentMatchID, err)
	}

	if t.Final != nil && bm == t.Final {
		o.completeLocked(ctx, t)
		t.Mu.Unlock()
		o.removeTournament(t.ID)
		return
	}

	// Semifinal: the final is created only when both winners are known, and
	// only once (Final nil-check under the tournament lock).
	if t.Semis[0] == nil || t.Semis[1] == nil ||
		t.Semis[0].WinnerID == 0 || t.Semis[1].WinnerID == 0 || t.Final != nil {
		t.Mu.Unlock()
		return
	}

	finalists := [2]int64{t.Semis[0].WinnerID, t.Semis[1].WinnerID}
	bracketID, err := o.store.InsertTournamentMatch(ctx, t.ID, RoundFinal, finalists[0], finalists[1])
	if err != nil {
		log.Printf("tournament: failed to persist final of tournament %d: %v", t.ID, err)
	}
	matchID, err := o.matches.CreateMatch(ctx, finalists[0], finalists[1], models.GameKindTournament, bracketID, "")
	if err != nil {
		log.Printf("tournament: failed to create final match of tournament %d: %v", t.ID, err)
		t.Mu.Unlock()
		return
	}
	t.Final = &models.BracketMatch{
		ID:      bracketID,
		MatchID: matchID,
		Player1: finalists[0],
		Player2: finalists[1],
	}
	t.Phase = models.PhaseFinal
	log.Printf("tournament: %d advancing to final (%d vs %d)", t.ID, finalists[0], finalists[1])

	// Everyone learns the bracket advanced; the finalists additionally get
	// their personalized match-start. Eliminated players derive their waiting
	// state client-side by comparing their id against the final's pairing.
	state := t.statePayloadLocked()
	players := t.playerIDsLocked()
	o.notifyMatchStartLocked(t, t.Final, RoundFinal)
	t.Mu.Unlock()

	o.pushToPlayers(players, state)
}

// completeLocked finishes the tournament after the final's winner is known:
// podium, persisted champion, completion broadcast. The caller removes the
// tournament from the live set after releasing the lock.
func (o *Orchestrator) completeLocked(ctx context.Context, t *Tournament) {
	podium := t.podiumLocked()
	champion := podium[0].UserID

	if err := o.store.SetTournamentWinner(ctx, t.ID, champion); err != nil {
		log.Printf("tournament: failed to persist winner of tournament %d: %v", t.ID, err)
	}

	t.Phase = models.PhaseCompleted
	log.Printf("tournament: %d completed, champion %d", t.ID, champion)

	entries := make([]map[string]interface{}, 0, len(podium))
	order := make([]int64, 0, len(podium))
	for _, entry := range podium {
		entries = append(entries, map[string]interface{}{
			"userId": entry.UserID,
			"alias":  t.aliasLocked(entry.UserID),
			"place":  entry.Place,
		})
		order = append(order, entry.UserID)
	}
	payload := map[string]interface{}{
		"type":         "tournament_completed",
		"tournamentId": t.ID,
		"winnerId":     champion,
		"podium":       entries,
	}
	for _, p := range t.Players {
		o.pusher.SendToUser(p.UserID, payload)
	}

	o.publishHistory(t.ID, champion, order)
}

// LeaveTournament removes an entrant, valid only while the tournament is
// still waiting. An empty roster deletes the tournament entirely and
// announces the deletion to all connected clients.
func (o *Orchestrator) LeaveTournament(ctx context.Context, tournamentID, userID int64) {
	t, ok := o.GetTournament(tournamentID)
	if !ok {
		log.Printf("tournament: leave for unknown tournament %d from user %d, ignoring", tournamentID, userID)
		return
	}

	t.Mu.Lock()
	if t.Phase != models.PhaseWaiting {
		t.Mu.Unlock()
		o.pusher.SendError(userID, "cannot leave a running tournament")
		return
	}
	idx := -1
	for i := range t.Players {
		if t.Players[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.Mu.Unlock()
		return
	}
	t.Players = append(t.Players[:idx], t.Players[idx+1:]...)
	empty := len(t.Players) == 0
	state := t.statePayloadLocked()
	players := t.playerIDsLocked()
	t.Mu.Unlock()

	if err := o.store.DeleteTournamentParticipant(ctx, tournamentID, userID); err != nil {
		log.Printf("tournament: failed to persist removal of participant %d from tournament %d: %v", userID, tournamentID, err)
	}
	log.Printf("tournament: user %d left tournament %d", userID, tournamentID)

	if empty {
		if err := o.store.DeleteTournament(ctx, tournamentID); err != nil {
			log.Printf("tournament: failed to delete tournament %d: %v", tournamentID, err)
		}
		o.removeTournament(tournamentID)
		o.pusher.BroadcastToAll(map[string]interface{}{
			"type":         "tournament_deleted",
			"tournamentId": tournamentID,
		})
		return
	}
	o.pushToPlayers(players, state)
}

// findByBracketMatch locates the live tournament owning a bracket-match row.
func (o *Orchestrator) findByBracketMatch(tournamentMatchID int64) *Tournament {
	o.mu.Lock()
	candidates := make([]*Tournament, 0, len(o.tournaments))
	for _, t := range o.tournaments {
		candidates = append(candidates, t)
	}
	o.mu.Unlock()

	for _, t := range candidates {
		t.Mu.Lock()
		found := t.bracketMatchLocked(tournamentMatchID) != nil
		t.Mu.Unlock()
		if found {
			return t
		}
	}
	return nil
}

// removeTournament drops a tournament from the live set and cancels any
// bracket match that never reached a result.
func (o *Orchestrator) removeTournament(id int64) {
	o.mu.Lock()
	t, ok := o.tournaments[id]
	delete(o.tournaments, id)
	o.mu.Unlock()
	if !ok {
		return
	}

	t.Mu.Lock()
	var pending []int64
	for _, bm := range t.Semis {
		if bm != nil && bm.WinnerID == 0 {
			pending = append(pending, bm.MatchID)
		}
	}
	if t.Final != nil && t.Final.WinnerID == 0 && t.Phase != models.PhaseCompleted {
		pending = append(pending, t.Final.MatchID)
	}
	t.Mu.Unlock()

	for _, matchID := range pending {
		o.matches.CancelMatch(matchID)
	}
}

// publishHistory queues the completed tournament for the stats service.
func (o *Orchestrator) publishHistory(tournamentID, winnerID int64, podium []int64) {
	record := cache.TournamentHistoryRecord{
		TournamentID: tournamentID,
		WinnerID:     winnerID,
		Podium:       podium,
		Timestamp:    time.Now().UnixMilli(),
	}
	go func(rec cache.TournamentHistoryRecord) {
		if cache.Rdb == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishTournamentHistory(ctx, rec); err != nil {
			log.Printf("tournament: failed to publish history for tournament %d: %v", rec.TournamentID, err)
		}
	}(record)
}

func (o *Orchestrator) pushToPlayers(players []int64, msg map[string]interface{}) {
	for _, uid := range players {
		o.pusher.SendToUser(uid, msg)
	}
}
