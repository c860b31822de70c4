// internal/engine/engine.go
package engine

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/paddlearena/arena/internal/cache"
	"github.com/paddlearena/arena/internal/models"
)

// MatchStore is the persistence collaborator consumed by the engine. The
// in-memory match is authoritative while live; the persisted row is
// authoritative after the terminal broadcast.
type MatchStore interface {
	InsertMatch(ctx context.Context, p1, p2 int64, kind models.GameKind, tournamentMatchID int64, difficulty models.Difficulty) (int64, error)
	UpdateMatchResult(ctx context.Context, id, winnerID int64, score1, score2 int) error
	GetMatchMeta(ctx context.Context, id int64) (models.MatchMeta, error)
}

// Pusher delivers push messages to connected users. session.Registry
// implements it; tests substitute a recorder.
type Pusher interface {
	SendToUser(userID int64, msg map[string]interface{})
	SendError(userID int64, message string)
}

// OnMatchCompleteFunc receives a finished tournament match: the bracket-match
// row id it was created for and the winner.
type OnMatchCompleteFunc func(tournamentMatchID, winnerID int64)

// Engine owns the live match set. Matches enter on CreateMatch and leave the
// instant they end; nothing outside the engine mutates match physics state.
type Engine struct {
	mu      sync.Mutex
	matches map[int64]*Match

	store  MatchStore
	pusher Pusher

	// OnMatchComplete, set at wiring time, is invoked after a tournament
	// match's result has been persisted and broadcast.
	OnMatchComplete OnMatchCompleteFunc

	// Timing knobs, shortened by tests.
	tickInterval      time.Duration
	countdownInterval time.Duration
	forfeitGrace      time.Duration
}

// NewEngine builds an Engine around the given persistence and push
// collaborators.
func NewEngine(store MatchStore, pusher Pusher) *Engine {
	return &Engine{
		matches:           make(map[int64]*Match),
		store:             store,
		pusher:            pusher,
		tickInterval:      TickInterval,
		countdownInterval: time.Second,
		forfeitGrace:      10 * time.Second,
	}
}

// GetMatch returns a live match by id.
func (e *Engine) GetMatch(id int64) (*Match, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.matches[id]
	return m, ok
}

// LiveCount returns the number of live matches.
func (e *Engine) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.matches)
}

// CreateMatch persists a match row, registers the live match with paddles at
// opposite ends and a small randomized serve, and pushes game_created to the
// human participants. The simulation does not start until both sides are
// ready. Returns the persisted match id.
func (e *Engine) CreateMatch(ctx context.Context, p1, p2 int64, kind models.GameKind, tournamentMatchID int64, difficulty models.Difficulty) (int64, error) {
	id, err := e.store.InsertMatch(ctx, p1, p2, kind, tournamentMatchID, difficulty)
	if err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + id))
	m := &Match{
		ID:                id,
		Kind:              kind,
		TournamentMatchID: tournamentMatchID,
		Difficulty:        difficulty,
		Paddle1:           models.Paddle{PlayerID: p1},
		Paddle2:           models.Paddle{PlayerID: p2},
		ready:             make(map[int64]bool),
		stopTick:          make(chan struct{}),
		serveSpeed:        humanServeSpeed,
		rng:               rng,
	}
	if kind == models.GameKindAI {
		tier, ok := aiTiers[difficulty]
		if !ok {
			tier = aiTiers[models.DifficultyMedium]
		}
		m.serveSpeed = tier.serveSpeed
		m.ai = newAIController(difficulty, rng)
		// The AI side signals readiness immediately.
		m.ready[models.AIUserID] = true
	}
	m.resetBall(1)

	e.mu.Lock()
	e.matches[id] = m
	e.mu.Unlock()

	log.Printf("engine: match %d created (%s, %d vs %d)", id, kind, p1, p2)

	for _, uid := range m.humanParticipants() {
		e.pusher.SendToUser(uid, map[string]interface{}{
			"type":       "game_created",
			"gameId":     id,
			"kind":       string(kind),
			"opponentId": m.opponentOf(uid),
		})
	}
	return id, nil
}

// MarkReady adds the participant to the match's readiness set. Once both
// expected participants are present the countdown begins, exactly once per
// match; calls after the match is running (or for unknown ids) are no-ops.
func (e *Engine) MarkReady(matchID, userID int64) {
	m, ok := e.GetMatch(matchID)
	if !ok {
		log.Printf("engine: game_ready for unknown match %d from user %d, ignoring", matchID, userID)
		return
	}

	m.Mu.Lock()
	if m.Ended || m.Running || m.countdownStarted {
		m.Mu.Unlock()
		return
	}
	if !m.HasParticipant(userID) {
		m.Mu.Unlock()
		e.pusher.SendError(userID, "you are not a participant of this match")
		return
	}
	m.ready[userID] = true
	bothReady := len(m.ready) == 2
	if bothReady {
		m.countdownStarted = true
	}
	m.Mu.Unlock()

	if bothReady {
		log.Printf("engine: match %d readiness barrier passed, starting countdown", matchID)
		go e.runCountdown(m)
	}
}

// runCountdown broadcasts one game_countdown per second, then flips the match
// to running and launches its tick loop.
func (e *Engine) runCountdown(m *Match) {
	for i := CountdownSeconds; i > 0; i-- {
		e.pushToParticipants(m, map[string]interface{}{
			"type":    "game_countdown",
			"gameId":  m.ID,
			"seconds": i,
		})
		time.Sleep(e.countdownInterval)
	}

	m.Mu.Lock()
	if m.Ended {
		m.Mu.Unlock()
		return
	}
	m.Running = true
	m.tickStarted = true
	snapshot := m.snapshotLocked()
	m.Mu.Unlock()

	e.pushToParticipants(m, snapshot)
	go e.runTickLoop(m)
}

// runTickLoop drives the fixed-period simulation until the stop channel is
// closed. Ticks for one match never overlap: every step runs under the match
// lock, and the loop itself is the only ticker for that match.
func (e *Engine) runTickLoop(m *Match) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopTick:
			return
		case <-ticker.C:
			e.tick(m)
		}
	}
}

// tick advances one simulation step and broadcasts the snapshot; when a score
// first reaches the threshold it finalizes the match instead.
func (e *Engine) tick(m *Match) {
	m.Mu.Lock()
	if !m.Running || m.Ended {
		m.Mu.Unlock()
		return
	}
	if m.ai != nil {
		m.ai.move(m)
	}
	m.step()

	if winner := m.winnerLocked(); winner != 0 {
		result := e.endMatchLocked(m, winner, false)
		m.Mu.Unlock()
		e.finalizeMatch(m, result)
		return
	}

	snapshot := m.snapshotLocked()
	m.Mu.Unlock()
	e.pushToParticipants(m, snapshot)
}

// ApplyMove shifts a human participant's paddle one step, clamped to the
// court, and broadcasts the new state immediately rather than waiting for the
// next tick. Moves before the match is running, or for stale ids, have no
// effect.
func (e *Engine) ApplyMove(matchID, userID int64, direction string) {
	m, ok := e.GetMatch(matchID)
	if !ok {
		return
	}

	m.Mu.Lock()
	if !m.Running || m.Ended || userID == models.AIUserID {
		m.Mu.Unlock()
		return
	}
	paddle := m.paddleOf(userID)
	if paddle == nil {
		m.Mu.Unlock()
		return
	}

	switch direction {
	case MoveLeft:
		paddle.X -= PaddleStep
	case MoveRight:
		paddle.X += PaddleStep
	default:
		m.Mu.Unlock()
		e.pusher.SendError(userID, "unknown move direction")
		return
	}
	limit := CourtHalfWidth - PaddleHalfWidth
	if paddle.X > limit {
		paddle.X = limit
	} else if paddle.X < -limit {
		paddle.X = -limit
	}
	snapshot := m.snapshotLocked()
	m.Mu.Unlock()

	e.pushToParticipants(m, snapshot)
}

// HandleDisconnect starts the forfeit clock for every live match the user
// plays in: if they have not reconnected when the grace period expires, the
// opponent wins. A match that has not started yet is left untouched.
func (e *Engine) HandleDisconnect(userID int64) {
	for _, m := range e.matchesOf(userID) {
		m.Mu.Lock()
		if m.Ended || !m.Running || m.forfeitTimer != nil {
			m.Mu.Unlock()
			continue
		}
		match := m
		m.forfeitTimer = time.AfterFunc(e.forfeitGrace, func() {
			e.forfeit(match, userID)
		})
		m.Mu.Unlock()
		log.Printf("engine: user %d disconnected, match %d forfeits in %s unless they return", userID, m.ID, e.forfeitGrace)
	}
}

// HandleReconnect cancels any pending forfeit for the user's live matches.
func (e *Engine) HandleReconnect(userID int64) {
	for _, m := range e.matchesOf(userID) {
		m.Mu.Lock()
		if m.forfeitTimer != nil {
			m.forfeitTimer.Stop()
			m.forfeitTimer = nil
			log.Printf("engine: user %d reconnected, match %d forfeit cancelled", userID, m.ID)
		}
		m.Mu.Unlock()
	}
}

// forfeit ends the match with the disconnected player's opponent as winner.
func (e *Engine) forfeit(m *Match, leaverID int64) {
	m.Mu.Lock()
	if m.Ended {
		m.Mu.Unlock()
		return
	}
	winner := m.opponentOf(leaverID)
	log.Printf("engine: match %d forfeited by user %d, winner %d", m.ID, leaverID, winner)
	result := e.endMatchLocked(m, winner, true)
	m.Mu.Unlock()
	e.finalizeMatch(m, result)
}

// CancelMatch tears down a live match without declaring a winner, for matches
// whose surrounding tournament disappears before they ever start. The tick
// loop, if it was launched, is cancelled exactly once here.
func (e *Engine) CancelMatch(matchID int64) {
	m, ok := e.GetMatch(matchID)
	if !ok {
		return
	}
	m.Mu.Lock()
	if m.Ended {
		m.Mu.Unlock()
		return
	}
	m.Ended = true
	m.Running = false
	if m.tickStarted {
		close(m.stopTick)
	}
	if m.forfeitTimer != nil {
		m.forfeitTimer.Stop()
		m.forfeitTimer = nil
	}
	m.Mu.Unlock()

	e.removeMatch(m.ID)
	log.Printf("engine: match %d cancelled", matchID)
}

// endMatchLocked performs the terminal transition: marks the match ended,
// stops the tick loop exactly once, and captures the result for finalization.
// Assumes lock is held; fires at most once per match by the Ended guard.
func (e *Engine) endMatchLocked(m *Match, winnerID int64, forfeit bool) models.MatchResult {
	m.Ended = true
	m.Running = false
	if m.tickStarted {
		close(m.stopTick)
		m.tickStarted = false
	}
	if m.forfeitTimer != nil {
		m.forfeitTimer.Stop()
		m.forfeitTimer = nil
	}
	return models.MatchResult{
		MatchID:  m.ID,
		WinnerID: winnerID,
		Score1:   m.Paddle1.Score,
		Score2:   m.Paddle2.Score,
		Forfeit:  forfeit,
	}
}

// finalizeMatch persists the result, broadcasts game_result, queues the
// history record, notifies the tournament orchestrator for bracket matches,
// and discards the live record. Persistence failures are logged, not rolled
// back: the broadcast still reflects the in-memory outcome.
func (e *Engine) finalizeMatch(m *Match, result models.MatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := e.store.UpdateMatchResult(ctx, result.MatchID, result.WinnerID, result.Score1, result.Score2); err != nil {
		log.Printf("engine: failed to persist result of match %d: %v", result.MatchID, err)
	}
	cancel()

	e.pushToParticipants(m, map[string]interface{}{
		"type":     "game_result",
		"gameId":   result.MatchID,
		"winnerId": result.WinnerID,
		"score1":   result.Score1,
		"score2":   result.Score2,
		"forfeit":  result.Forfeit,
	})

	e.publishHistory(m, result)

	if m.Kind == models.GameKindTournament && e.OnMatchComplete != nil {
		e.OnMatchComplete(m.TournamentMatchID, result.WinnerID)
	}

	e.removeMatch(result.MatchID)
	log.Printf("engine: match %d ended, winner %d (%d-%d)", result.MatchID, result.WinnerID, result.Score1, result.Score2)
}

// publishHistory queues the terminal record for the external stats service.
func (e *Engine) publishHistory(m *Match, result models.MatchResult) {
	record := cache.MatchHistoryRecord{
		MatchID:   result.MatchID,
		Kind:      string(m.Kind),
		Player1ID: m.Paddle1.PlayerID,
		Player2ID: m.Paddle2.PlayerID,
		WinnerID:  result.WinnerID,
		Score1:    result.Score1,
		Score2:    result.Score2,
		Forfeit:   result.Forfeit,
		Timestamp: time.Now().UnixMilli(),
	}
	go func(rec cache.MatchHistoryRecord) {
		if cache.Rdb == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishMatchHistory(ctx, rec); err != nil {
			log.Printf("engine: failed to publish history for match %d: %v", rec.MatchID, err)
		}
	}(record)
}

// pushToParticipants sends msg to each human participant of the match.
func (e *Engine) pushToParticipants(m *Match, msg map[string]interface{}) {
	for _, uid := range m.humanParticipants() {
		e.pusher.SendToUser(uid, msg)
	}
}

// matchesOf snapshots the live matches the user participates in.
func (e *Engine) matchesOf(userID int64) []*Match {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Match
	for _, m := range e.matches {
		if m.HasParticipant(userID) && userID != models.AIUserID {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) removeMatch(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.matches, id)
}
