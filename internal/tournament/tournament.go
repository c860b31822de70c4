// internal/tournament/tournament.go
package tournament

import (
	"sync"

	"github.com/paddlearena/arena/internal/models"
)

// TournamentSize is the fixed bracket size: two semifinals and one final.
const TournamentSize = 4

// Tournament is one live bracket. The orchestrator exclusively owns this
// state; Mu serializes every phase decision for the tournament so the
// semifinal-completion check always observes a consistent view of both
// winners.
type Tournament struct {
	ID     int64
	HostID int64

	// Players in join order; pairing into semifinals is by this order.
	Players []models.TournamentPlayer

	Phase models.TournamentPhase

	Semis [2]*models.BracketMatch
	Final *models.BracketMatch

	// started guards the waiting -> semifinals transition so the bracket can
	// never be launched twice.
	started bool

	Mu sync.Mutex
}

// playerLocked returns the entrant for userID, or nil. Assumes lock is held.
func (t *Tournament) playerLocked(userID int64) *models.TournamentPlayer {
	for i := range t.Players {
		if t.Players[i].UserID == userID {
			return &t.Players[i]
		}
	}
	return nil
}

// aliasLocked returns the alias chosen by userID, or an empty string.
// Assumes lock is held.
func (t *Tournament) aliasLocked(userID int64) string {
	if p := t.playerLocked(userID); p != nil {
		return p.Alias
	}
	return ""
}

// allReadyLocked reports whether the bracket is full and every entrant has
// signaled ready. Assumes lock is held.
func (t *Tournament) allReadyLocked() bool {
	if len(t.Players) != TournamentSize {
		return false
	}
	for _, p := range t.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// bracketMatchLocked returns the bracket match with the given persisted row
// id, or nil. Assumes lock is held.
func (t *Tournament) bracketMatchLocked(bracketMatchID int64) *models.BracketMatch {
	for _, bm := range t.Semis {
		if bm != nil && bm.ID == bracketMatchID {
			return bm
		}
	}
	if t.Final != nil && t.Final.ID == bracketMatchID {
		return t.Final
	}
	return nil
}

// playerIDsLocked snapshots the entrant ids. Assumes lock is held.
func (t *Tournament) playerIDsLocked() []int64 {
	ids := make([]int64, 0, len(t.Players))
	for _, p := range t.Players {
		ids = append(ids, p.UserID)
	}
	return ids
}

// statePayloadLocked builds the tournament_state_update event broadcast to
// every entrant on roster or readiness changes. Assumes lock is held.
func (t *Tournament) statePayloadLocked() map[string]interface{} {
	players := make([]map[string]interface{}, 0, len(t.Players))
	for _, p := range t.Players {
		players = append(players, map[string]interface{}{
			"userId": p.UserID,
			"alias":  p.Alias,
			"ready":  p.Ready,
		})
	}
	return map[string]interface{}{
		"type":         "tournament_state_update",
		"tournamentId": t.ID,
		"hostId":       t.HostID,
		"phase":        string(t.Phase),
		"players":      players,
	}
}

// podiumLocked computes the final placement list: final winner, final loser,
// then the two semifinal losers in bracket order (semifinal 1's loser takes
// third). Callable only once the final has a recorded winner; assumes lock is
// held.
func (t *Tournament) podiumLocked() []models.PodiumEntry {
	finalWinner := t.Final.WinnerID
	finalLoser := t.Final.Player1
	if finalLoser == finalWinner {
		finalLoser = t.Final.Player2
	}
	podium := []models.PodiumEntry{
		{UserID: finalWinner, Place: 1},
		{UserID: finalLoser, Place: 2},
	}
	place := 3
	for _, semi := range t.Semis {
		loser := semi.Player1
		if loser == semi.WinnerID {
			loser = semi.Player2
		}
		podium = append(podium, models.PodiumEntry{UserID: loser, Place: place})
		place++
	}
	return podium
}
