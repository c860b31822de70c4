// internal/engine/match.go
package engine

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/paddlearena/arena/internal/models"
)

// Court geometry and simulation tuning. Positions are scalar floats on two
// perpendicular axes: lateral x (side walls at +-CourtHalfWidth) and depth y
// (paddles at +-CourtDepth). Player 1 defends the -y end, player 2 the +y end.
const (
	CourtHalfWidth  = 5.0
	CourtDepth      = 10.0
	PaddleHalfWidth = 1.0
	BallHalfWidth   = 0.25
	PaddleStep      = 0.6

	// WinningScore ends the match the instant either side reaches it.
	WinningScore = 5

	CountdownSeconds = 5
	TickInterval     = 50 * time.Millisecond

	// humanServeSpeed is the depth speed per tick for casual and tournament
	// matches; AI matches use the tier's serve speed instead.
	humanServeSpeed = 0.30

	// serveSpreadFactor bounds the lateral serve component relative to the
	// depth component. Kept <= 0.4 so a ball crossing the full court reflects
	// off a side wall at most once, which keeps the AI's single-bounce
	// intercept extrapolation exact.
	serveSpreadFactor = 0.4

	// serveSpreadMin keeps serves off the exact center line; a perfectly
	// vertical ball between two centered paddles would rally forever.
	serveSpreadMin = 0.15
)

// Move directions accepted from clients.
const (
	MoveLeft  = "LEFT"
	MoveRight = "RIGHT"
)

// Match holds the authoritative state for one live simulation. The Match
// Engine exclusively owns this state while the match runs; all access goes
// through Mu.
type Match struct {
	ID                int64
	Kind              models.GameKind
	TournamentMatchID int64 // 0 unless Kind is tournament
	Difficulty        models.Difficulty

	Paddle1 models.Paddle // defends y = -CourtDepth
	Paddle2 models.Paddle // defends y = +CourtDepth
	Ball    models.Ball

	Running bool
	Ended   bool

	// ready is the readiness set: participants who have signaled game_ready.
	// The AI side is inserted at creation time.
	ready            map[int64]bool
	countdownStarted bool

	// stopTick is closed exactly once to cancel the tick loop; tickStarted
	// records whether the loop was ever launched.
	stopTick    chan struct{}
	tickStarted bool

	forfeitTimer *time.Timer

	serveSpeed float64
	rng        *rand.Rand
	ai         *aiController // nil for human-vs-human matches

	Mu sync.Mutex
}

// HasParticipant reports whether userID plays in this match.
func (m *Match) HasParticipant(userID int64) bool {
	return m.Paddle1.PlayerID == userID || m.Paddle2.PlayerID == userID
}

// opponentOf returns the other participant's id.
func (m *Match) opponentOf(userID int64) int64 {
	if m.Paddle1.PlayerID == userID {
		return m.Paddle2.PlayerID
	}
	return m.Paddle1.PlayerID
}

// paddleOf returns the paddle owned by userID, or nil.
func (m *Match) paddleOf(userID int64) *models.Paddle {
	switch userID {
	case m.Paddle1.PlayerID:
		return &m.Paddle1
	case m.Paddle2.PlayerID:
		return &m.Paddle2
	}
	return nil
}

// resetBall recenters the ball and serves it toward the given end (+1 or -1)
// with a randomized lateral component. Assumes lock is held.
func (m *Match) resetBall(towardY float64) {
	spread := serveSpreadMin + (serveSpreadFactor-serveSpreadMin)*m.rng.Float64()
	if m.rng.Intn(2) == 0 {
		spread = -spread
	}
	m.Ball = models.Ball{
		X:  0,
		Y:  0,
		VX: spread * m.serveSpeed,
		VY: towardY * m.serveSpeed,
	}
}

// step advances the simulation by one tick: ball movement, side-wall
// reflection, paddle contact, and scoring. Assumes lock is held.
//
// Paddle contact is an axis-aligned approximation: the ball hits a paddle when
// it reaches the paddle's depth while moving toward it and the lateral gap is
// within the combined half-widths. Paddle 1 is always tested before paddle 2,
// which is the deterministic tie-break for the (geometrically near-impossible)
// case of both paddles registering contact in the same tick.
func (m *Match) step() {
	b := &m.Ball
	b.X += b.VX
	b.Y += b.VY

	// Side walls reflect the lateral component.
	wall := CourtHalfWidth - BallHalfWidth
	if b.X <= -wall {
		b.X = -2*wall - b.X
		b.VX = -b.VX
	} else if b.X >= wall {
		b.X = 2*wall - b.X
		b.VX = -b.VX
	}

	// The rebounce guard lifts once the ball has left the paddle band, so a
	// single contact can never score or bounce twice.
	contactY := CourtDepth - BallHalfWidth
	if b.JustBounced && math.Abs(b.Y) < contactY-1.0 {
		b.JustBounced = false
	}

	if !b.JustBounced {
		switch {
		case b.VY < 0 && b.Y <= -contactY && math.Abs(b.X-m.Paddle1.X) <= PaddleHalfWidth+BallHalfWidth:
			b.Y = -contactY
			b.VY = -b.VY
			b.JustBounced = true
		case b.VY > 0 && b.Y >= contactY && math.Abs(b.X-m.Paddle2.X) <= PaddleHalfWidth+BallHalfWidth:
			b.Y = contactY
			b.VY = -b.VY
			b.JustBounced = true
		}
	}

	// A ball past the far end scores for the opposite side and resets toward
	// the conceding player.
	outY := CourtDepth + BallHalfWidth
	if b.Y < -outY {
		m.Paddle2.Score++
		m.resetBall(-1)
	} else if b.Y > outY {
		m.Paddle1.Score++
		m.resetBall(1)
	}
}

// winnerLocked returns the winner's id if either score has reached the
// threshold, or 0 if the match is still undecided. Assumes lock is held.
func (m *Match) winnerLocked() int64 {
	if m.Paddle1.Score >= WinningScore {
		return m.Paddle1.PlayerID
	}
	if m.Paddle2.Score >= WinningScore {
		return m.Paddle2.PlayerID
	}
	return 0
}

// snapshotLocked builds the game_update payload pushed to both participants.
// Assumes lock is held.
func (m *Match) snapshotLocked() map[string]interface{} {
	return map[string]interface{}{
		"type":    "game_update",
		"gameId":  m.ID,
		"running": m.Running,
		"paddle1": map[string]interface{}{
			"playerId": m.Paddle1.PlayerID,
			"x":        m.Paddle1.X,
			"score":    m.Paddle1.Score,
		},
		"paddle2": map[string]interface{}{
			"playerId": m.Paddle2.PlayerID,
			"x":        m.Paddle2.X,
			"score":    m.Paddle2.Score,
		},
		"ball": map[string]interface{}{
			"x": m.Ball.X,
			"y": m.Ball.Y,
		},
	}
}

// humanParticipants returns the participant ids excluding the AI sentinel.
func (m *Match) humanParticipants() []int64 {
	ids := make([]int64, 0, 2)
	if m.Paddle1.PlayerID != models.AIUserID {
		ids = append(ids, m.Paddle1.PlayerID)
	}
	if m.Paddle2.PlayerID != models.AIUserID {
		ids = append(ids, m.Paddle2.PlayerID)
	}
	return ids
}
