// internal/engine/ai.go
package engine

import (
	"math"
	"math/rand"

	"github.com/paddlearena/arena/internal/models"
)

// aiTier parameterizes one difficulty level: how fast the paddle may chase,
// how sloppy its intercept prediction is, how often it deliberately whiffs an
// exchange, and how hard the ball is served in its matches.
type aiTier struct {
	maxSpeed   float64 // max lateral movement per tick
	noise      float64 // random error margin added to the predicted intercept
	missRate   float64 // chance per approach to aim deliberately wide
	serveSpeed float64 // depth speed used when the ball resets
}

var aiTiers = map[models.Difficulty]aiTier{
	models.DifficultyEasy:   {maxSpeed: 0.12, noise: 1.8, missRate: 0.25, serveSpeed: 0.25},
	models.DifficultyMedium: {maxSpeed: 0.20, noise: 0.8, missRate: 0.10, serveSpeed: 0.32},
	models.DifficultyHard:   {maxSpeed: 0.45, noise: 0.0, missRate: 0.0, serveSpeed: 0.40},
}

// aiController drives the paddle at y = +CourtDepth in AI matches. It is a
// pure function of the ball and its own paddle state: it sees nothing the
// simulation does not already expose to both participants.
type aiController struct {
	tier aiTier
	rng  *rand.Rand

	// target is recomputed once per approach (each time the ball turns toward
	// the AI side); approaching tracks the ball's current direction so the
	// miss roll happens once per exchange.
	target      float64
	approaching bool
}

func newAIController(difficulty models.Difficulty, rng *rand.Rand) *aiController {
	tier, ok := aiTiers[difficulty]
	if !ok {
		tier = aiTiers[models.DifficultyMedium]
	}
	return &aiController{tier: tier, rng: rng}
}

// move advances the AI paddle by at most one tick's worth of speed. The AI
// only reacts while the ball is moving toward it; otherwise it holds position.
// Assumes the match lock is held.
func (ai *aiController) move(m *Match) {
	b := m.Ball
	if b.VY <= 0 {
		ai.approaching = false
		return
	}

	if !ai.approaching {
		ai.approaching = true
		ai.target = predictIntercept(b) + ai.tier.noise*(ai.rng.Float64()*2-1)
		// The intentional whiff: aim a full paddle-and-ball width past the
		// true intercept so the exchange cannot be saved.
		if ai.tier.missRate > 0 && ai.rng.Float64() < ai.tier.missRate {
			wide := 2*PaddleHalfWidth + BallHalfWidth
			if ai.target >= 0 {
				ai.target -= wide + PaddleHalfWidth
			} else {
				ai.target += wide + PaddleHalfWidth
			}
		}
	}

	limit := CourtHalfWidth - PaddleHalfWidth
	target := math.Max(-limit, math.Min(limit, ai.target))

	diff := target - m.Paddle2.X
	if math.Abs(diff) <= ai.tier.maxSpeed {
		m.Paddle2.X = target
		return
	}
	if diff > 0 {
		m.Paddle2.X += ai.tier.maxSpeed
	} else {
		m.Paddle2.X -= ai.tier.maxSpeed
	}
}

// predictIntercept extrapolates the ball's lateral position at the AI paddle's
// depth, folding at most one side-wall reflection. One fold is exact for every
// serve the engine produces (lateral travel per crossing is bounded by
// serveSpreadFactor), and deliberately nothing more: no lookahead beyond one
// bounce is part of the difficulty design.
func predictIntercept(b models.Ball) float64 {
	ticks := (CourtDepth - BallHalfWidth - b.Y) / b.VY
	x := b.X + b.VX*ticks
	wall := CourtHalfWidth - BallHalfWidth
	if x > wall {
		x = 2*wall - x
	} else if x < -wall {
		x = -2*wall - x
	}
	return x
}
