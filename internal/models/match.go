// internal/models/match.go
package models

// GameKind tags how a match was created and how its lifecycle is handled.
type GameKind string

const (
	GameKindCasual     GameKind = "casual"
	GameKindTournament GameKind = "tournament"
	GameKindAI         GameKind = "ai"
)

// Difficulty selects the AI opponent's tier for kind "ai" matches.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// AIUserID is the sentinel participant id used for the AI side of an
// "ai" match. Real user ids assigned by the identity service start at 1.
const AIUserID int64 = 0

// Paddle is one participant's paddle state. X is the lateral position of
// the paddle center; the depth coordinate is fixed per side.
type Paddle struct {
	PlayerID int64   `json:"playerId"`
	X        float64 `json:"x"`
	Score    int     `json:"score"`
}

// Ball carries the full ball state. JustBounced guards against a second
// paddle reflection in the ticks immediately after a contact.
type Ball struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	VX          float64 `json:"vx"`
	VY          float64 `json:"vy"`
	JustBounced bool    `json:"-"`
}

// MatchMeta is the persisted metadata needed to route a finished match:
// its kind and, for tournament matches, the bracket-match row it belongs to.
type MatchMeta struct {
	Kind              GameKind `json:"kind"`
	TournamentMatchID int64    `json:"tournamentMatchId"`
}

// MatchResult is the terminal outcome of a match, persisted and then
// broadcast to both participants.
type MatchResult struct {
	MatchID  int64 `json:"matchId"`
	WinnerID int64 `json:"winnerId"`
	Score1   int   `json:"score1"`
	Score2   int   `json:"score2"`
	Forfeit  bool  `json:"forfeit,omitempty"`
}
