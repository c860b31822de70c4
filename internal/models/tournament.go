// internal/models/tournament.go
package models

// TournamentPhase is the bracket state machine. Transitions are monotonic:
// waiting -> semifinals -> final -> completed.
type TournamentPhase string

const (
	PhaseWaiting    TournamentPhase = "waiting"
	PhaseSemifinals TournamentPhase = "semifinals"
	PhaseFinal      TournamentPhase = "final"
	PhaseCompleted  TournamentPhase = "completed"
)

// TournamentPlayer is one entrant: the user id, the alias they chose for
// this bracket, and their ready flag.
type TournamentPlayer struct {
	UserID int64  `json:"userId"`
	Alias  string `json:"alias"`
	Ready  bool   `json:"ready"`
}

// BracketMatch links a persisted tournament_matches row to the two entrants
// paired into it and, once decided, the winner.
type BracketMatch struct {
	ID       int64 `json:"id"`
	MatchID  int64 `json:"matchId"`
	Player1  int64 `json:"player1"`
	Player2  int64 `json:"player2"`
	WinnerID int64 `json:"winnerId"` // 0 until decided
}

// PodiumEntry is one line of the final placement list.
type PodiumEntry struct {
	UserID int64 `json:"userId"`
	Place  int   `json:"place"`
}
