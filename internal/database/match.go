// internal/database/match.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/paddlearena/arena/internal/models"
)

// InsertMatch creates a match row and returns its generated id.
// tournamentMatchID == 0 stores NULL (casual and AI matches own no bracket
// slot); difficulty is empty for human-vs-human matches.
func (s *Store) InsertMatch(ctx context.Context, p1, p2 int64, kind models.GameKind, tournamentMatchID int64, difficulty models.Difficulty) (int64, error) {
	var bracketRef interface{}
	if tournamentMatchID != 0 {
		bracketRef = tournamentMatchID
	}
	var diff interface{}
	if difficulty != "" {
		diff = string(difficulty)
	}

	q := `
		INSERT INTO matches (player1_id, player2_id, kind, tournament_match_id, difficulty, status)
		VALUES ($1, $2, $3, $4, $5, 'in_progress')
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, q, p1, p2, string(kind), bracketRef, diff).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	return id, nil
}

// UpdateMatchResult marks a match completed with its winner and final score.
func (s *Store) UpdateMatchResult(ctx context.Context, matchID, winnerID int64, score1, score2 int) error {
	q := `
		UPDATE matches
		SET winner_id = $1, score1 = $2, score2 = $3, status = 'completed', ended_at = NOW()
		WHERE id = $4
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, winnerID, score1, score2, matchID)
		return e
	})
	if err != nil {
		return fmt.Errorf("update match result: %w", err)
	}
	return nil
}

// GetMatchMeta fetches the kind and bracket linkage of a match row.
func (s *Store) GetMatchMeta(ctx context.Context, matchID int64) (models.MatchMeta, error) {
	var meta models.MatchMeta
	var kind string
	var bracketRef *int64
	q := `SELECT kind, tournament_match_id FROM matches WHERE id = $1`
	if err := s.pool.QueryRow(ctx, q, matchID).Scan(&kind, &bracketRef); err != nil {
		return meta, fmt.Errorf("get match meta: %w", err)
	}
	meta.Kind = models.GameKind(kind)
	if bracketRef != nil {
		meta.TournamentMatchID = *bracketRef
	}
	return meta, nil
}
