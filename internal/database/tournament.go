// internal/database/tournament.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertTournament creates a tournament row and returns its generated id.
func (s *Store) InsertTournament(ctx context.Context, hostID int64) (int64, error) {
	q := `
		INSERT INTO tournaments (host_user_id, status)
		VALUES ($1, 'waiting')
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, q, hostID).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert tournament: %w", err)
	}
	return id, nil
}

// InsertTournamentParticipant records an entrant and the alias they chose.
func (s *Store) InsertTournamentParticipant(ctx context.Context, tournamentID, userID int64, alias string) error {
	q := `
		INSERT INTO tournament_participants (tournament_id, user_id, alias)
		VALUES ($1, $2, $3)
		ON CONFLICT (tournament_id, user_id) DO UPDATE SET alias = $3
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, tournamentID, userID, alias)
		return e
	})
	if err != nil {
		return fmt.Errorf("insert tournament participant: %w", err)
	}
	return nil
}

// DeleteTournamentParticipant removes an entrant's row.
func (s *Store) DeleteTournamentParticipant(ctx context.Context, tournamentID, userID int64) error {
	q := `DELETE FROM tournament_participants WHERE tournament_id = $1 AND user_id = $2`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, tournamentID, userID)
		return e
	})
	if err != nil {
		return fmt.Errorf("delete tournament participant: %w", err)
	}
	return nil
}

// InsertTournamentMatch creates a bracket-slot row (semifinal or final) and
// returns its generated id. The engine's match row links back to this id.
func (s *Store) InsertTournamentMatch(ctx context.Context, tournamentID int64, round string, p1, p2 int64) (int64, error) {
	q := `
		INSERT INTO tournament_matches (tournament_id, round, player1_id, player2_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, q, tournamentID, round, p1, p2).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert tournament match: %w", err)
	}
	return id, nil
}

// UpdateTournamentMatchWinner records the winner of a bracket slot.
func (s *Store) UpdateTournamentMatchWinner(ctx context.Context, tournamentMatchID, winnerID int64) error {
	q := `UPDATE tournament_matches SET winner_id = $1 WHERE id = $2`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, winnerID, tournamentMatchID)
		return e
	})
	if err != nil {
		return fmt.Errorf("update tournament match winner: %w", err)
	}
	return nil
}

// SetTournamentWinner marks the tournament completed with its champion.
func (s *Store) SetTournamentWinner(ctx context.Context, tournamentID, winnerID int64) error {
	q := `
		UPDATE tournaments
		SET winner_id = $1, status = 'completed', ended_at = NOW()
		WHERE id = $2
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, winnerID, tournamentID)
		return e
	})
	if err != nil {
		return fmt.Errorf("set tournament winner: %w", err)
	}
	return nil
}

// DeleteTournament removes an abandoned tournament and its participants.
func (s *Store) DeleteTournament(ctx context.Context, tournamentID int64) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tournament_participants WHERE tournament_id = $1`, tournamentID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM tournaments WHERE id = $1`, tournamentID)
		return err
	})
}
