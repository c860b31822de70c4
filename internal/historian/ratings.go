// internal/historian/ratings.go
package historian

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/paddlearena/arena/internal/cache"
	"github.com/paddlearena/arena/internal/models"
	"github.com/paddlearena/arena/internal/rating"
)

// updateRatings applies a Glicko2 update for a human-vs-human match. AI
// matches are unrated. A forfeit counts as a loss for the leaver.
func (h *Historian) updateRatings(ctx context.Context, rec cache.MatchHistoryRecord) error {
	if rec.Player1ID == models.AIUserID || rec.Player2ID == models.AIUserID {
		return nil
	}

	return pgx.BeginTxFunc(ctx, h.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r1, err := loadRating(ctx, tx, rec.Player1ID)
		if err != nil {
			return err
		}
		r2, err := loadRating(ctx, tx, rec.Player2ID)
		if err != nil {
			return err
		}

		score1 := 0.0
		if rec.WinnerID == rec.Player1ID {
			score1 = 1.0
		}
		new1, new2 := rating.UpdatePair(r1, r2, score1)

		if err := saveRating(ctx, tx, rec.Player1ID, new1); err != nil {
			return err
		}
		return saveRating(ctx, tx, rec.Player2ID, new2)
	})
}

// loadRating fetches a player's rating row, defaulting a player with no
// history to the baseline.
func loadRating(ctx context.Context, tx pgx.Tx, userID int64) (rating.PlayerRating, error) {
	r := rating.NewPlayerRating()
	q := `SELECT elo, phi, sigma FROM player_ratings WHERE user_id = $1`
	err := tx.QueryRow(ctx, q, userID).Scan(&r.Elo, &r.Phi, &r.Sigma)
	if err == pgx.ErrNoRows {
		return rating.NewPlayerRating(), nil
	}
	if err != nil {
		return r, fmt.Errorf("load rating for user %d: %w", userID, err)
	}
	return r, nil
}

func saveRating(ctx context.Context, tx pgx.Tx, userID int64, r rating.PlayerRating) error {
	q := `
		INSERT INTO player_ratings (user_id, elo, phi, sigma, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET elo = $2, phi = $3, sigma = $4, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, q, userID, r.Elo, r.Phi, r.Sigma); err != nil {
		return fmt.Errorf("save rating for user %d: %w", userID, err)
	}
	return nil
}
