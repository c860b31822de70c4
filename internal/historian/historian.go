// internal/historian/historian.go
package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paddlearena/arena/internal/cache"
)

// Historian drains the arena history queue from Redis and persists match and
// tournament records into the stats tables. It runs as its own process so a
// slow or unavailable database never backs up into the game server.
type Historian struct {
	Rdb   *redis.Client
	Pool  *pgxpool.Pool
	Queue string

	// PopTimeout bounds each BLPop so Run notices context cancellation.
	PopTimeout time.Duration
}

// New builds a Historian over an existing Redis client and pgx pool.
func New(rdb *redis.Client, pool *pgxpool.Pool, queue string) *Historian {
	if queue == "" {
		queue = cache.DefaultQueueName
	}
	return &Historian{
		Rdb:        rdb,
		Pool:       pool,
		Queue:      queue,
		PopTimeout: 5 * time.Second,
	}
}

// Run blocks, consuming queue entries until the context is cancelled. Records
// that fail to parse are dropped with a log line; records that fail to insert
// are requeued at the head so nothing is lost across restarts.
func (h *Historian) Run(ctx context.Context) {
	log.Printf("historian: consuming queue '%s'", h.Queue)
	for {
		select {
		case <-ctx.Done():
			log.Printf("historian: shutting down")
			return
		default:
		}

		res, err := h.Rdb.BLPop(ctx, h.PopTimeout, h.Queue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("historian: blpop error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		// BLPop returns [queue, value].
		if len(res) < 2 {
			continue
		}
		data := []byte(res[1])

		if err := h.processRecord(ctx, data); err != nil {
			log.Printf("historian: failed to persist record, requeueing: %v", err)
			if e := h.Rdb.LPush(ctx, h.Queue, data).Err(); e != nil {
				log.Printf("historian: requeue failed, record lost: %v", e)
			}
			time.Sleep(time.Second)
		}
	}
}

// processRecord dispatches a raw queue entry by its record_type tag.
func (h *Historian) processRecord(ctx context.Context, data []byte) error {
	var tag struct {
		RecordType string `json:"record_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		log.Printf("historian: dropping malformed record: %v", err)
		return nil
	}

	switch tag.RecordType {
	case cache.RecordTypeMatch:
		var rec cache.MatchHistoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("historian: dropping malformed match record: %v", err)
			return nil
		}
		if err := h.insertMatchRecord(ctx, rec); err != nil {
			return err
		}
		if err := h.updateRatings(ctx, rec); err != nil {
			// Ratings are derived data; a failed update must not requeue the
			// record and double-insert history.
			log.Printf("historian: rating update failed for match %d: %v", rec.MatchID, err)
		}
		return nil
	case cache.RecordTypeTournament:
		var rec cache.TournamentHistoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("historian: dropping malformed tournament record: %v", err)
			return nil
		}
		return h.insertTournamentRecord(ctx, rec)
	default:
		log.Printf("historian: dropping record with unknown type %q", tag.RecordType)
		return nil
	}
}

func (h *Historian) insertMatchRecord(ctx context.Context, rec cache.MatchHistoryRecord) error {
	q := `
		INSERT INTO match_history (match_id, kind, player1_id, player2_id, winner_id, score1, score2, forfeit, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, to_timestamp($9 / 1000.0))
		ON CONFLICT (match_id) DO NOTHING
	`
	err := pgx.BeginTxFunc(ctx, h.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q,
			rec.MatchID, rec.Kind, rec.Player1ID, rec.Player2ID,
			rec.WinnerID, rec.Score1, rec.Score2, rec.Forfeit, rec.Timestamp,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("insert match history %d: %w", rec.MatchID, err)
	}
	return nil
}

func (h *Historian) insertTournamentRecord(ctx context.Context, rec cache.TournamentHistoryRecord) error {
	err := pgx.BeginTxFunc(ctx, h.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO tournament_history (tournament_id, winner_id, played_at)
			VALUES ($1, $2, to_timestamp($3 / 1000.0))
			ON CONFLICT (tournament_id) DO NOTHING
		`
		if _, e := tx.Exec(ctx, q, rec.TournamentID, rec.WinnerID, rec.Timestamp); e != nil {
			return e
		}
		for i, userID := range rec.Podium {
			pq := `
				INSERT INTO tournament_podiums (tournament_id, user_id, place)
				VALUES ($1, $2, $3)
				ON CONFLICT (tournament_id, user_id) DO NOTHING
			`
			if _, e := tx.Exec(ctx, pq, rec.TournamentID, userID, i+1); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert tournament history %d: %w", rec.TournamentID, err)
	}
	return nil
}
