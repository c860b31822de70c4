// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) name the historian consumes
// match and tournament history records from.
var DefaultQueueName = "arena_history"

// Record type tags stamped onto queued history entries so the consumer can
// tell them apart.
const (
	RecordTypeMatch      = "match"
	RecordTypeTournament = "tournament"
)

// MatchHistoryRecord is the terminal outcome of one match, queued for the
// stats/leaderboard service.
type MatchHistoryRecord struct {
	RecordType string `json:"record_type"`

	MatchID   int64  `json:"match_id"`
	Kind      string `json:"kind"`
	Player1ID int64  `json:"player1_id"`
	Player2ID int64  `json:"player2_id"`
	WinnerID  int64  `json:"winner_id"`
	Score1    int    `json:"score1"`
	Score2    int    `json:"score2"`
	Forfeit   bool   `json:"forfeit"`
	Timestamp int64  `json:"timestamp"`
}

// TournamentHistoryRecord is the final podium of a completed tournament.
type TournamentHistoryRecord struct {
	RecordType string `json:"record_type"`

	TournamentID int64   `json:"tournament_id"`
	WinnerID     int64   `json:"winner_id"`
	Podium       []int64 `json:"podium"` // user ids, 1st through 4th
	Timestamp    int64   `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		Rdb = nil
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// PublishMatchHistory serializes the record to JSON and pushes it onto the
// history queue. Best-effort: callers log and move on if this fails.
func PublishMatchHistory(ctx context.Context, record MatchHistoryRecord) error {
	record.RecordType = RecordTypeMatch
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchHistoryRecord: %w", err)
	}
	queueName := getEnv("HISTORY_QUEUE_NAME", DefaultQueueName)
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

// PublishTournamentHistory pushes a completed tournament's podium onto the
// history queue.
func PublishTournamentHistory(ctx context.Context, record TournamentHistoryRecord) error {
	record.RecordType = RecordTypeTournament
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal TournamentHistoryRecord: %w", err)
	}
	queueName := getEnv("HISTORY_QUEUE_NAME", DefaultQueueName)
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
