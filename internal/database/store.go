// internal/database/store.go
package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the query methods the engine and the tournament orchestrator
// persist through. It satisfies engine.MatchStore and tournament.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a pgx pool; pass the package-level DB after ConnectDB.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
