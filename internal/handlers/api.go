// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/paddlearena/arena/internal/auth"
	"github.com/paddlearena/arena/internal/engine"
)

// HealthzHandler reports liveness plus the live match and tournament counts.
func HealthzHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "ok",
			"liveMatches":     s.Engine.LiveCount(),
			"liveTournaments": s.Orchestrator.LiveCount(),
		})
	}
}

// MatchMetaHandler returns the kind and bracket linkage of a match row, e.g.
// GET /match/meta?id=42. Used by the frontend's history view to distinguish
// tournament games from casual ones.
func MatchMetaHandler(store engine.MatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "missing or invalid id", http.StatusBadRequest)
			return
		}
		meta, err := store.GetMatchMeta(r.Context(), id)
		if err != nil {
			log.Warnf("match meta lookup failed for %d: %v", id, err)
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"matchId":           id,
			"kind":              meta.Kind,
			"tournamentMatchId": meta.TournamentMatchID,
		})
	}
}

// GuestTokenHandler issues a signed token for the user id carried in the
// request body and sets it as the auth_token cookie. Account management lives
// in the platform's user service; this endpoint exists for local development
// and integration tests.
func GuestTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			UserID int64 `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID <= 0 {
			http.Error(w, "missing or invalid userId", http.StatusBadRequest)
			return
		}
		token, err := auth.CreateJWT(body.UserID)
		if err != nil {
			log.Errorf("failed to create token for user %d: %v", body.UserID, err)
			http.Error(w, "failed to create token", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     "auth_token",
			Value:    token,
			Path:     "/",
			HttpOnly: true,
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"token": token})
	}
}
