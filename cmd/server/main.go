// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/paddlearena/arena/internal/auth"
	"github.com/paddlearena/arena/internal/cache"
	"github.com/paddlearena/arena/internal/database"
	"github.com/paddlearena/arena/internal/engine"
	"github.com/paddlearena/arena/internal/handlers"
	"github.com/paddlearena/arena/internal/middleware"
	"github.com/paddlearena/arena/internal/session"
	"github.com/paddlearena/arena/internal/tournament"
)

func main() {
	auth.Init()
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// Redis is optional: without it history records are simply not queued.
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, history publishing disabled: %v", err)
	}

	store := database.NewStore(database.DB)
	registry := session.NewRegistry()
	eng := engine.NewEngine(store, registry)
	orch := tournament.NewOrchestrator(store, eng, registry)

	// Match results flow into the bracket; socket loss flows into forfeit
	// grace timers.
	eng.OnMatchComplete = orch.HandleMatchComplete
	registry.OnDisconnect = eng.HandleDisconnect

	srv := handlers.NewServer(eng, orch, registry)

	mux := http.NewServeMux()

	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.WSHandler(logger, srv),
	)))
	mux.Handle("/match/meta", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.MatchMetaHandler(store),
	)))
	mux.Handle("/auth/guest", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GuestTokenHandler(),
	)))
	mux.HandleFunc("/healthz", handlers.HealthzHandler(srv))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
