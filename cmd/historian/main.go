// cmd/historian/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/paddlearena/arena/internal/cache"
	"github.com/paddlearena/arena/internal/database"
	"github.com/paddlearena/arena/internal/historian"
)

func main() {
	database.ConnectDB()
	if err := cache.ConnectRedis(); err != nil {
		log.Fatalf("historian requires redis: %v", err)
	}

	h := historian.New(cache.Rdb, database.DB, os.Getenv("HISTORY_QUEUE_NAME"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h.Run(ctx)
}
