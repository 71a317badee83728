package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"attendance/internal/attendance"
	"attendance/internal/config"
	"attendance/internal/queue"
	"attendance/internal/store"
)

// Worker consumes recorded-attendance events and busts cached dashboard
// rollups so stats reads stay fresh without recomputing on every write.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:events")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.EventRecorded {
			continue
		}

		deleted, err := redisClient.DeleteByPattern(ctx, attendance.DashboardCachePrefix+"*")
		if err != nil {
			log.Printf("cache bust failed for record %s: %v", msg.RecordID, err)
			continue
		}
		log.Printf("record %s (user %s, day %s): dropped %d cached rollups", msg.RecordID, msg.UserID, msg.Day, deleted)
	}

	log.Println("worker stopped")
}
