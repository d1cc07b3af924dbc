package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/xiello/qrchek/internal/config"
	"github.com/xiello/qrchek/internal/logging"
	"github.com/xiello/qrchek/internal/notify"
	"github.com/xiello/qrchek/internal/queue"
	"github.com/xiello/qrchek/internal/store"
)

// Worker consumes auto-checkout events from redis and notifies employees.
func main() {
	cfg := config.Load()

	logger, err := logging.Init(logging.ConfigFromEnv("worker"))
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("invalid config", "error", err)
	}
	if cfg.QueueBackend != "redis" {
		sugar.Fatalw("worker needs QUEUE_BACKEND=redis; the api drains in-memory queues itself")
	}

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		sugar.Warnw("redis not reachable, consumer will retry", "addr", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(rdb.Client, cfg.QueueKey)
	if err := notify.New(q, sugar.Named("notify")).Run(ctx); err != nil {
		sugar.Fatalw("queue consume failed", "error", err)
	}
	sugar.Infow("worker stopped")
}
