package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/suPer8Hu/fitmate-chat/internal/ai"
	"github.com/suPer8Hu/fitmate-chat/internal/chat"
	"github.com/suPer8Hu/fitmate-chat/internal/config"
	"github.com/suPer8Hu/fitmate-chat/internal/db"
	"github.com/suPer8Hu/fitmate-chat/internal/logging"
	"github.com/suPer8Hu/fitmate-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/fitmate-chat/internal/store/redisstore"
	"github.com/suPer8Hu/fitmate-chat/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", "worker"))

	if cfg.RabbitURL == "" {
		logger.Fatal("RABBIT_URL is required")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	repo := chat.NewRepo(gdb)

	provider := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	opts := []chat.Option{
		chat.WithDefaultProvider(provider, ai.DefaultModel(cfg, provider)),
		chat.WithLogger(logger),
	}
	// titles change the list, so the API's cached copy must be dropped
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ListCacheTTL)
		defer rds.Close()
		opts = append(opts, chat.WithListCache(rds))
	}
	svc := chat.NewService(repo, ai.RegistryFromConfig(cfg), cfg.ChatContextWindowSize, opts...)

	// strict concurrency control
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, cfg.JobRetryDelay)
	if err != nil {
		logger.Fatal("rabbit consumer", zap.Error(err))
	}
	defer consumer.Close()

	deliveries, err := consumer.Deliveries()
	if err != nil {
		logger.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("max_attempts", cfg.JobMaxAttempts))

	processor := worker.NewProcessor(repo, svc, logger)
	pool := worker.NewPool(processor, consumer, cfg.WorkerConcurrency, cfg.JobMaxAttempts, logger)
	pool.Run(ctx, deliveries)
}
