package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/suPer8Hu/fitmate-chat/internal/ai"
	"github.com/suPer8Hu/fitmate-chat/internal/chat"
	"github.com/suPer8Hu/fitmate-chat/internal/config"
	"github.com/suPer8Hu/fitmate-chat/internal/db"
	"github.com/suPer8Hu/fitmate-chat/internal/httpapi"
	"github.com/suPer8Hu/fitmate-chat/internal/logging"
	"github.com/suPer8Hu/fitmate-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/fitmate-chat/internal/store/redisstore"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Provider registry (route by conversation.Provider + conversation.Model)
	reg := ai.RegistryFromConfig(cfg)
	provider := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if !slices.Contains(reg.Names(), provider) {
		logger.Fatal("unsupported AI_PROVIDER", zap.String("provider", cfg.AIProvider), zap.Strings("known", reg.Names()))
	}

	opts := []chat.Option{
		chat.WithDefaultProvider(provider, ai.DefaultModel(cfg, provider)),
		chat.WithLogger(logger),
	}

	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ListCacheTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rds.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, conversation list cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rds.Close()
		} else {
			defer rds.Close()
			opts = append(opts, chat.WithListCache(rds))
		}
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Warn("rabbitmq unavailable, title jobs disabled", zap.Error(err))
		} else {
			defer pub.Close()
			opts = append(opts, chat.WithJobPublisher(pub))
		}
	}

	svc := chat.NewService(chat.NewRepo(gdb), reg, cfg.ChatContextWindowSize, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(gdb, cfg, svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.HTTPAddr), zap.String("provider", provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
