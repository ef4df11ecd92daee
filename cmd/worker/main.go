package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finthenticate/server/internal/application/consume"
	"github.com/finthenticate/server/internal/config"
	amqpbridge "github.com/finthenticate/server/internal/infrastructure/amqp"
	jwtinfra "github.com/finthenticate/server/internal/infrastructure/jwt"
	redisstore "github.com/finthenticate/server/internal/infrastructure/redis"
	"github.com/finthenticate/server/internal/infrastructure/smtp"
	"github.com/finthenticate/server/internal/infrastructure/sns"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisstore.NewClient(cfg)
	if err := redisstore.Ping(ctx, rdb); err != nil {
		log.Fatalf("redis: %v", err)
	}

	bridge := amqpbridge.New(cfg, logger)
	if err := bridge.Connect(ctx); err != nil {
		log.Fatalf("broker: %v", err)
	}
	defer bridge.Close()

	mailer := smtp.NewMailer(cfg)

	// SNS SMS sender (optional, graceful fallback).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	processor := consume.NewProcessor(
		rdb,
		redisstore.NewUserRepo(rdb),
		redisstore.NewDeviceRepo(rdb, cfg.VerificationTTL),
		redisstore.NewSecurityRepo(rdb),
		redisstore.NewSessionRepo(rdb, cfg.TwoFactorTTL),
		redisstore.NewTokenRepo(rdb, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		jwtinfra.NewProvider(cfg),
		redisstore.NewEventBus(rdb, cfg.EventChannel, logger),
		mailer,
		smsSender,
		logger,
	)

	roundLock := redisstore.NewLock(rdb, "login_batch_round", 30*time.Second)
	worker := consume.NewWorker(processor, cfg.ConsumerBatchMax, cfg.ConsumerBatchWin, roundLock, logger)
	worker.Start(ctx)

	for i := 0; i < cfg.ConsumerCount; i++ {
		if err := bridge.Consume(ctx, cfg.LoginQueue, worker.Handle); err != nil {
			log.Fatalf("consumer: %v", err)
		}
	}

	log.Printf("Worker consuming %s with %d consumers (env=%s)", cfg.LoginQueue, cfg.ConsumerCount, cfg.AppEnv)
	<-ctx.Done()
	log.Println("Worker stopped")
}
