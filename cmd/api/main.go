package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finthenticate/server/internal/application/login"
	"github.com/finthenticate/server/internal/config"
	amqpbridge "github.com/finthenticate/server/internal/infrastructure/amqp"
	jwtinfra "github.com/finthenticate/server/internal/infrastructure/jwt"
	redisstore "github.com/finthenticate/server/internal/infrastructure/redis"
	"github.com/finthenticate/server/internal/pkg/password"
	transporthttp "github.com/finthenticate/server/internal/transport/http"
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

	accumulator := login.NewAccumulator(bridge, cfg.LoginQueue, cfg.BatchMaxSize, cfg.BatchDebounce, logger)
	defer accumulator.Close()

	deps := &transporthttp.Deps{
		RDB:         rdb,
		Users:       redisstore.NewUserRepo(rdb),
		Attempts:    redisstore.NewAttemptRepo(rdb, cfg.LoginWindow, cfg.MaxLoginAttempts),
		Devices:     redisstore.NewDeviceRepo(rdb, cfg.VerificationTTL),
		Security:    redisstore.NewSecurityRepo(rdb),
		Sessions:    redisstore.NewSessionRepo(rdb, cfg.TwoFactorTTL),
		Tokens:      redisstore.NewTokenRepo(rdb, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		Events:      redisstore.NewEventBus(rdb, cfg.EventChannel, logger),
		Accumulator: accumulator,
		Verifier:    password.NewVerifier(0, 0),
		JWTProvider: jwtinfra.NewProvider(cfg),
		Logger:      logger,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("API starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
