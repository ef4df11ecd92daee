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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finthenticate/server/internal/config"
	redisstore "github.com/finthenticate/server/internal/infrastructure/redis"
	"github.com/finthenticate/server/internal/transport/ws"
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

	registry := ws.NewRegistry()
	server := ws.NewServer(registry, cfg.AllowedOrigins, logger)
	router := ws.NewRouter(registry, logger)

	bus := redisstore.NewEventBus(rdb, cfg.EventChannel, logger)
	events, err := bus.Subscribe(ctx)
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	go router.Run(ctx, events)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.Handle)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`, registry.Len())
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.WSPort),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Socket server starting on :%s (env=%s)", cfg.WSPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down socket server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Socket server stopped")
}
