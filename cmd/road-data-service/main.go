package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"road-data-service/internal/config"
	"road-data-service/internal/httpapi"
	"road-data-service/internal/ingest"
	"road-data-service/internal/mqtt"
	"road-data-service/internal/realtime"
	"road-data-service/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	db, err := store.OpenPostgres(
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.SSLMode,
	)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}

	repo, err := store.New(db)
	if err != nil {
		slog.Error("db init failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	hub := realtime.NewHub()
	srv := httpapi.NewServer(repo, hub)
	srv.Register(mux)

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IngestEnabled {
		client, err := mqtt.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID)
		if err != nil {
			slog.Error("mqtt connect failed", "broker", cfg.MQTTBrokerURL, "error", err)
			os.Exit(1)
		}
		defer client.Close()

		ing := &ingest.Ingestor{Repo: repo, Hub: hub, TopicPrefix: cfg.TopicPrefix}
		topic := cfg.TopicPrefix + "#"
		if err := client.Subscribe(topic, func(msg mqtt.Message) {
			ing.HandleMessage(ctx, msg)
		}); err != nil {
			slog.Error("mqtt subscribe failed", "topic", topic, "error", err)
			os.Exit(1)
		}
		slog.Info("mqtt ingest enabled", "broker", cfg.MQTTBrokerURL, "topic", topic)
	}

	go func() {
		slog.Info("road-data-service started", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
	}

	slog.Info("road-data-service stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
