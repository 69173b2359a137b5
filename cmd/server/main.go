package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-bridge/backend/internal/config"
	"chat-bridge/backend/internal/db"
	"chat-bridge/backend/internal/logging"
	"chat-bridge/backend/internal/netclient/whatsapp"
	"chat-bridge/backend/internal/notifier"
	"chat-bridge/backend/internal/orchestrator"
	"chat-bridge/backend/internal/pairing"
	"chat-bridge/backend/internal/ratelimit"
	"chat-bridge/backend/internal/server"
	"chat-bridge/backend/internal/session/repository"
	"chat-bridge/backend/internal/telemetry"
	otelsetup "chat-bridge/backend/internal/telemetry/otel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, "chat-bridge", cfg.OTLPInsecure)
	if err != nil {
		log.Error("telemetry setup", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("chat-bridge"))
	if err != nil {
		log.Error("metrics setup", "error", err)
		os.Exit(1)
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	sessions := repository.NewPostgresRepository(sqlDB)

	var counters ratelimit.CounterStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		counters = ratelimit.NewRedisStore(rdb)
		log.Info("rate limit counters in redis", "addr", cfg.RedisAddr)
	} else {
		counters = ratelimit.NewMemoryStore()
		log.Warn("rate limit counters in memory; limits reset on restart and do not share across replicas")
	}
	guard := ratelimit.NewGuard(counters, ratelimit.DefaultLimits(), log)

	events := notifier.New(log)

	factory, err := whatsapp.NewFactory(ctx, cfg.NetworkDSN(), log)
	if err != nil {
		log.Error("network client store", "error", err)
		os.Exit(1)
	}

	pairingHandler := pairing.NewHandler(sessions, events, cfg.PairingRefresh(), log)
	mgr := orchestrator.NewManager(sessions, factory, pairingHandler, events, guard,
		metrics, cfg.SendTimeoutDuration(), log)
	sup := orchestrator.NewSupervisor(mgr, cfg.ReconnectDelayDuration(), cfg.RestoreConcurrency, log)

	// Restore previously-connected sessions in the background so a slow pairing
	// handshake does not delay serving.
	go func() {
		if err := sup.RestoreAll(ctx); err != nil {
			log.Error("session restore", "error", err)
		}
	}()

	api := server.New(mgr, sessions, guard, events, sqlDB,
		server.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		cfg.AllowedOriginsList(), log)

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     api.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("http server", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}

	// Stop retries first, then drop handles without touching persisted status:
	// sessions that were connected restore on the next startup.
	sup.Shutdown()
	mgr.ShutdownAll()

	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("telemetry shutdown", "error", err)
	}
	log.Info("stopped")
}
