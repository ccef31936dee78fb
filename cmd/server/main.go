package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/memora/internal/abuse"
	"github.com/jason-s-yu/memora/internal/auth"
	"github.com/jason-s-yu/memora/internal/bridge"
	"github.com/jason-s-yu/memora/internal/cache"
	"github.com/jason-s-yu/memora/internal/config"
	"github.com/jason-s-yu/memora/internal/database"
	"github.com/jason-s-yu/memora/internal/events"
	"github.com/jason-s-yu/memora/internal/handlers"
	"github.com/jason-s-yu/memora/internal/history"
	"github.com/jason-s-yu/memora/internal/registry"
	"github.com/jason-s-yu/memora/internal/retry"
	"github.com/jason-s-yu/memora/internal/timers"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := timers.New()
	if err != nil {
		log.Fatalf("Scheduler: %v", err)
	}

	regCfg := registry.Config{
		Scheduler:   sched,
		RevealDelay: cfg.RevealDelay,
		IdleTimeout: cfg.IdleRoomTimeout,
	}
	deps := handlers.Deps{
		Verifier:       auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		AllowedOrigins: cfg.AllowedOrigins,
	}

	var blockCache abuse.BlockCache
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Redis: %v", err)
		}
		defer rdb.Close()
		regCfg.Actions = cache.NewActionPublisher(rdb)
		blockCache = cache.NewBlockCache(rdb)
	} else {
		log.Warn("REDIS_ADDR not set; game actions are not logged")
	}

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			log.Fatalf("Database: %v", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("Database migration: %v", err)
		}

		matches := database.NewMatchHistoryRepository(pool)
		monitor := abuse.NewMonitor(database.NewBlockRepository(pool), blockCache, cfg.AbuseThreshold)
		defer monitor.Wait()

		regCfg.History = history.NewRecorder(matches).WithRetry(retry.DefaultAttempts, retry.DefaultBackoff, cfg.HistoryTimeout)
		regCfg.Abuse = monitor
		deps.History = matches
		deps.Abuse = monitor
	} else {
		log.Warn("DATABASE_URL not set; match history and blocking are disabled")
	}

	publisher, err := events.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("NATS: %v", err)
	}
	defer publisher.Close()
	regCfg.Events = publisher

	br := bridge.New(bridge.Config{Scheduler: sched, Grace: cfg.DisconnectGrace})
	regCfg.Bridge = br
	reg := registry.New(regCfg)
	if err := reg.StartSweeper(cfg.SweepInterval); err != nil {
		log.Fatalf("Sweeper: %v", err)
	}
	deps.Registry = reg
	deps.Bridge = br

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.New(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := reg.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Registry shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Warnf("Scheduler shutdown: %v", err)
	}
}
