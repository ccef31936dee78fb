// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds every tunable of the server.
type Config struct {
	Addr      string
	LogLevel  log.Level
	JWTSecret string
	JWTIssuer string

	DatabaseURL   string
	DBMaxConns    int32
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	DisconnectGrace time.Duration
	RevealDelay     time.Duration
	IdleRoomTimeout time.Duration
	SweepInterval   time.Duration
	AbuseThreshold  int
	HistoryTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Load reads .env (if present) then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Config: could not read .env: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		Addr:          p.str("ADDR", ":8080"),
		JWTSecret:     p.str("JWT_SECRET", ""),
		JWTIssuer:     p.str("JWT_ISSUER", ""),
		DatabaseURL:   p.str("DATABASE_URL", ""),
		DBMaxConns:    int32(p.integer("DB_MAX_CONNS", 10)),
		RedisAddr:     p.str("REDIS_ADDR", ""),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		RedisDB:       p.integer("REDIS_DB", 0),
		NATSURL:       p.str("NATS_URL", ""),

		DisconnectGrace: p.duration("DISCONNECT_GRACE", 30*time.Second),
		RevealDelay:     p.duration("REVEAL_DELAY", time.Second),
		IdleRoomTimeout: p.duration("IDLE_ROOM_TIMEOUT", 10*time.Minute),
		SweepInterval:   p.duration("SWEEP_INTERVAL", time.Minute),
		AbuseThreshold:  p.integer("ABUSE_THRESHOLD", 5),
		HistoryTimeout:  p.duration("HISTORY_TIMEOUT", 10*time.Second),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if origins := p.str("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	level, err := log.ParseLevel(p.str("LOG_LEVEL", "info"))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if cfg.JWTSecret == "" {
		p.errs = append(p.errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.DisconnectGrace <= 0 || cfg.IdleRoomTimeout <= 0 || cfg.SweepInterval <= 0 {
		p.errs = append(p.errs, errors.New("timeouts must be positive"))
	}
	if cfg.AbuseThreshold < 1 {
		p.errs = append(p.errs, errors.New("ABUSE_THRESHOLD must be at least 1"))
	}
	if len(p.errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %w", errors.Join(p.errs...))
	}
	return cfg, nil
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := p.getenv(key); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
